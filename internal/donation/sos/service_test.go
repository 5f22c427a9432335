package sos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	fundmodels "sos/internal/fund/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/audit/publisher"
	auditmemory "sos/pkg/platform/audit/store/memory"
	"sos/pkg/platform/tx"
)

var (
	collection = common.HexToAddress("0x0000000000000000000000000000000000005050")
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	minter     = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	donor      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	asset      = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

type fundMetaStub map[domain.FundID]fundmodels.Meta

func (f fundMetaStub) GetMeta(_ context.Context, id domain.FundID) (fundmodels.Meta, error) {
	m, ok := f[id]
	if !ok {
		return fundmodels.Meta{}, dErrors.New(dErrors.CodeNotFound, "fund not found")
	}
	return m, nil
}

type SOSServiceSuite struct {
	suite.Suite
	ctx     context.Context
	service *Service
	events  *auditmemory.InMemoryStore
}

func TestSOSServiceSuite(t *testing.T) {
	suite.Run(t, new(SOSServiceSuite))
}

func (s *SOSServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.events = auditmemory.NewInMemoryStore()
	funds := fundMetaStub{0: {Name: "Flood relief", Focus: "Disaster", Description: "Rebuild homes"}}
	s.service = New(collection, admin, minter, tx.NewLedger(), funds, NewDescriptor(common.HexToAddress("0xde5c")),
		WithAuditPublisher(publisher.NewPublisher(s.events)),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }),
	)
}

func (s *SOSServiceSuite) TestMint() {
	s.Run("minter issues dense ids", func() {
		first, err := s.service.Mint(s.ctx, minter, donor, 0, asset, big.NewInt(10))
		s.Require().NoError(err)
		second, err := s.service.Mint(s.ctx, minter, donor, 0, asset, big.NewInt(5))
		s.Require().NoError(err)

		s.Equal(uint64(0), first)
		s.Equal(uint64(1), second)
		s.Equal(uint64(2), s.service.BalanceOf(s.ctx, donor))
		s.Equal([]uint64{0, 1}, s.service.TokensOf(s.ctx, donor))

		owner, err := s.service.OwnerOf(s.ctx, 1)
		s.Require().NoError(err)
		s.Equal(donor, owner)

		all, err := s.events.ListAll(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal(string(audit.EventSOSMinted), all[0].Action)
	})

	s.Run("caller without minter role is rejected", func() {
		_, err := s.service.Mint(s.ctx, donor, donor, 0, asset, big.NewInt(1))
		var missing *domain.MissingRoleError
		s.Require().ErrorAs(err, &missing)
		s.Equal(domain.RoleMinter, missing.Role)
	})

	s.Run("zero recipient is invalid", func() {
		_, err := s.service.Mint(s.ctx, minter, common.Address{}, 0, asset, big.NewInt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown token is not found", func() {
		_, err := s.service.OwnerOf(s.ctx, 99)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *SOSServiceSuite) TestTokenURI() {
	id, err := s.service.Mint(s.ctx, minter, donor, 0, asset, big.NewInt(42))
	s.Require().NoError(err)

	uri, err := s.service.TokenURI(s.ctx, id)
	s.Require().NoError(err)
	s.Require().True(strings.HasPrefix(uri, "data:application/json;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:application/json;base64,"))
	s.Require().NoError(err)
	var meta Metadata
	s.Require().NoError(json.Unmarshal(raw, &meta))
	s.Equal("SOS Chain", meta.Name)
	s.Equal("SOS Chain Donation NFT", meta.Description)
	s.Contains(meta.Attributes, attribute{TraitType: "fund", Value: "Flood relief"})
	s.Contains(meta.Attributes, attribute{TraitType: "amount", Value: "42"})
	s.Contains(meta.Attributes, attribute{TraitType: "minted_at", Value: "2024-03-01T12:00:00Z"})
}

func (s *SOSServiceSuite) TestRoles() {
	other := common.HexToAddress("0x0f")

	s.Run("admin grants minter", func() {
		s.Require().NoError(s.service.GrantRole(s.ctx, admin, domain.RoleMinter, other))
		s.NoError(s.service.CanMint(other))
	})

	s.Run("admin revokes minter", func() {
		s.Require().NoError(s.service.RevokeRole(s.ctx, admin, domain.RoleMinter, other))
		s.Error(s.service.CanMint(other))
	})

	s.Run("non admin cannot grant", func() {
		err := s.service.GrantRole(s.ctx, donor, domain.RoleMinter, donor)
		s.True(dErrors.HasCode(err, dErrors.CodeMissingRole))
	})
}

func (s *SOSServiceSuite) TestMintRolledBackWithLedger() {
	_, err := s.service.Mint(s.ctx, minter, donor, 0, asset, big.NewInt(10))
	s.Require().NoError(err)

	boom := dErrors.New(dErrors.CodeInternal, "later step failed")
	err = s.service.ledger.RunInTx(s.ctx, func(ctx context.Context) error {
		_, err := s.service.Mint(ctx, minter, donor, 0, asset, big.NewInt(5))
		s.Require().NoError(err)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	s.Equal(uint64(1), s.service.TotalSupply(s.ctx))
	s.Equal(uint64(1), s.service.BalanceOf(s.ctx, donor))
	_, err = s.service.Token(s.ctx, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	events, err := s.events.ListBySubject(s.ctx, collection.Hex())
	s.Require().NoError(err)
	s.Len(events, 1)

	next, err := s.service.Mint(s.ctx, minter, donor, 0, asset, big.NewInt(5))
	s.Require().NoError(err)
	s.Equal(uint64(1), next)
}
