package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	auditmemory "sos/pkg/platform/audit/store/memory"
	"sos/pkg/platform/audit/publisher"
	"sos/pkg/platform/tx"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	donor   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	safe    = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

type TokenServiceSuite struct {
	suite.Suite
	ctx     context.Context
	service *Service
	events  *auditmemory.InMemoryStore
	token   common.Address
}

func TestTokenServiceSuite(t *testing.T) {
	suite.Run(t, new(TokenServiceSuite))
}

func (s *TokenServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.events = auditmemory.NewInMemoryStore()
	s.service = New(tx.NewLedger(), WithAuditPublisher(publisher.NewPublisher(s.events)))

	var err error
	s.token, err = s.service.Deploy(s.ctx, owner, "Basic", "BSC", 18, big.NewInt(1_000_000))
	s.Require().NoError(err)
}

func (s *TokenServiceSuite) TestDeploy() {
	s.Run("credits initial supply to the deployer", func() {
		bal, err := s.service.BalanceOf(s.ctx, s.token, owner)
		s.Require().NoError(err)
		s.Equal(int64(1_000_000), bal.Int64())
	})

	s.Run("derives distinct addresses per deployment", func() {
		second, err := s.service.Deploy(s.ctx, owner, "Link", "LINK", 18, nil)
		s.Require().NoError(err)
		s.NotEqual(s.token, second)
	})

	s.Run("rejects empty symbol", func() {
		_, err := s.service.Deploy(s.ctx, owner, "Broken", "", 18, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown token is not found", func() {
		_, err := s.service.BalanceOf(s.ctx, common.HexToAddress("0xdead"), owner)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *TokenServiceSuite) TestTransferFrom() {
	s.Require().NoError(s.service.Transfer(s.ctx, owner, s.token, donor, big.NewInt(12)))

	s.Run("insufficient allowance is reported before balance", func() {
		err := s.service.TransferFrom(s.ctx, spender, s.token, donor, safe, big.NewInt(500))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientAllowance))
		s.Contains(err.Error(), "ERC20: insufficient allowance")
	})

	s.Run("insufficient balance after allowance", func() {
		s.Require().NoError(s.service.Approve(s.ctx, donor, s.token, spender, big.NewInt(500)))
		err := s.service.TransferFrom(s.ctx, spender, s.token, donor, safe, big.NewInt(500))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("moves funds and spends allowance", func() {
		s.Require().NoError(s.service.Approve(s.ctx, donor, s.token, spender, big.NewInt(12)))
		s.Require().NoError(s.service.CheckTransferFrom(s.ctx, spender, s.token, donor, safe, big.NewInt(12)))
		s.Require().NoError(s.service.TransferFrom(s.ctx, spender, s.token, donor, safe, big.NewInt(12)))

		bal, _ := s.service.BalanceOf(s.ctx, s.token, safe)
		s.Equal(int64(12), bal.Int64())
		left, _ := s.service.Allowance(s.ctx, s.token, donor, spender)
		s.Zero(left.Sign())
	})
}

func (s *TokenServiceSuite) TestMint() {
	s.Run("owner mints", func() {
		s.Require().NoError(s.service.Mint(s.ctx, owner, s.token, donor, big.NewInt(5)))
		info, err := s.service.Info(s.ctx, s.token)
		s.Require().NoError(err)
		s.Equal("1000005", info.TotalSupply)
	})

	s.Run("others are rejected", func() {
		err := s.service.Mint(s.ctx, donor, s.token, donor, big.NewInt(5))
		s.True(dErrors.HasCode(err, dErrors.CodeMissingRole))
		var missing *domain.MissingRoleError
		s.ErrorAs(err, &missing)
	})
}

func (s *TokenServiceSuite) TestEvents() {
	s.Require().NoError(s.service.Transfer(s.ctx, owner, s.token, donor, big.NewInt(1)))
	events, err := s.events.ListBySubject(s.ctx, s.token.Hex())
	s.Require().NoError(err)
	s.Require().NotEmpty(events)
	s.Equal(string(audit.EventTransfer), events[len(events)-1].Action)
}

func (s *TokenServiceSuite) TestRollback() {
	before, err := s.events.ListBySubject(s.ctx, s.token.Hex())
	s.Require().NoError(err)
	boom := dErrors.New(dErrors.CodeInternal, "later step failed")
	var temp common.Address

	err = s.service.ledger.RunInTx(s.ctx, func(ctx context.Context) error {
		s.Require().NoError(s.service.Approve(ctx, owner, s.token, spender, big.NewInt(50)))
		s.Require().NoError(s.service.TransferFrom(ctx, spender, s.token, owner, safe, big.NewInt(40)))
		s.Require().NoError(s.service.Mint(ctx, owner, s.token, donor, big.NewInt(7)))
		var err error
		temp, err = s.service.Deploy(ctx, owner, "Temp", "TMP", 18, big.NewInt(1))
		s.Require().NoError(err)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	s.Run("balances and allowances are restored", func() {
		bal, err := s.service.BalanceOf(s.ctx, s.token, owner)
		s.Require().NoError(err)
		s.Equal(int64(1_000_000), bal.Int64())
		bal, err = s.service.BalanceOf(s.ctx, s.token, safe)
		s.Require().NoError(err)
		s.Zero(bal.Sign())
		allowance, err := s.service.Allowance(s.ctx, s.token, owner, spender)
		s.Require().NoError(err)
		s.Zero(allowance.Sign())
		info, err := s.service.Info(s.ctx, s.token)
		s.Require().NoError(err)
		s.Equal("1000000", info.TotalSupply)
	})

	s.Run("the rolled back deployment is forgotten and its address reused", func() {
		_, err := s.service.Info(s.ctx, temp)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		again, err := s.service.Deploy(s.ctx, owner, "Link", "LINK", 18, nil)
		s.Require().NoError(err)
		s.Equal(temp, again)
	})

	s.Run("no events are published", func() {
		after, err := s.events.ListBySubject(s.ctx, s.token.Hex())
		s.Require().NoError(err)
		s.Len(after, len(before))
	})
}
