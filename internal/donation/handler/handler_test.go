package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"sos/internal/donation/service"
	"sos/internal/donation/sos"
	fundmodels "sos/internal/fund/models"
	fundservice "sos/internal/fund/service"
	fundmemory "sos/internal/fund/store/memory"
	registryservice "sos/internal/registry/service"
	registrymemory "sos/internal/registry/store/memory"
	safeservice "sos/internal/safe/service"
	tokenservice "sos/internal/token/service"
	"sos/pkg/domain"
	"sos/pkg/platform/middleware/auth"
	"sos/pkg/platform/tx"
	"sos/pkg/testutil"
)

var (
	deployer     = testutil.Account(0x01)
	donor        = testutil.Account(0x03)
	safeAddr     = testutil.Account(0x5a)
	managerAddr  = testutil.Account(0xf0)
	donationAddr = testutil.Account(0xd0)
	sosAddr      = testutil.Account(0x50)
)

type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if !common.IsHexAddress(token) {
		return nil, errors.New("invalid token")
	}
	return &auth.JWTClaims{Account: common.HexToAddress(token)}, nil
}

type DonationHandlerSuite struct {
	suite.Suite
	router *chi.Mux
	token  common.Address
}

func TestDonationHandlerSuite(t *testing.T) {
	suite.Run(t, new(DonationHandlerSuite))
}

func (s *DonationHandlerSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := tx.NewLedger()

	registry := registryservice.New(deployer, ledger, registrymemory.New())
	s.Require().NoError(registry.BatchRegister(ctx, deployer,
		[]domain.Name{domain.NameFundManager, domain.NameDonation, domain.NameSOS},
		[]common.Address{managerAddr, donationAddr, sosAddr},
	))
	tokens := tokenservice.New(ledger)
	funds := fundservice.New(managerAddr, ledger, fundmemory.New(), registry, safeservice.New(testutil.Account(0xfa), ledger), tokens)
	collection := sos.New(sosAddr, deployer, donationAddr, ledger, funds, sos.NewDescriptor(testutil.Account(0xde)))
	svc := service.New(donationAddr, ledger, registry, funds, tokens, collection, service.WithLogger(logger))

	var err error
	s.token, err = tokens.Deploy(ctx, deployer, "Basic", "BSC", 18, big.NewInt(1_000_000))
	s.Require().NoError(err)
	s.Require().NoError(tokens.Transfer(ctx, deployer, s.token, donor, big.NewInt(100)))
	s.Require().NoError(tokens.Approve(ctx, donor, s.token, donationAddr, big.NewInt(60)))
	_, err = funds.CreateFund(ctx, deployer, fundmodels.Params{
		Meta:          fundmodels.Meta{Name: "Relief", Focus: "Flood"},
		Safe:          safeAddr,
		AllowedTokens: []common.Address{s.token},
	})
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(svc, collection, logger, tokenValidator{}).Register(s.router)
}

func (s *DonationHandlerSuite) donate(amount string) *http.Request {
	r := testutil.NewJSONRequest(s.T(), http.MethodPost, "/donations/", donateRequest{FundID: 0, Token: s.token.Hex(), Amount: amount})
	r.Header.Set("Authorization", "Bearer "+donor.Hex())
	return r
}

func (s *DonationHandlerSuite) TestDonate() {
	t := s.T()

	s.Run("requires authentication", func() {
		r := testutil.NewJSONRequest(t, http.MethodPost, "/donations/", donateRequest{Token: s.token.Hex(), Amount: "1"})
		rr := testutil.DoRequest(s.router, r)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	s.Run("donates and returns the SOS token id", func() {
		rr := testutil.DoRequest(s.router, s.donate("50"))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[donateResponse](t, rr)
		s.Equal(uint64(0), resp.TokenID)
	})

	s.Run("allowance exhausted", func() {
		rr := testutil.DoRequest(s.router, s.donate("50"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "insufficient_allowance")
	})

	s.Run("malformed amount", func() {
		rr := testutil.DoRequest(s.router, s.donate("1e3"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("lists donations", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/donations/?fund_id=0"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[[]donationDTO](t, rr)
		s.Require().Len(*resp, 1)
		s.Equal("50", (*resp)[0].Amount)
		s.Equal(donor.Hex(), (*resp)[0].Donor)
	})
}

func (s *DonationHandlerSuite) TestSOS() {
	t := s.T()
	rr := testutil.DoRequest(s.router, s.donate("10"))
	testutil.AssertStatus(t, rr, http.StatusCreated)

	s.Run("token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/sos/0"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[tokenResponse](t, rr)
		s.Equal(donor.Hex(), resp.Owner)
		s.Equal("10", resp.Amount)
	})

	s.Run("uri", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/sos/0/uri"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[map[string]string](t, rr)
		s.True(strings.HasPrefix((*resp)["uri"], "data:application/json;base64,"))
	})

	s.Run("owner", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/sos/owners/"+donor.Hex()))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[ownerResponse](t, rr)
		s.Equal(uint64(1), resp.Balance)
		s.Equal([]uint64{0}, resp.Tokens)
	})

	s.Run("unknown token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/sos/9"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	s.Run("bad token id", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/sos/abc"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}
