package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"sos/internal/oracle/dispatch"
	"sos/internal/oracle/service"
	registryservice "sos/internal/registry/service"
	registrymemory "sos/internal/registry/store/memory"
	tokenservice "sos/internal/token/service"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	"sos/pkg/platform/middleware/auth"
	"sos/pkg/platform/tx"
	"sos/pkg/testutil"
)

var (
	owner      = testutil.Account(0x01)
	stranger   = testutil.Account(0x03)
	governor   = testutil.Account(0x90)
	oracleNode = testutil.Account(0x0a)
)

type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if !common.IsHexAddress(token) {
		return nil, errors.New("invalid token")
	}
	return &auth.JWTClaims{Account: common.HexToAddress(token)}, nil
}

type OracleHandlerSuite struct {
	suite.Suite
	service *service.Service
	router  *chi.Mux
}

func TestOracleHandlerSuite(t *testing.T) {
	suite.Run(t, new(OracleHandlerSuite))
}

func (s *OracleHandlerSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := tx.NewLedger()
	registry := registryservice.New(owner, ledger, registrymemory.New())
	s.Require().NoError(registry.Register(ctx, owner, domain.NameGovernor, governor))

	s.service = service.New(testutil.Account(0xc0), owner, ledger, registry, tokenservice.New(ledger), dispatch.NewMemory(4),
		service.WithLogger(logger),
		service.WithOracle(oracleNode, domain.MustName("JOB"), nil),
	)
	s.router = chi.NewRouter()
	New(s.service, logger, tokenValidator{}).Register(s.router)
}

func (s *OracleHandlerSuite) authed(method, path string, body any, caller common.Address) *http.Request {
	r := testutil.NewJSONRequest(s.T(), method, path, body)
	r.Header.Set("Authorization", "Bearer "+caller.Hex())
	return r
}

func (s *OracleHandlerSuite) TestConfigure() {
	fee, job := "99", "NEW_JOB_ID"

	rr := testutil.DoRequest(s.router, s.authed(http.MethodPut, "/oracle/", configureRequest{Fee: &fee, JobID: &job}, owner))
	testutil.AssertStatusOK(s.T(), rr)
	got := testutil.UnmarshalResponse[configResponse](s.T(), rr)
	s.Equal("99", got.Fee)
	s.Equal("NEW_JOB_ID", got.JobID)
	s.Equal(oracleNode.Hex(), got.Oracle)

	rr = testutil.DoRequest(s.router, s.authed(http.MethodPut, "/oracle/", configureRequest{Fee: &fee}, stranger))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeMissingRole))

	bad := "ten"
	rr = testutil.DoRequest(s.router, s.authed(http.MethodPut, "/oracle/", configureRequest{Fee: &bad}, owner))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
}

func (s *OracleHandlerSuite) TestFulfill() {
	ctx := context.Background()
	id, err := s.service.RequestBytes(ctx, governor, domain.Name{}, 1, 0, []byte("packed"))
	s.Require().NoError(err)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/oracle/pending"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Len(*testutil.UnmarshalResponse[[]pendingDTO](s.T(), rr), 1)

	zero := "0x" + common.Bytes2Hex(make([]byte, 32))
	rr = testutil.DoRequest(s.router, s.authed(http.MethodPost, "/oracle/fulfill", fulfillRequest{ID: id.Hex(), Payload: zero}, stranger))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, string(dErrors.CodeNotAllowed))

	rr = testutil.DoRequest(s.router, s.authed(http.MethodPost, "/oracle/fulfill", fulfillRequest{ID: id.Hex(), Payload: zero}, oracleNode))
	testutil.AssertStatusOK(s.T(), rr)
	s.False(testutil.UnmarshalResponse[fulfillResponse](s.T(), rr).Passed)

	rr = testutil.DoRequest(s.router, s.authed(http.MethodPost, "/oracle/fulfill", fulfillRequest{ID: "0x01", Payload: zero}, oracleNode))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeValidation))
}
