package service

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks Store,FundReader,Registry,OracleClient,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	fundmodels "sos/internal/fund/models"
	"sos/internal/governor/metrics"
	"sos/internal/governor/mocks"
	"sos/internal/governor/models"
	"sos/internal/governor/store/memory"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
	"sos/pkg/testutil"
)

// =============================================================================
// Governor Service Test Suite
// =============================================================================
// Funds, the registry and the oracle are mocked; requests live in the
// in-memory store so approval state can be read back through the service.

var (
	governorAddr = testutil.Account(0x90)
	approver     = testutil.Account(0xa1)
	stranger     = testutil.Account(0xbb)
	consumerAddr = testutil.Account(0xc0)
	token        = testutil.Account(0xe1)
	recipient    = testutil.Account(0xb2)

	check1 = domain.MustName("TEST_CHECK_001")
	check2 = domain.MustName("TEST_CHECK_002")
	check3 = domain.MustName("TEST_CHECK_003")
)

type GovernorServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	funds     *mocks.MockFundReader
	registry  *mocks.MockRegistry
	oracle    *mocks.MockOracleClient
	publisher *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	service   *Service

	mu      sync.Mutex
	actions []string
}

func TestGovernorServiceSuite(t *testing.T) {
	suite.Run(t, new(GovernorServiceSuite))
}

func (s *GovernorServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.funds = mocks.NewMockFundReader(s.ctrl)
	s.registry = mocks.NewMockRegistry(s.ctrl)
	s.oracle = mocks.NewMockOracleClient(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.actions = nil

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.actions = append(s.actions, e.Action)
		return nil
	}).AnyTimes()

	s.service = New(governorAddr, tx.NewLedger(), memory.New(), s.funds, s.registry,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithOracle(s.oracle),
	)
}

func (s *GovernorServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GovernorServiceSuite) newFund(id domain.FundID, mutate func(*fundmodels.Params)) *fundmodels.Fund {
	p := fundmodels.Params{
		Meta:          fundmodels.Meta{Name: "Relief"},
		Safe:          testutil.Account(0x5a),
		AllowedTokens: []common.Address{token},
		Requestable:   true,
	}
	if mutate != nil {
		mutate(&p)
	}
	f, err := fundmodels.NewFund(id, testutil.Account(0xf0), approver, p, time.Now())
	s.Require().NoError(err)
	s.funds.EXPECT().GetFund(gomock.Any(), id).Return(f, nil).AnyTimes()
	return f
}

func (s *GovernorServiceSuite) input(fund domain.FundID) models.Input {
	return models.Input{
		FundID:    fund,
		Amount:    domain.MustParseUnits("1000", 18),
		Token:     token,
		Recipient: recipient,
		Location:  models.Location{Lat: big.NewInt(2561290300000), Lon: big.NewInt(1234833000000)},
	}
}

func (s *GovernorServiceSuite) createRequest(fund domain.FundID) domain.RequestID {
	id, err := s.service.CreateRequest(context.Background(), stranger, s.input(fund))
	s.Require().NoError(err)
	return id
}

func (s *GovernorServiceSuite) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.actions...)
}

func (s *GovernorServiceSuite) TestCreateRequest() {
	ctx := context.Background()

	s.Run("fund without checks gets the default checks", func() {
		s.newFund(0, nil)
		id := s.createRequest(0)

		pending, err := s.service.GetPendingChecksCount(ctx, id)
		s.Require().NoError(err)
		s.Equal(3, pending)
		remaining, err := s.service.GetRemainingChecks(ctx, id)
		s.Require().NoError(err)
		s.Equal([]domain.Name{check1, check2, check3}, remaining)
		s.Contains(s.recorded(), string(audit.EventRequestCreated))
		s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.RequestsCreated))
	})

	s.Run("fund checks are snapshotted", func() {
		s.newFund(1, func(p *fundmodels.Params) {
			p.Checks = []fundmodels.Check{{Name: domain.MustName("KYC")}}
		})
		id := s.createRequest(1)

		r, err := s.service.GetRequest(ctx, id)
		s.Require().NoError(err)
		s.Equal([]fundmodels.Check{{Name: domain.MustName("KYC")}}, r.Checks)
		s.Equal(domain.RequestID(1), id)
	})

	s.Run("rejects requests the fund cannot take", func() {
		paused := s.newFund(2, nil)
		paused.ApplyPause()
		s.newFund(3, func(p *fundmodels.Params) { p.Requestable = false })
		s.newFund(4, func(p *fundmodels.Params) { p.Whitelist = []common.Address{testutil.Account(0x77)} })

		for _, fund := range []domain.FundID{2, 3, 4} {
			_, err := s.service.CreateRequest(ctx, stranger, s.input(fund))
			s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed), "fund %d: %v", fund, err)
		}

		in := s.input(0)
		in.Token = testutil.Account(0xe9)
		_, err := s.service.CreateRequest(ctx, stranger, in)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
	})

	s.Run("rejects malformed input before touching the fund", func() {
		in := s.input(0)
		in.Amount = new(big.Int)
		_, err := s.service.CreateRequest(ctx, stranger, in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown fund is not found", func() {
		s.funds.EXPECT().GetFund(gomock.Any(), domain.FundID(99)).Return(nil, dErrors.New(dErrors.CodeNotFound, "fund not found: 99"))
		_, err := s.service.CreateRequest(ctx, stranger, s.input(99))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *GovernorServiceSuite) TestApproveCheck() {
	ctx := context.Background()
	s.newFund(0, nil)
	id := s.createRequest(0)

	s.Run("approver signs a check once", func() {
		s.Require().NoError(s.service.ApproveCheck(ctx, approver, id, check1, true))

		pending, err := s.service.GetPendingChecksCount(ctx, id)
		s.Require().NoError(err)
		s.Equal(2, pending)
		signer, err := s.service.GetSigner(ctx, id, check1)
		s.Require().NoError(err)
		s.Equal(approver, signer)

		err = s.service.ApproveCheck(ctx, approver, id, check1, true)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
		pending, err = s.service.GetPendingChecksCount(ctx, id)
		s.Require().NoError(err)
		s.Equal(2, pending)
		signer, err = s.service.GetSigner(ctx, id, check1)
		s.Require().NoError(err)
		s.Equal(approver, signer)
	})

	s.Run("callers without APPROVER_ROLE are rejected", func() {
		err := s.service.ApproveCheck(ctx, stranger, id, check2, true)
		var missing *domain.MissingRoleError
		s.Require().True(errors.As(err, &missing))
		s.Equal(domain.RoleApprover, missing.Role)
		s.Equal(stranger, missing.Account)
	})

	s.Run("unknown request and check are not found", func() {
		err := s.service.ApproveCheck(ctx, approver, 42, check2, true)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		err = s.service.ApproveCheck(ctx, approver, id, domain.MustName("NOPE"), true)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("declining leaves the request unchanged", func() {
		s.Require().NoError(s.service.ApproveCheck(ctx, approver, id, check2, false))
		pending, err := s.service.GetPendingChecksCount(ctx, id)
		s.Require().NoError(err)
		s.Equal(2, pending)
		s.Contains(s.recorded(), string(audit.EventCheckDeclined))
	})

	s.Run("last approval approves the request", func() {
		s.Require().NoError(s.service.ApproveCheck(ctx, approver, id, check2, true))
		s.NotContains(s.recorded(), string(audit.EventRequestApproved))
		s.Require().NoError(s.service.ApproveCheck(ctx, approver, id, check3, true))

		approved, signers, err := s.service.GetApprovedChecks(ctx, id)
		s.Require().NoError(err)
		s.Equal([]domain.Name{check1, check2, check3}, approved)
		s.Equal([]common.Address{approver, approver, approver}, signers)
		remaining, err := s.service.GetRemainingChecks(ctx, id)
		s.Require().NoError(err)
		s.Empty(remaining)
		s.Contains(s.recorded(), string(audit.EventRequestApproved))
		s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.RequestsApproved))
	})
}

func (s *GovernorServiceSuite) TestOracle() {
	ctx := context.Background()
	job := domain.MustName("JOB_1")
	s.newFund(0, func(p *fundmodels.Params) {
		p.Checks = []fundmodels.Check{{Name: check1}, {Name: check2, JobID: job}}
	})
	id := s.createRequest(0)

	s.Run("manual checks cannot be sent to the oracle", func() {
		err := s.service.CallOracle(ctx, approver, id, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
	})

	s.Run("automated checks dispatch the packed request", func() {
		want, err := s.service.PackRequestWithCheck(ctx, id, 1)
		s.Require().NoError(err)
		s.oracle.EXPECT().RequestBytes(gomock.Any(), governorAddr, job, id, 1, want).Return(common.HexToHash("0x01"), nil)

		s.Require().NoError(s.service.CallOracle(ctx, approver, id, 1))
		s.Contains(s.recorded(), string(audit.EventOracleCalled))
	})

	s.Run("a check already with the oracle is refused", func() {
		s.oracle.EXPECT().RequestBytes(gomock.Any(), governorAddr, job, id, 1, gomock.Any()).
			Return(common.Hash{}, dErrors.New(dErrors.CodeConflict, "request already pending"))

		err := s.service.CallOracle(ctx, approver, id, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
		s.Equal(float64(0), promtestutil.ToFloat64(s.metrics.OracleDispatches.WithLabelValues("failed")))
	})

	s.Run("dispatch failure is swallowed and counted", func() {
		s.oracle.EXPECT().RequestBytes(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(common.Hash{}, errors.New("broker down"))

		s.Require().NoError(s.service.CallOracle(ctx, approver, id, 1))
		pending, err := s.service.GetPendingChecksCount(ctx, id)
		s.Require().NoError(err)
		s.Equal(2, pending)
		s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.OracleDispatches.WithLabelValues("failed")))
	})

	s.Run("only the oracle consumer may fulfil", func() {
		s.registry.EXPECT().Get(gomock.Any(), domain.NameOracleConsumer).Return(consumerAddr, nil).AnyTimes()

		err := s.service.FulfillCheck(ctx, approver, id, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeMissingRole))

		s.Require().NoError(s.service.FulfillCheck(ctx, consumerAddr, id, 1))
		signer, err := s.service.GetSigner(ctx, id, check2)
		s.Require().NoError(err)
		s.Equal(consumerAddr, signer)

		err = s.service.FulfillCheck(ctx, consumerAddr, id, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
		err = s.service.CallOracle(ctx, approver, id, 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotAllowed))
	})
}

func (s *GovernorServiceSuite) TestRollback() {
	ctx := context.Background()
	s.newFund(0, nil)
	ledger := tx.NewLedger()
	store := memory.New()
	svc := New(governorAddr, ledger, store, s.funds, s.registry,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
	)
	boom := errors.New("boom")

	kept, err := svc.CreateRequest(ctx, stranger, s.input(0))
	s.Require().NoError(err)
	before := len(s.recorded())

	err = ledger.RunInTx(ctx, func(ctx context.Context) error {
		if err := svc.ApproveCheck(ctx, approver, kept, check1, true); err != nil {
			return err
		}
		if _, err := svc.CreateRequest(ctx, stranger, s.input(0)); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	n, err := store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	pending, err := svc.GetPendingChecksCount(ctx, kept)
	s.Require().NoError(err)
	s.Equal(3, pending)
	names, _, err := svc.GetApprovedChecks(ctx, kept)
	s.Require().NoError(err)
	s.Empty(names)
	s.Len(s.recorded(), before)

	next, err := svc.CreateRequest(ctx, stranger, s.input(0))
	s.Require().NoError(err)
	s.Equal(kept+1, next)
}
