// Package service implements the Governor: disbursement requests against a
// fund, gated by a snapshotted list of checks that approvers or an oracle
// must each sign exactly once.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	fundmodels "sos/internal/fund/models"
	"sos/internal/governor/metrics"
	"sos/internal/governor/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/sentinel"
	"sos/pkg/platform/tx"
	"sos/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, r *models.Request) error
	Save(ctx context.Context, r *models.Request) error
	Delete(ctx context.Context, id domain.RequestID) error
	FindByID(ctx context.Context, id domain.RequestID) (*models.Request, error)
	List(ctx context.Context, fund *domain.FundID) ([]*models.Request, error)
	Count(ctx context.Context) (int, error)
}

// FundReader loads funds by id, failing with NotFound for unknown ids.
type FundReader interface {
	GetFund(ctx context.Context, id domain.FundID) (*fundmodels.Fund, error)
}

type Registry interface {
	Get(ctx context.Context, name domain.Name) (common.Address, error)
}

// OracleClient forwards a packed request to an off-chain job. It returns the
// oracle's request id.
type OracleClient interface {
	RequestBytes(ctx context.Context, caller common.Address, jobID domain.Name, requestID domain.RequestID, checkIndex int, payload []byte) (common.Hash, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// DefaultChecks are applied to requests on funds that declare none.
var DefaultChecks = []domain.Name{
	domain.MustName("TEST_CHECK_001"),
	domain.MustName("TEST_CHECK_002"),
	domain.MustName("TEST_CHECK_003"),
}

type Service struct {
	address        common.Address
	ledger         *tx.Ledger
	store          Store
	funds          FundReader
	registry       Registry
	oracle         OracleClient
	defaultChecks  []fundmodels.Check
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithOracle(client OracleClient) Option {
	return func(s *Service) {
		s.oracle = client
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithDefaultChecks replaces DefaultChecks. The checks are manual.
func WithDefaultChecks(names []domain.Name) Option {
	return func(s *Service) {
		s.defaultChecks = manualChecks(names)
	}
}

func New(address common.Address, ledger *tx.Ledger, store Store, funds FundReader, registry Registry, opts ...Option) *Service {
	s := &Service{
		address:       address,
		ledger:        ledger,
		store:         store,
		funds:         funds,
		registry:      registry,
		defaultChecks: manualChecks(DefaultChecks),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("sos/internal/governor")
	}
	return s
}

func (s *Service) Address() common.Address {
	return s.address
}

// DefaultChecks returns the checks snapshotted for funds without their own.
func (s *Service) DefaultChecks() []fundmodels.Check {
	return append([]fundmodels.Check{}, s.defaultChecks...)
}

// CreateRequest files a disbursement request against an Active, requestable
// fund and snapshots the checks it must pass.
func (s *Service) CreateRequest(ctx context.Context, caller common.Address, in models.Input) (_ domain.RequestID, err error) {
	ctx, span := s.tracer.Start(ctx, "governor.CreateRequest", trace.WithAttributes(
		attribute.Int64("fund_id", int64(in.FundID)),
	))
	defer func() { endSpan(span, err) }()

	if err := in.Validate(); err != nil {
		return 0, err
	}

	var r *models.Request
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		f, err := s.funds.GetFund(ctx, in.FundID)
		if err != nil {
			return err
		}
		if err := canRequest(f, in); err != nil {
			return err
		}
		n, err := s.store.Count(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count requests")
		}
		checks := f.Checks
		if len(checks) == 0 {
			checks = s.defaultChecks
		}
		r = models.NewRequest(domain.RequestID(n), in, checks, requestcontext.Now(ctx))
		if err := s.store.Create(ctx, r); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "request id already taken")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
		}
		tx.OnRollback(ctx, func() {
			if err := s.store.Delete(context.WithoutCancel(ctx), r.ID); err != nil {
				s.logger.ErrorContext(ctx, "failed to roll back request creation", "request_id", r.ID, "error", err)
			}
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("request_id", int64(r.ID)))
	s.logger.InfoContext(ctx, "request created",
		"request_id", r.ID,
		"fund_id", r.FundID,
		"checks", len(r.Checks),
	)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: r.ID.String(),
		Action:  string(audit.EventRequestCreated),
		Details: map[string]string{
			"amount":    r.Amount.String(),
			"token":     r.Token.Hex(),
			"recipient": r.Recipient.Hex(),
		},
	}.WithFund(uint64(r.FundID)).WithRequest(uint64(r.ID)))
	if s.metrics != nil {
		s.metrics.IncrementRequestCreated(len(r.Checks))
	}
	return r.ID, nil
}

func canRequest(f *fundmodels.Fund, in models.Input) error {
	switch {
	case !f.IsActive():
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: fund is "+f.Status.String())
	case !f.Requestable:
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: fund does not accept requests")
	case !f.IsTokenAllowed(in.Token):
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: token "+in.Token.Hex()+" is not accepted by this fund")
	case !f.IsRecipientAllowed(in.Recipient):
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: recipient "+in.Recipient.Hex()+" is not whitelisted")
	}
	return nil
}

// ApproveCheck signs one check of a request. The caller needs APPROVER_ROLE
// on the request's fund. approved=false runs the same gates, records nothing
// and emits CheckDeclined.
func (s *Service) ApproveCheck(ctx context.Context, caller common.Address, id domain.RequestID, check domain.Name, approved bool) (err error) {
	ctx, span := s.tracer.Start(ctx, "governor.ApproveCheck", trace.WithAttributes(
		attribute.Int64("request_id", int64(id)),
		attribute.String("check", check.String()),
		attribute.Bool("approved", approved),
	))
	defer func() { endSpan(span, err) }()

	var r *models.Request
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		loaded, err := s.getRequest(ctx, id)
		if err != nil {
			return err
		}
		f, err := s.funds.GetFund(ctx, loaded.FundID)
		if err != nil {
			return err
		}
		if err := f.Roles.Require(domain.RoleApprover, caller); err != nil {
			return err
		}
		index, err := loaded.CheckIndex(check)
		if err != nil {
			return err
		}
		if err := loaded.CanApprove(index); err != nil {
			return err
		}
		r = loaded
		if !approved {
			return nil
		}
		prev := loaded.Clone()
		loaded.ApplyApprove(index, caller)
		return s.save(ctx, prev, loaded)
	})
	if err != nil {
		return err
	}

	if !approved {
		s.logger.InfoContext(ctx, "check declined",
			"request_id", id,
			"check", check.String(),
			"approver", caller.Hex(),
		)
		s.emit(ctx, audit.Event{
			Actor:   caller,
			Subject: id.String(),
			Action:  string(audit.EventCheckDeclined),
			Details: map[string]string{"check": check.String()},
		}.WithFund(uint64(r.FundID)).WithRequest(uint64(id)))
		if s.metrics != nil {
			s.metrics.CheckDeclines.Inc()
		}
		return nil
	}
	s.signed(ctx, caller, r, check, "approver")
	return nil
}

// CallOracle hands an automated check to the oracle consumer. Dispatch
// failures are logged and counted; the request is never changed here. A
// check already waiting on the oracle is NotAllowed, so its fee is paid once.
func (s *Service) CallOracle(ctx context.Context, caller common.Address, id domain.RequestID, checkIndex int) (err error) {
	ctx, span := s.tracer.Start(ctx, "governor.CallOracle", trace.WithAttributes(
		attribute.Int64("request_id", int64(id)),
		attribute.Int("check_index", checkIndex),
	))
	defer func() { endSpan(span, err) }()

	var (
		r           *models.Request
		check       fundmodels.Check
		oracleID    common.Hash
		dispatchErr error
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		loaded, err := s.getRequest(ctx, id)
		if err != nil {
			return err
		}
		f, err := s.funds.GetFund(ctx, loaded.FundID)
		if err != nil {
			return err
		}
		if err := f.Roles.Require(domain.RoleApprover, caller); err != nil {
			return err
		}
		if err := loaded.CanApprove(checkIndex); err != nil {
			return err
		}
		r, check = loaded, loaded.Checks[checkIndex]
		if !check.IsAutomated() {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: check "+check.Name.String()+" is not automated")
		}
		if s.oracle == nil {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: no oracle consumer configured")
		}
		payload, err := models.PackRequestWithCheck(loaded, checkIndex)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to pack request")
		}
		oracleID, dispatchErr = s.oracle.RequestBytes(ctx, s.address, check.JobID, id, checkIndex, payload)
		if dErrors.HasCode(dispatchErr, dErrors.CodeConflict) {
			return dErrors.Wrap(dispatchErr, dErrors.CodeNotAllowed, "NotAllowed: check "+check.Name.String()+" is already with the oracle")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dispatchErr != nil {
		span.AddEvent("oracle dispatch failed")
		s.logger.ErrorContext(ctx, "oracle dispatch failed",
			"request_id", id,
			"check", check.Name.String(),
			"error", dispatchErr,
		)
		s.emit(ctx, audit.Event{
			Actor:   caller,
			Subject: id.String(),
			Action:  string(audit.EventOracleFailed),
			Details: map[string]string{"check": check.Name.String(), "error": dispatchErr.Error()},
		}.WithFund(uint64(r.FundID)).WithRequest(uint64(id)))
		if s.metrics != nil {
			s.metrics.IncrementDispatch("failed")
		}
		return nil
	}

	s.logger.InfoContext(ctx, "oracle called",
		"request_id", id,
		"check", check.Name.String(),
		"oracle_request_id", oracleID.Hex(),
	)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: id.String(),
		Action:  string(audit.EventOracleCalled),
		Details: map[string]string{
			"check":             check.Name.String(),
			"check_index":       strconv.Itoa(checkIndex),
			"job_id":            check.JobID.String(),
			"oracle_request_id": oracleID.Hex(),
		},
	}.WithFund(uint64(r.FundID)).WithRequest(uint64(id)))
	if s.metrics != nil {
		s.metrics.IncrementDispatch("sent")
	}
	return nil
}

// FulfillCheck is the oracle callback. Only the registered ORACLE_CONSUMER
// may call it; it becomes the check's signer.
func (s *Service) FulfillCheck(ctx context.Context, caller common.Address, id domain.RequestID, checkIndex int) (err error) {
	ctx, span := s.tracer.Start(ctx, "governor.FulfillCheck", trace.WithAttributes(
		attribute.Int64("request_id", int64(id)),
		attribute.Int("check_index", checkIndex),
	))
	defer func() { endSpan(span, err) }()

	var (
		r     *models.Request
		check domain.Name
	)
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		consumer, err := s.registry.Get(ctx, domain.NameOracleConsumer)
		if err != nil {
			return err
		}
		if consumer == (common.Address{}) || consumer != caller {
			return domain.NewMissingRole(domain.RoleApprover, caller)
		}
		loaded, err := s.getRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := loaded.CanApprove(checkIndex); err != nil {
			return err
		}
		prev := loaded.Clone()
		loaded.ApplyApprove(checkIndex, caller)
		check = loaded.Checks[checkIndex].Name
		r = loaded
		return s.save(ctx, prev, loaded)
	})
	if err != nil {
		return err
	}
	s.signed(ctx, caller, r, check, "oracle")
	return nil
}

func (s *Service) signed(ctx context.Context, signer common.Address, r *models.Request, check domain.Name, source string) {
	s.logger.InfoContext(ctx, "check signed",
		"request_id", r.ID,
		"check", check.String(),
		"signer", signer.Hex(),
		"pending", r.Pending,
	)
	s.emit(ctx, audit.Event{
		Actor:   signer,
		Subject: r.ID.String(),
		Action:  string(audit.EventSigned),
		Details: map[string]string{"check": check.String(), "source": source},
	}.WithFund(uint64(r.FundID)).WithRequest(uint64(r.ID)))
	if r.IsApproved() {
		s.logger.InfoContext(ctx, "request approved", "request_id", r.ID)
		s.emit(ctx, audit.Event{
			Actor:   signer,
			Subject: r.ID.String(),
			Action:  string(audit.EventRequestApproved),
		}.WithFund(uint64(r.FundID)).WithRequest(uint64(r.ID)))
	}
	if s.metrics != nil {
		s.metrics.IncrementApproval(source, r.IsApproved())
	}
}

// GetRequest returns a copy of the request.
func (s *Service) GetRequest(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	return s.getRequest(ctx, id)
}

// ListRequests lists requests in id order. A nil fund lists all of them.
func (s *Service) ListRequests(ctx context.Context, fund *domain.FundID) ([]*models.Request, error) {
	out, err := s.store.List(ctx, fund)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}

// GetSigner returns the approver of a check, or the zero address while it is
// pending.
func (s *Service) GetSigner(ctx context.Context, id domain.RequestID, check domain.Name) (common.Address, error) {
	r, err := s.getRequest(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	return r.Signer(check)
}

func (s *Service) GetPendingChecksCount(ctx context.Context, id domain.RequestID) (int, error) {
	r, err := s.getRequest(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.Pending, nil
}

func (s *Service) GetRemainingChecks(ctx context.Context, id domain.RequestID) ([]domain.Name, error) {
	r, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.RemainingChecks(), nil
}

// GetApprovedChecks returns the approved checks and, at the same index, the
// account that signed each.
func (s *Service) GetApprovedChecks(ctx context.Context, id domain.RequestID) ([]domain.Name, []common.Address, error) {
	r, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	names, signers := r.ApprovedChecks()
	return names, signers, nil
}

// PackRequestWithCheck returns the canonical encoding handed to oracles.
func (s *Service) PackRequestWithCheck(ctx context.Context, id domain.RequestID, checkIndex int) ([]byte, error) {
	r, err := s.getRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.PackRequestWithCheck(r, checkIndex)
}

func (s *Service) getRequest(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found: "+id.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return r, nil
}

// save stores r and registers prev, the request as loaded, as its undo.
func (s *Service) save(ctx context.Context, prev, r *models.Request) error {
	if err := s.store.Save(ctx, r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save request")
	}
	tx.OnRollback(ctx, func() {
		if err := s.store.Save(context.WithoutCancel(ctx), prev); err != nil {
			s.logger.ErrorContext(ctx, "failed to roll back request", "request_id", r.ID, "error", err)
		}
	})
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit governor event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func manualChecks(names []domain.Name) []fundmodels.Check {
	out := make([]fundmodels.Check, len(names))
	for i, n := range names {
		out[i] = fundmodels.Check{Name: n}
	}
	return out
}
