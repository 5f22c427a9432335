// Package service is the oracle consumer: it forwards automated checks from
// the Governor to an oracle node, pays the node's fee in LINK and routes the
// node's answer back to the Governor.
package service

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"sos/internal/oracle/dispatch"
	"sos/internal/oracle/metrics"
	"sos/internal/oracle/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
	"sos/pkg/requestcontext"
)

type Registry interface {
	Get(ctx context.Context, name domain.Name) (common.Address, error)
}

// Tokens is the slice of the token ledger used to pay and withdraw LINK.
type Tokens interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, caller, token, to common.Address, amount *big.Int) error
}

// Fulfiller receives passed checks. It is the Governor.
type Fulfiller interface {
	FulfillCheck(ctx context.Context, caller common.Address, id domain.RequestID, checkIndex int) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	address    common.Address
	ledger     *tx.Ledger
	registry   Registry
	tokens     Tokens
	dispatcher dispatch.Dispatcher

	mu        sync.RWMutex
	config    models.Config
	nonce     uint64
	pending   map[common.Hash]models.Pending
	fulfiller Fulfiller

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
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

// WithOracle seeds the oracle node, job and fee.
func WithOracle(oracle common.Address, jobID domain.Name, fee *big.Int) Option {
	return func(s *Service) {
		s.config.Oracle = oracle
		s.config.JobID = jobID
		if fee != nil {
			s.config.Fee = new(big.Int).Set(fee)
		}
	}
}

// New builds a consumer owned by owner. address is the consumer's own
// account; it holds the LINK used to pay fees.
func New(address, owner common.Address, ledger *tx.Ledger, registry Registry, tokens Tokens, dispatcher dispatch.Dispatcher, opts ...Option) *Service {
	s := &Service{
		address:    address,
		ledger:     ledger,
		registry:   registry,
		tokens:     tokens,
		dispatcher: dispatcher,
		config:     models.Config{Owner: owner, Fee: new(big.Int)},
		pending:    make(map[common.Hash]models.Pending),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// BindFulfiller sets the callback target. The Governor and the consumer
// reference each other, so one side is bound after construction.
func (s *Service) BindFulfiller(f Fulfiller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fulfiller = f
}

func (s *Service) Address() common.Address { return s.address }

// StringToBytes32 encodes s the way job ids are stored.
func (s *Service) StringToBytes32(v string) (domain.Name, error) {
	return domain.NameFromString(v)
}

func (s *Service) Owner() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Owner
}

func (s *Service) Oracle() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Oracle
}

func (s *Service) JobID() domain.Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.JobID
}

func (s *Service) Fee() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.config.Fee)
}

func (s *Service) SetOracle(ctx context.Context, caller, oracle common.Address) error {
	if oracle == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "oracle must not be the zero address")
	}
	return s.configure(ctx, caller, "oracle", oracle.Hex(), func(c *models.Config) { c.Oracle = oracle })
}

func (s *Service) SetFee(ctx context.Context, caller common.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return dErrors.New(dErrors.CodeValidation, "fee must not be negative")
	}
	return s.configure(ctx, caller, "fee", fee.String(), func(c *models.Config) { c.Fee = new(big.Int).Set(fee) })
}

func (s *Service) SetJob(ctx context.Context, caller common.Address, jobID domain.Name) error {
	return s.configure(ctx, caller, "job_id", jobID.String(), func(c *models.Config) { c.JobID = jobID })
}

func (s *Service) configure(ctx context.Context, caller common.Address, field, value string, apply func(*models.Config)) error {
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if caller != s.config.Owner {
			return domain.NewMissingRole(domain.RoleDefaultAdmin, caller)
		}
		prev := s.config
		apply(&s.config)
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.config = prev
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "oracle consumer configured", "field", field, "value", value)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: s.address.Hex(),
		Action:  string(audit.EventOracleConfigured),
		Details: map[string]string{field: value},
	})
	return nil
}

// WithdrawLink sends the consumer's whole LINK balance to the owner.
func (s *Service) WithdrawLink(ctx context.Context, caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		owner := s.Owner()
		if caller != owner {
			return domain.NewMissingRole(domain.RoleDefaultAdmin, caller)
		}
		link, err := s.linkToken(ctx)
		if err != nil {
			return err
		}
		amount, err = s.tokens.BalanceOf(ctx, link, s.address)
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return nil
		}
		return s.tokens.Transfer(ctx, s.address, link, owner, amount)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "link withdrawn", "amount", amount.String())
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: s.address.Hex(),
		Action:  string(audit.EventLinkWithdrawn),
		Details: map[string]string{"amount": amount.String()},
	})
	return amount, nil
}

// RequestBytes sends payload to the configured oracle and pays its fee. Only
// the registered GOVERNOR may call it. A zero jobID falls back to the
// configured job. A check that is already awaiting an answer is a conflict,
// so its fee is never paid twice.
func (s *Service) RequestBytes(ctx context.Context, caller common.Address, jobID domain.Name, id domain.RequestID, checkIndex int, payload []byte) (common.Hash, error) {
	var req models.OutboundRequest
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		governor, err := s.registry.Get(ctx, domain.NameGovernor)
		if err != nil {
			return err
		}
		if governor == (common.Address{}) || caller != governor {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: only the governor may request oracle work")
		}

		s.mu.RLock()
		cfg := s.config
		nonce := s.nonce
		inFlight := s.inFlight(id, checkIndex)
		s.mu.RUnlock()
		if inFlight {
			return dErrors.New(dErrors.CodeConflict, "oracle request already pending for request "+id.String())
		}
		if cfg.Oracle == (common.Address{}) {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: oracle not configured")
		}
		if jobID.IsZero() {
			jobID = cfg.JobID
		}

		var link common.Address
		if cfg.Fee.Sign() > 0 {
			if link, err = s.linkToken(ctx); err != nil {
				return err
			}
			balance, err := s.tokens.BalanceOf(ctx, link, s.address)
			if err != nil {
				return err
			}
			if balance.Cmp(cfg.Fee) < 0 {
				return dErrors.New(dErrors.CodeInsufficientBalance, "ERC20: transfer amount exceeds balance")
			}
		}

		req = models.OutboundRequest{
			ID:         requestHash(s.address, nonce),
			Consumer:   s.address,
			Oracle:     cfg.Oracle,
			JobID:      jobID,
			Fee:        new(big.Int).Set(cfg.Fee),
			RequestID:  id,
			CheckIndex: checkIndex,
			Payload:    append([]byte{}, payload...),
			SentAt:     requestcontext.Now(ctx),
		}
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "oracle dispatch failed")
		}
		if cfg.Fee.Sign() > 0 {
			if err := s.tokens.Transfer(ctx, s.address, link, cfg.Oracle, cfg.Fee); err != nil {
				return err
			}
		}

		s.mu.Lock()
		s.nonce++
		s.pending[req.ID] = models.Pending{
			ID:         req.ID,
			Oracle:     req.Oracle,
			RequestID:  id,
			CheckIndex: checkIndex,
			JobID:      jobID,
			SentAt:     req.SentAt,
		}
		s.mu.Unlock()
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.pending, req.ID)
			s.nonce--
		})
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues("failed").Inc()
		}
		return common.Hash{}, err
	}

	s.logger.InfoContext(ctx, "oracle request sent",
		"oracle_request_id", req.ID.Hex(),
		"request_id", id,
		"check_index", checkIndex,
		"job_id", jobID.String(),
	)
	if s.metrics != nil {
		tx.AfterCommit(ctx, func() {
			s.metrics.Requests.WithLabelValues("sent").Inc()
			s.metrics.Pending.Inc()
		})
	}
	return req.ID, nil
}

// FulfillBytes accepts the oracle's answer. The caller must be the oracle
// the request was sent to. A non-zero first word passes the check.
func (s *Service) FulfillBytes(ctx context.Context, caller common.Address, oracleID common.Hash, payload []byte) (passed bool, err error) {
	var p models.Pending
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		pending, ok := s.pending[oracleID]
		if !ok {
			s.mu.Unlock()
			if caller != s.Oracle() {
				return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: source must be the oracle of the request")
			}
			return dErrors.New(dErrors.CodeNotFound, "oracle request not found: "+oracleID.Hex())
		}
		if caller != pending.Oracle {
			s.mu.Unlock()
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: source must be the oracle of the request")
		}
		if len(payload) != 32 {
			s.mu.Unlock()
			return dErrors.New(dErrors.CodeValidation, "fulfilment payload must be one 32 byte word")
		}
		fulfiller := s.fulfiller
		passed = new(big.Int).SetBytes(payload).Sign() != 0
		if passed && fulfiller == nil {
			s.mu.Unlock()
			return dErrors.New(dErrors.CodeInternal, "oracle consumer has no fulfiller bound")
		}
		delete(s.pending, oracleID)
		s.mu.Unlock()
		p = pending
		// A refused callback keeps the request answerable.
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.pending[oracleID] = pending
		})

		if !passed {
			return nil
		}
		return fulfiller.FulfillCheck(ctx, s.address, pending.RequestID, pending.CheckIndex)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.Fulfillments.WithLabelValues("rejected").Inc()
		}
		return false, err
	}

	result := "fail"
	if passed {
		result = "pass"
	}
	s.logger.InfoContext(ctx, "oracle request fulfilled",
		"oracle_request_id", oracleID.Hex(),
		"request_id", p.RequestID,
		"check_index", p.CheckIndex,
		"result", result,
	)
	rid := uint64(p.RequestID)
	s.emit(ctx, audit.Event{
		Actor:     caller,
		Subject:   oracleID.Hex(),
		Action:    string(audit.EventOracleFulfilled),
		RequestID: &rid,
		Details:   map[string]string{"result": result, "job_id": p.JobID.String()},
	})
	if s.metrics != nil {
		tx.AfterCommit(ctx, func() {
			s.metrics.Fulfillments.WithLabelValues(result).Inc()
			s.metrics.Pending.Dec()
		})
	}
	return passed, nil
}

// inFlight reports whether a check already awaits an answer. Callers hold mu.
func (s *Service) inFlight(id domain.RequestID, checkIndex int) bool {
	for _, p := range s.pending {
		if p.RequestID == id && p.CheckIndex == checkIndex {
			return true
		}
	}
	return false
}

// Pending lists requests awaiting fulfilment, oldest first.
func (s *Service) Pending() []models.Pending {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

func (s *Service) linkToken(ctx context.Context) (common.Address, error) {
	link, err := s.registry.Get(ctx, domain.NameChainlinkToken)
	if err != nil {
		return common.Address{}, err
	}
	if link == (common.Address{}) {
		return common.Address{}, dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: CHAINLINK_TOKEN is not registered")
	}
	return link, nil
}

// requestHash derives the oracle request id from the consumer and its nonce.
func requestHash(consumer common.Address, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(consumer.Bytes(), common.BigToHash(new(big.Int).SetUint64(nonce)).Bytes())
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit oracle event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}
