// Package service implements the fund manager and the per-fund operations:
// lifecycle, deposit routing, balances, donation bookkeeping and roles.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"sos/internal/fund/metrics"
	"sos/internal/fund/models"
	safemodels "sos/internal/safe/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/sentinel"
	"sos/pkg/platform/tx"
	"sos/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, f *models.Fund) error
	Save(ctx context.Context, f *models.Fund) error
	Delete(ctx context.Context, id domain.FundID) error
	FindByID(ctx context.Context, id domain.FundID) (*models.Fund, error)
	List(ctx context.Context) ([]*models.Fund, error)
	Count(ctx context.Context) (int, error)
}

// Registry resolves collaborator addresses. Get returns the zero address for
// unmapped names.
type Registry interface {
	Get(ctx context.Context, name domain.Name) (common.Address, error)
}

type SafeFactory interface {
	Deploy(ctx context.Context, caller common.Address, owners []common.Address, threshold uint64) (*safemodels.Safe, error)
}

type BalanceReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the fund manager.
type Service struct {
	address        common.Address
	ledger         *tx.Ledger
	store          Store
	registry       Registry
	safes          SafeFactory
	balances       BalanceReader
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

// New builds the manager. address is the manager's own address; fund
// addresses are derived from it.
func New(address common.Address, ledger *tx.Ledger, store Store, registry Registry, safes SafeFactory, balances BalanceReader, opts ...Option) *Service {
	s := &Service{
		address:  address,
		ledger:   ledger,
		store:    store,
		registry: registry,
		safes:    safes,
		balances: balances,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) Address() common.Address {
	return s.address
}

// CreateFund creates an Active fund. The caller administers it and may
// approve its requests; the registered DONATION address may record donations.
func (s *Service) CreateFund(ctx context.Context, caller common.Address, p models.Params) (domain.FundID, error) {
	if err := p.Validate(); err != nil {
		return 0, toValidation(err)
	}
	if p.Safe == (common.Address{}) {
		return 0, dErrors.New(dErrors.CodeValidation, "safe must not be the zero address")
	}
	return s.create(ctx, caller, p, false)
}

// CreateFundWithSafe deploys a threshold-of-owners safe and creates the fund
// around it. threshold above the owner count is NotAllowed.
func (s *Service) CreateFundWithSafe(ctx context.Context, caller common.Address, p models.Params, owners []common.Address, threshold uint64) (domain.FundID, error) {
	if err := safemodels.ValidateSetup(owners, threshold); err != nil {
		return 0, err
	}
	if err := p.Validate(); err != nil {
		return 0, toValidation(err)
	}

	var id domain.FundID
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		deployed, err := s.safes.Deploy(ctx, s.address, owners, threshold)
		if err != nil {
			return err
		}
		p.Safe = deployed.Address
		id, err = s.create(ctx, caller, p, true)
		return err
	})
	return id, err
}

func (s *Service) create(ctx context.Context, caller common.Address, p models.Params, withSafe bool) (domain.FundID, error) {
	var f *models.Fund
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		n, err := s.store.Count(ctx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count funds")
		}
		donation, err := s.registry.Get(ctx, domain.NameDonation)
		if err != nil {
			return err
		}

		id := domain.FundID(n)
		f, err = models.NewFund(id, crypto.CreateAddress(s.address, uint64(id)), caller, p, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if donation != (common.Address{}) {
			f.Roles.Grant(domain.RoleDonation, donation)
		}
		if err := s.store.Create(ctx, f); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "fund id already taken")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create fund")
		}
		tx.OnRollback(ctx, func() {
			if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
				s.logger.ErrorContext(ctx, "failed to roll back fund creation", "fund_id", id, "error", err)
			}
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "fund created",
		"fund_id", f.ID,
		"address", f.Address.Hex(),
		"safe", f.Safe.Hex(),
	)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: f.Address.Hex(),
		Action:  string(audit.EventFundCreated),
		Details: map[string]string{"name": f.Meta.Name, "safe": f.Safe.Hex()},
	}.WithFund(uint64(f.ID)))
	if s.metrics != nil {
		s.metrics.IncrementFundCreated(withSafe)
	}
	return f.ID, nil
}

// GetFund returns a copy of the fund.
func (s *Service) GetFund(ctx context.Context, id domain.FundID) (*models.Fund, error) {
	f, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "fund not found: "+id.String())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load fund")
	}
	return f, nil
}

func (s *Service) ListFunds(ctx context.Context) ([]*models.Fund, error) {
	funds, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list funds")
	}
	return funds, nil
}

func (s *Service) GetFundAddress(ctx context.Context, id domain.FundID) (common.Address, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	return f.Address, nil
}

// GetFunds lists fund addresses in id order.
func (s *Service) GetFunds(ctx context.Context) ([]common.Address, error) {
	funds, err := s.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, len(funds))
	for i, f := range funds {
		out[i] = f.Address
	}
	return out, nil
}

func (s *Service) GetAllowedTokens(ctx context.Context, id domain.FundID) ([]common.Address, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.AllowedTokens, nil
}

func (s *Service) GetDepositAddressFor(ctx context.Context, id domain.FundID, token common.Address) (common.Address, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	return f.DepositAddressFor(token)
}

func (s *Service) GetMeta(ctx context.Context, id domain.FundID) (models.Meta, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return models.Meta{}, err
	}
	return f.Meta, nil
}

func (s *Service) Status(ctx context.Context, id domain.FundID) (models.Status, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return 0, err
	}
	return f.Status, nil
}

func (s *Service) Pause(ctx context.Context, caller common.Address, id domain.FundID) error {
	return s.transition(ctx, caller, id, audit.EventFundPaused, (*models.Fund).CanPause, (*models.Fund).ApplyPause)
}

func (s *Service) Resume(ctx context.Context, caller common.Address, id domain.FundID) error {
	return s.transition(ctx, caller, id, audit.EventFundResumed, (*models.Fund).CanResume, (*models.Fund).ApplyResume)
}

func (s *Service) Close(ctx context.Context, caller common.Address, id domain.FundID) error {
	return s.transition(ctx, caller, id, audit.EventFundClosed, (*models.Fund).CanClose, (*models.Fund).ApplyClose)
}

func (s *Service) transition(ctx context.Context, caller common.Address, id domain.FundID, event audit.AuditEvent, can func(*models.Fund) error, apply func(*models.Fund)) error {
	var f *models.Fund
	err := s.mutate(ctx, id, func(loaded *models.Fund) error {
		if err := loaded.Roles.Require(domain.RoleDefaultAdmin, caller); err != nil {
			return err
		}
		if err := can(loaded); err != nil {
			return err
		}
		apply(loaded)
		f = loaded
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "fund status changed",
		"fund_id", id,
		"status", f.Status.String(),
	)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: f.Address.Hex(),
		Action:  string(event),
		Details: map[string]string{"status": f.Status.String()},
	}.WithFund(uint64(id)))
	if s.metrics != nil {
		s.metrics.IncrementTransition(f.Status.String())
	}
	return nil
}

// GetBalances reads the safe's balance of every allowed token. The result
// slices have equal length and follow AllowedTokens order. Tokens unknown to
// the ledger read as zero.
func (s *Service) GetBalances(ctx context.Context, id domain.FundID) ([]common.Address, []*big.Int, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tokens := f.AllowedTokens
	balances := make([]*big.Int, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	for i, token := range tokens {
		g.Go(func() error {
			bal, err := s.balances.BalanceOf(gctx, token, f.Safe)
			switch {
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				balances[i] = new(big.Int)
			case err != nil:
				if s.metrics != nil {
					s.metrics.BalanceReadErrors.Inc()
				}
				return err
			default:
				balances[i] = bal
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balances")
	}
	return tokens, balances, nil
}

// CheckUpdateBalance runs the UpdateBalance preconditions without writing.
func (s *Service) CheckUpdateBalance(ctx context.Context, caller common.Address, id domain.FundID, token common.Address, amount *big.Int) error {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return err
	}
	return f.CanUpdateBalance(caller, token, amount)
}

// UpdateBalance records a donation. Only DONATION_ROLE holders may call it.
func (s *Service) UpdateBalance(ctx context.Context, caller common.Address, id domain.FundID, token common.Address, amount *big.Int) error {
	var f *models.Fund
	err := s.mutate(ctx, id, func(loaded *models.Fund) error {
		if err := loaded.CanUpdateBalance(caller, token, amount); err != nil {
			return err
		}
		loaded.ApplyUpdateBalance(token, amount)
		f = loaded
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: f.Address.Hex(),
		Action:  string(audit.EventBalanceUpdated),
		Details: map[string]string{
			"token":  token.Hex(),
			"amount": amount.String(),
			"total":  f.DonatedTotal(token).String(),
		},
	}.WithFund(uint64(id)))
	if s.metrics != nil {
		s.metrics.IncrementBalanceUpdate()
	}
	return nil
}

func (s *Service) GrantRole(ctx context.Context, caller common.Address, id domain.FundID, role domain.Role, account common.Address) error {
	return s.changeRole(ctx, caller, id, role, account, true)
}

func (s *Service) RevokeRole(ctx context.Context, caller common.Address, id domain.FundID, role domain.Role, account common.Address) error {
	return s.changeRole(ctx, caller, id, role, account, false)
}

func (s *Service) changeRole(ctx context.Context, caller common.Address, id domain.FundID, role domain.Role, account common.Address, grant bool) error {
	var (
		changed bool
		addr    common.Address
	)
	err := s.mutate(ctx, id, func(f *models.Fund) error {
		var err error
		if grant {
			changed, err = f.Roles.GrantAs(caller, role, account)
		} else {
			changed, err = f.Roles.RevokeAs(caller, role, account)
		}
		addr = f.Address
		return err
	})
	if err != nil || !changed {
		return err
	}

	event := audit.EventRoleGranted
	if !grant {
		event = audit.EventRoleRevoked
	}
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: addr.Hex(),
		Action:  string(event),
		Details: map[string]string{"role": role.String(), "account": account.Hex()},
	}.WithFund(uint64(id)))
	return nil
}

func (s *Service) HasRole(ctx context.Context, id domain.FundID, role domain.Role, account common.Address) (bool, error) {
	f, err := s.GetFund(ctx, id)
	if err != nil {
		return false, err
	}
	return f.Roles.Has(role, account), nil
}

// SetChecks replaces the fund's checks. Requests already created keep the
// checks they were created with.
func (s *Service) SetChecks(ctx context.Context, caller common.Address, id domain.FundID, checks []models.Check) error {
	if err := models.ValidateChecks(checks); err != nil {
		return toValidation(err)
	}
	var addr common.Address
	err := s.mutate(ctx, id, func(f *models.Fund) error {
		if err := f.Roles.Require(domain.RoleDefaultAdmin, caller); err != nil {
			return err
		}
		f.Checks = append([]models.Check{}, checks...)
		addr = f.Address
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: addr.Hex(),
		Action:  string(audit.EventChecksUpdated),
		Details: map[string]string{"count": strconv.Itoa(len(checks))},
	}.WithFund(uint64(id)))
	return nil
}

// mutate loads, changes and saves a fund inside the ledger transaction. fn
// must not change the fund when it returns an error.
func (s *Service) mutate(ctx context.Context, id domain.FundID, fn func(f *models.Fund) error) error {
	return s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		f, err := s.GetFund(ctx, id)
		if err != nil {
			return err
		}
		prev := f.Clone()
		if err := fn(f); err != nil {
			return err
		}
		if err := s.store.Save(ctx, f); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save fund")
		}
		tx.OnRollback(ctx, func() {
			if err := s.store.Save(context.WithoutCancel(ctx), prev); err != nil {
				s.logger.ErrorContext(ctx, "failed to roll back fund", "fund_id", id, "error", err)
			}
		})
		return nil
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit fund event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return err
}
