// Package service implements the name registry: a bytes32 name to address
// directory that every other component resolves its collaborators through.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/registry/metrics"
	"sos/internal/registry/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/sentinel"
	"sos/pkg/platform/tx"
)

// Store persists registry entries. Find returns sentinel.ErrNotFound for
// unmapped names; FindMany returns the zero address for them.
type Store interface {
	Find(ctx context.Context, name domain.Name) (common.Address, error)
	FindMany(ctx context.Context, names []domain.Name) ([]common.Address, error)
	Save(ctx context.Context, entries []models.Entry) error
	Delete(ctx context.Context, names []domain.Name) error
	List(ctx context.Context) ([]models.Entry, error)
}

// txStore is a Store that can run a batch's reads and writes in one database
// transaction.
type txStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the registry. Only the owner may write.
type Service struct {
	owner          common.Address
	ledger         *tx.Ledger
	store          Store
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

func New(owner common.Address, ledger *tx.Ledger, store Store, opts ...Option) *Service {
	s := &Service{owner: owner, ledger: ledger, store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) Owner() common.Address {
	return s.owner
}

// Register maps name to addr. Existing mappings are never overwritten.
func (s *Service) Register(ctx context.Context, caller common.Address, name domain.Name, addr common.Address) error {
	return s.BatchRegister(ctx, caller, []domain.Name{name}, []common.Address{addr})
}

// Update changes an existing mapping.
func (s *Service) Update(ctx context.Context, caller common.Address, name domain.Name, addr common.Address) error {
	return s.BatchUpdate(ctx, caller, []domain.Name{name}, []common.Address{addr})
}

// BatchRegister registers every pair or none. A name repeated inside the
// batch fails like a name that is already mapped.
func (s *Service) BatchRegister(ctx context.Context, caller common.Address, names []domain.Name, addrs []common.Address) (err error) {
	start := time.Now()
	defer func() { s.observeMutation("register", err, start) }()

	entries, err := s.authorizeBatch(caller, names, addrs)
	if err != nil {
		return err
	}

	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		err := s.atomically(ctx, func(ctx context.Context) error {
			seen := make(map[domain.Name]struct{}, len(entries))
			for _, e := range entries {
				if _, dup := seen[e.Name]; dup {
					return alreadyRegistered(e.Name)
				}
				seen[e.Name] = struct{}{}
				_, err := s.store.Find(ctx, e.Name)
				switch {
				case err == nil:
					return alreadyRegistered(e.Name)
				case !errors.Is(err, sentinel.ErrNotFound):
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read registry")
				}
			}
			if err := s.store.Save(ctx, entries); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write registry")
			}
			return nil
		})
		if err != nil {
			return err
		}
		added := make([]domain.Name, len(entries))
		for i, e := range entries {
			added[i] = e.Name
		}
		tx.OnRollback(ctx, func() {
			if err := s.store.Delete(context.WithoutCancel(ctx), added); err != nil {
				s.logger.ErrorContext(ctx, "failed to roll back registry registration", "error", err)
			}
		})
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		s.logger.InfoContext(ctx, "registry entry registered",
			"name", e.Name.String(),
			"address", e.Address.Hex(),
		)
		s.emit(ctx, audit.Event{
			Actor:   caller,
			Subject: e.Name.String(),
			Action:  string(audit.EventRegistered),
			Details: map[string]string{"address": e.Address.Hex()},
		})
	}
	return nil
}

// BatchUpdate updates every pair or none. Repeated names apply in order.
func (s *Service) BatchUpdate(ctx context.Context, caller common.Address, names []domain.Name, addrs []common.Address) (err error) {
	start := time.Now()
	defer func() { s.observeMutation("update", err, start) }()

	entries, err := s.authorizeBatch(caller, names, addrs)
	if err != nil {
		return err
	}

	previous := make([]common.Address, len(entries))
	err = s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		var restore []models.Entry
		err := s.atomically(ctx, func(ctx context.Context) error {
			current := make(map[domain.Name]common.Address, len(entries))
			for i, e := range entries {
				old, ok := current[e.Name]
				if !ok {
					found, err := s.store.Find(ctx, e.Name)
					switch {
					case errors.Is(err, sentinel.ErrNotFound):
						return dErrors.New(dErrors.CodeNotRegistered, "NotRegistered: "+e.Name.String())
					case err != nil:
						return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read registry")
					}
					old = found
					restore = append(restore, models.Entry{Name: e.Name, Address: found})
				}
				previous[i] = old
				current[e.Name] = e.Address
			}
			if err := s.store.Save(ctx, entries); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write registry")
			}
			return nil
		})
		if err != nil {
			return err
		}
		tx.OnRollback(ctx, func() {
			if err := s.store.Save(context.WithoutCancel(ctx), restore); err != nil {
				s.logger.ErrorContext(ctx, "failed to roll back registry update", "error", err)
			}
		})
		return nil
	})
	if err != nil {
		return err
	}

	for i, e := range entries {
		s.logger.InfoContext(ctx, "registry entry updated",
			"name", e.Name.String(),
			"old", previous[i].Hex(),
			"new", e.Address.Hex(),
		)
		s.emit(ctx, audit.Event{
			Actor:   caller,
			Subject: e.Name.String(),
			Action:  string(audit.EventRegistryUpdated),
			Details: map[string]string{"old": previous[i].Hex(), "new": e.Address.Hex()},
		})
	}
	return nil
}

// Get returns the mapped address, or the zero address when name is unmapped.
func (s *Service) Get(ctx context.Context, name domain.Name) (common.Address, error) {
	addr, err := s.store.Find(ctx, name)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.observeLookup(false)
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read registry")
	}
	s.observeLookup(true)
	return addr, nil
}

// Resolve is Get for callers that need the collaborator to exist.
func (s *Service) Resolve(ctx context.Context, name domain.Name) (common.Address, error) {
	addr, err := s.Get(ctx, name)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, dErrors.New(dErrors.CodeNotFound, "registry has no entry for "+name.String())
	}
	return addr, nil
}

// BatchGet resolves names in order, zero for unmapped ones.
func (s *Service) BatchGet(ctx context.Context, names []domain.Name) ([]common.Address, error) {
	addrs, err := s.store.FindMany(ctx, names)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read registry")
	}
	for _, a := range addrs {
		s.observeLookup(a != (common.Address{}))
	}
	return addrs, nil
}

func (s *Service) List(ctx context.Context) ([]models.Entry, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registry")
	}
	return entries, nil
}

func (s *Service) authorizeBatch(caller common.Address, names []domain.Name, addrs []common.Address) ([]models.Entry, error) {
	if caller != s.owner {
		return nil, domain.NewMissingRole(domain.RoleDefaultAdmin, caller)
	}
	entries, err := models.Pair(names, addrs)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return entries, nil
}

// atomically runs fn in the store's own transaction when it has one.
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if ts, ok := s.store.(txStore); ok {
		return ts.RunInTx(ctx, fn)
	}
	return fn(ctx)
}

func alreadyRegistered(name domain.Name) error {
	return dErrors.New(dErrors.CodeAlreadyRegistered, "AlreadyRegistered: "+name.String())
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit registry event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}

func (s *Service) observeMutation(op string, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMutation(op, err, start)
	}
}

func (s *Service) observeLookup(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveLookup(hit)
	}
}
