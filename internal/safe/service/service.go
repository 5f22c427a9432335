// Package service deploys multisig safes for funds.
package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"sos/internal/safe/models"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Factory plays the proxy factory: each deployment gets a CREATE address
// derived from the factory address and its deployment count.
type Factory struct {
	address        common.Address
	ledger         *tx.Ledger
	logger         *slog.Logger
	auditPublisher AuditPublisher

	mu    sync.RWMutex
	safes map[common.Address]*models.Safe
	nonce uint64
}

type Option func(*Factory)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(f *Factory) {
		f.auditPublisher = publisher
	}
}

func New(address common.Address, ledger *tx.Ledger, opts ...Option) *Factory {
	f := &Factory{
		address: address,
		ledger:  ledger,
		safes:   make(map[common.Address]*models.Safe),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

func (f *Factory) Address() common.Address {
	return f.address
}

// Deploy creates a safe. threshold must be in [1, len(owners)] and owners
// must be distinct and non-zero, otherwise NotAllowed.
func (f *Factory) Deploy(ctx context.Context, caller common.Address, owners []common.Address, threshold uint64) (*models.Safe, error) {
	if err := models.ValidateSetup(owners, threshold); err != nil {
		return nil, err
	}
	var deployed *models.Safe
	err := f.ledger.RunInTx(ctx, func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		deployed = &models.Safe{
			Address:   crypto.CreateAddress(f.address, f.nonce),
			Owners:    append([]common.Address(nil), owners...),
			Threshold: threshold,
			Nonce:     f.nonce,
		}
		f.safes[deployed.Address] = deployed
		f.nonce++
		tx.OnRollback(ctx, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.safes, deployed.Address)
			f.nonce--
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.InfoContext(ctx, "safe deployed",
		"safe", deployed.Address.Hex(),
		"owners", len(owners),
		"threshold", threshold,
	)
	if f.auditPublisher != nil {
		event := audit.Event{
			Actor:   caller,
			Subject: deployed.Address.Hex(),
			Action:  string(audit.EventSafeDeployed),
			Details: map[string]string{"threshold": strconv.FormatUint(threshold, 10)},
		}
		tx.AfterCommit(ctx, func() {
			if err := f.auditPublisher.Emit(ctx, event); err != nil {
				f.logger.ErrorContext(ctx, "failed to emit safe event", "error", err)
			}
		})
	}
	return clone(deployed), nil
}

func (f *Factory) Get(_ context.Context, addr common.Address) (*models.Safe, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.safes[addr]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "safe not found: "+addr.Hex())
	}
	return clone(s), nil
}

func (f *Factory) GetOwners(ctx context.Context, addr common.Address) ([]common.Address, error) {
	s, err := f.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	return s.Owners, nil
}

func (f *Factory) GetThreshold(ctx context.Context, addr common.Address) (uint64, error) {
	s, err := f.Get(ctx, addr)
	if err != nil {
		return 0, err
	}
	return s.Threshold, nil
}

func (f *Factory) IsOwner(ctx context.Context, addr, account common.Address) (bool, error) {
	s, err := f.Get(ctx, addr)
	if err != nil {
		return false, err
	}
	return s.IsOwner(account), nil
}

func clone(s *models.Safe) *models.Safe {
	c := *s
	c.Owners = append([]common.Address(nil), s.Owners...)
	return &c
}
