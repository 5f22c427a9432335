// Package service moves donor tokens into a fund's safe, records the
// donation against the fund and mints the donor an SOS receipt.
package service

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/donation/metrics"
	fundmodels "sos/internal/fund/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
)

type Registry interface {
	Resolve(ctx context.Context, name domain.Name) (common.Address, error)
}

// FundManager is the part of the fund manager a donation touches.
type FundManager interface {
	Address() common.Address
	GetFund(ctx context.Context, id domain.FundID) (*fundmodels.Fund, error)
	CheckUpdateBalance(ctx context.Context, caller common.Address, id domain.FundID, token common.Address, amount *big.Int) error
	UpdateBalance(ctx context.Context, caller common.Address, id domain.FundID, token common.Address, amount *big.Int) error
}

type Tokens interface {
	CheckTransferFrom(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) error
}

// Minter is the SOS collection.
type Minter interface {
	Address() common.Address
	CanMint(caller common.Address) error
	Mint(ctx context.Context, caller, to common.Address, fundID domain.FundID, asset common.Address, amount *big.Int) (uint64, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Donation is the record of one completed donation.
type Donation struct {
	FundID  domain.FundID  `json:"fund_id"`
	Donor   common.Address `json:"donor"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
	TokenID uint64         `json:"sos_token_id"`
	At      time.Time      `json:"at"`
}

type Service struct {
	address        common.Address
	ledger         *tx.Ledger
	registry       Registry
	funds          FundManager
	tokens         Tokens
	sos            Minter
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	now            func() time.Time

	mu      sync.RWMutex
	history []Donation
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

func New(address common.Address, ledger *tx.Ledger, registry Registry, funds FundManager, tokens Tokens, sos Minter, opts ...Option) *Service {
	s := &Service{
		address:  address,
		ledger:   ledger,
		registry: registry,
		funds:    funds,
		tokens:   tokens,
		sos:      sos,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) Address() common.Address { return s.address }

// Donate transfers amount of token from caller to the fund's safe and mints
// caller an SOS token. Every precondition is checked before the transfer, and
// a write that still fails rolls the whole donation back.
func (s *Service) Donate(ctx context.Context, caller common.Address, fundID domain.FundID, token common.Address, amount *big.Int) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, s.reject(dErrors.New(dErrors.CodeValidation, "amount must be positive"))
	}

	var d Donation
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.resolve(ctx); err != nil {
			return err
		}
		f, err := s.funds.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		if !f.IsTokenAllowed(token) {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: token "+token.Hex()+" is not accepted by this fund")
		}
		if !f.IsActive() {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: fund is "+f.Status.String())
		}
		if err := s.tokens.CheckTransferFrom(ctx, s.address, token, caller, f.Safe, amount); err != nil {
			return err
		}
		if err := s.funds.CheckUpdateBalance(ctx, s.address, fundID, token, amount); err != nil {
			return err
		}
		if err := s.sos.CanMint(s.address); err != nil {
			return err
		}

		if err := s.tokens.TransferFrom(ctx, s.address, token, caller, f.Safe, amount); err != nil {
			return err
		}
		if err := s.funds.UpdateBalance(ctx, s.address, fundID, token, amount); err != nil {
			return err
		}
		id, err := s.sos.Mint(ctx, s.address, caller, fundID, token, amount)
		if err != nil {
			return err
		}

		d = Donation{FundID: fundID, Donor: caller, Token: token, Amount: new(big.Int).Set(amount), TokenID: id, At: s.now().UTC()}
		s.mu.Lock()
		s.history = append(s.history, d)
		n := len(s.history)
		s.mu.Unlock()
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.history = s.history[:n-1]
		})
		return nil
	})
	if err != nil {
		return 0, s.reject(err)
	}

	s.logger.InfoContext(ctx, "donation received",
		"fund_id", uint64(fundID),
		"donor", caller.Hex(),
		"token", token.Hex(),
		"amount", amount.String(),
	)
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: s.address.Hex(),
		Action:  string(audit.EventDonated),
		Details: map[string]string{
			"donor":    caller.Hex(),
			"token":    token.Hex(),
			"amount":   amount.String(),
			"token_id": strconv.FormatUint(d.TokenID, 10),
		},
	}.WithFund(uint64(fundID)))
	if s.metrics != nil {
		s.metrics.IncrementDonation(token.Hex())
	}
	return d.TokenID, nil
}

// resolve checks that the registry still points at the fund manager and SOS
// collection this service was built with.
func (s *Service) resolve(ctx context.Context) error {
	for _, c := range []struct {
		name domain.Name
		addr common.Address
	}{
		{domain.NameFundManager, s.funds.Address()},
		{domain.NameSOS, s.sos.Address()},
	} {
		got, err := s.registry.Resolve(ctx, c.name)
		if err != nil {
			return err
		}
		if got != c.addr {
			return dErrors.New(dErrors.CodeUnavailable, c.name.String()+" is registered at an unknown address "+got.Hex())
		}
	}
	return nil
}

// Donations lists completed donations in order, optionally for one fund.
func (s *Service) Donations(_ context.Context, fund *domain.FundID) []Donation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Donation{}
	for _, d := range s.history {
		if fund != nil && d.FundID != *fund {
			continue
		}
		d.Amount = new(big.Int).Set(d.Amount)
		out = append(out, d)
	}
	return out
}

func (s *Service) reject(err error) error {
	if s.metrics != nil {
		s.metrics.IncrementRejected(string(dErrors.CodeOf(err)))
	}
	return err
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit donation event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}
