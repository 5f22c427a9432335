// Package service is an in-process ERC-20 ledger. Donations and oracle fees
// settle through it.
package service

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"sos/internal/token/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service holds every deployed token. All mutations run inside the shared
// ledger transaction.
type Service struct {
	ledger         *tx.Ledger
	logger         *slog.Logger
	auditPublisher AuditPublisher

	mu     sync.RWMutex
	tokens map[common.Address]*models.Token
	nonces map[common.Address]uint64
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

func New(ledger *tx.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		tokens: make(map[common.Address]*models.Token),
		nonces: make(map[common.Address]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Deploy creates a token owned by caller and credits it initialSupply. The
// address follows the CREATE rule for caller's deployment nonce.
func (s *Service) Deploy(ctx context.Context, caller common.Address, name, symbol string, decimals uint8, initialSupply *big.Int) (common.Address, error) {
	var addr common.Address
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		addr = crypto.CreateAddress(caller, s.nonces[caller])
		t, err := models.NewToken(addr, name, symbol, decimals, caller, initialSupply)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		s.nonces[caller]++
		s.tokens[addr] = t
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.tokens, addr)
			s.nonces[caller]--
		})
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: addr.Hex(),
		Action:  string(audit.EventTokenIssued),
		Details: map[string]string{"symbol": symbol, "supply": bigString(initialSupply)},
	})
	return addr, nil
}

// Mint credits amount to to. Only the token owner may mint.
func (s *Service) Mint(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.find(token)
		if err != nil {
			return err
		}
		if caller != t.Owner {
			return domain.NewMissingRole(domain.RoleDefaultAdmin, caller)
		}
		if amount == nil || amount.Sign() <= 0 {
			return dErrors.New(dErrors.CodeValidation, "mint amount must be positive")
		}
		if to == (common.Address{}) {
			return dErrors.New(dErrors.CodeValidation, "ERC20: mint to the zero address")
		}
		s.stage(ctx, t)
		t.ApplyMint(to, amount)
		return nil
	})
	if err != nil {
		return err
	}
	s.emitTransfer(ctx, caller, token, common.Address{}, to, amount)
	return nil
}

func (s *Service) Transfer(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.find(token)
		if err != nil {
			return err
		}
		if err := t.CanTransfer(caller, to, amount); err != nil {
			return err
		}
		s.stage(ctx, t)
		t.ApplyTransfer(caller, to, amount)
		return nil
	})
	if err != nil {
		return err
	}
	s.emitTransfer(ctx, caller, token, caller, to, amount)
	return nil
}

func (s *Service) Approve(ctx context.Context, caller, token, spender common.Address, amount *big.Int) error {
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.find(token)
		if err != nil {
			return err
		}
		if amount == nil || amount.Sign() < 0 {
			return dErrors.New(dErrors.CodeValidation, "amount must be a non-negative integer")
		}
		if spender == (common.Address{}) {
			return dErrors.New(dErrors.CodeValidation, "ERC20: approve to the zero address")
		}
		s.stage(ctx, t)
		t.ApplyApprove(caller, spender, amount)
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: token.Hex(),
		Action:  string(audit.EventApproval),
		Details: map[string]string{"owner": caller.Hex(), "spender": spender.Hex(), "value": amount.String()},
	})
	return nil
}

// TransferFrom moves amount from from to to using caller's allowance.
func (s *Service) TransferFrom(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) error {
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		t, err := s.find(token)
		if err != nil {
			return err
		}
		if err := t.CanTransferFrom(caller, from, to, amount); err != nil {
			return err
		}
		s.stage(ctx, t)
		t.ApplyTransferFrom(caller, from, to, amount)
		return nil
	})
	if err != nil {
		return err
	}
	s.emitTransfer(ctx, caller, token, from, to, amount)
	return nil
}

// CheckTransferFrom runs the TransferFrom preconditions without mutating.
func (s *Service) CheckTransferFrom(_ context.Context, caller, token, from, to common.Address, amount *big.Int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.find(token)
	if err != nil {
		return err
	}
	return t.CanTransferFrom(caller, from, to, amount)
}

func (s *Service) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.find(token)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(holder), nil
}

func (s *Service) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.find(token)
	if err != nil {
		return nil, err
	}
	return t.Allowance(owner, spender), nil
}

// Info is the token's public metadata.
type Info struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply string         `json:"total_supply"`
}

func (s *Service) Info(_ context.Context, token common.Address) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.find(token)
	if err != nil {
		return nil, err
	}
	return &Info{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: t.TotalSupply.String(),
	}, nil
}

func (s *Service) find(token common.Address) (*models.Token, error) {
	t, ok := s.tokens[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "token not deployed: "+token.Hex())
	}
	return t, nil
}

// stage keeps a copy of t that is put back if the ledger transaction fails.
// Callers hold s.mu.
func (s *Service) stage(ctx context.Context, t *models.Token) {
	prev := t.Clone()
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tokens[prev.Address] = prev
	})
}

func (s *Service) emitTransfer(ctx context.Context, caller, token, from, to common.Address, amount *big.Int) {
	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: token.Hex(),
		Action:  string(audit.EventTransfer),
		Details: map[string]string{"from": from.Hex(), "to": to.Hex(), "value": amount.String()},
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to emit token event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
