package sos

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/access"
	fundmodels "sos/internal/fund/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/tx"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// FundMeta resolves the fund a token was minted for.
type FundMeta interface {
	GetMeta(ctx context.Context, id domain.FundID) (fundmodels.Meta, error)
}

// Service is the SOS collection. Tokens live in memory and ids are dense.
type Service struct {
	address        common.Address
	ledger         *tx.Ledger
	funds          FundMeta
	descriptor     *Descriptor
	roles          *access.Table
	logger         *slog.Logger
	auditPublisher AuditPublisher
	now            func() time.Time

	mu       sync.RWMutex
	tokens   []*Token
	balances map[common.Address]uint64
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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New deploys the collection at address. admin administers roles and minter
// receives MINTER_ROLE.
func New(address, admin, minter common.Address, ledger *tx.Ledger, funds FundMeta, descriptor *Descriptor, opts ...Option) *Service {
	s := &Service{
		address:    address,
		ledger:     ledger,
		funds:      funds,
		descriptor: descriptor,
		roles:      access.NewTable(admin),
		now:        time.Now,
		balances:   make(map[common.Address]uint64),
	}
	if minter != (common.Address{}) {
		s.roles.Grant(domain.RoleMinter, minter)
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

func (s *Service) Descriptor() *Descriptor { return s.descriptor }

// CanMint reports whether caller may mint.
func (s *Service) CanMint(caller common.Address) error {
	return s.roles.Require(domain.RoleMinter, caller)
}

// Mint issues a receipt for a donation of amount asset to fundID.
func (s *Service) Mint(ctx context.Context, caller, to common.Address, fundID domain.FundID, asset common.Address, amount *big.Int) (uint64, error) {
	if to == (common.Address{}) {
		return 0, dErrors.New(dErrors.CodeValidation, "ERC721: mint to the zero address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}

	var tok *Token
	err := s.ledger.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.CanMint(caller); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		tok = &Token{
			ID:       uint64(len(s.tokens)),
			Owner:    to,
			FundID:   fundID,
			Amount:   new(big.Int).Set(amount),
			Asset:    asset,
			MintedAt: s.now().UTC(),
		}
		s.tokens = append(s.tokens, tok)
		s.balances[to]++
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tokens = s.tokens[:tok.ID]
			s.balances[to]--
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.emit(ctx, audit.Event{
		Actor:   caller,
		Subject: s.address.Hex(),
		Action:  string(audit.EventSOSMinted),
		Details: map[string]string{
			"token_id": strconv.FormatUint(tok.ID, 10),
			"to":       to.Hex(),
			"asset":    asset.Hex(),
			"amount":   amount.String(),
		},
	}.WithFund(uint64(fundID)))
	return tok.ID, nil
}

func (s *Service) BalanceOf(_ context.Context, owner common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[owner]
}

func (s *Service) TotalSupply(_ context.Context) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.tokens))
}

func (s *Service) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	t, err := s.Token(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	return t.Owner, nil
}

// Token returns a copy of the receipt.
func (s *Service) Token(_ context.Context, id uint64) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.tokens)) {
		return nil, dErrors.New(dErrors.CodeNotFound, "ERC721: invalid token ID")
	}
	return s.tokens[id].Clone(), nil
}

// TokensOf lists the ids owned by owner in mint order.
func (s *Service) TokensOf(_ context.Context, owner common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []uint64{}
	for _, t := range s.tokens {
		if t.Owner == owner {
			out = append(out, t.ID)
		}
	}
	return out
}

// TokenURI renders the token's metadata as a JSON data URI.
func (s *Service) TokenURI(ctx context.Context, id uint64) (string, error) {
	t, err := s.Token(ctx, id)
	if err != nil {
		return "", err
	}
	meta, err := s.funds.GetMeta(ctx, t.FundID)
	if err != nil {
		return "", err
	}
	uri, err := s.descriptor.TokenURI(t, meta)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to render token metadata")
	}
	return uri, nil
}

func (s *Service) HasRole(role domain.Role, account common.Address) bool {
	return s.roles.Has(role, account)
}

func (s *Service) GrantRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	return s.ledger.RunInTx(ctx, func(context.Context) error {
		_, err := s.roles.GrantAs(caller, role, account)
		return err
	})
}

func (s *Service) RevokeRole(ctx context.Context, caller common.Address, role domain.Role, account common.Address) error {
	return s.ledger.RunInTx(ctx, func(context.Context) error {
		_, err := s.roles.RevokeAs(caller, role, account)
		return err
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	tx.AfterCommit(ctx, func() {
		if err := s.auditPublisher.Emit(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit sos event",
				"action", event.Action,
				"error", err,
			)
		}
	})
}
