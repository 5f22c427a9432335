package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/access"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

// Status is the fund lifecycle state. The numeric values are part of the
// public surface.
type Status uint8

const (
	StatusActive Status = iota
	StatusPaused
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Meta is fixed at creation.
type Meta struct {
	Name        string `json:"name"`
	Focus       string `json:"focus"`
	Description string `json:"description"`
}

// Check is one approval step. A zero JobID means a human approver signs it;
// any other value names the oracle job that evaluates it.
type Check struct {
	Name  domain.Name `json:"name"`
	JobID domain.Name `json:"job_id"`
}

func (c Check) IsAutomated() bool {
	return !c.JobID.IsZero()
}

// ValidateChecks rejects empty and repeated check names.
func ValidateChecks(checks []Check) error {
	seen := make(map[domain.Name]struct{}, len(checks))
	for _, c := range checks {
		if c.Name.IsZero() {
			return dErrors.New(dErrors.CodeInvariantViolation, "check name is required")
		}
		if _, dup := seen[c.Name]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "duplicate check "+c.Name.String())
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Fund is a named pot of donations held in a safe.
type Fund struct {
	ID            domain.FundID               `json:"id"`
	Address       common.Address              `json:"address"`
	Meta          Meta                        `json:"meta"`
	Safe          common.Address              `json:"safe"`
	AllowedTokens []common.Address            `json:"allowed_tokens"`
	Status        Status                      `json:"status"`
	Requestable   bool                        `json:"requestable"`
	Checks        []Check                     `json:"checks"`
	Whitelist     []common.Address            `json:"whitelist"`
	Roles         *access.Table               `json:"roles"`
	Donated       map[common.Address]*big.Int `json:"donated"`
	CreatedAt     time.Time                   `json:"created_at"`
}

// Params are the caller supplied creation fields.
type Params struct {
	Meta          Meta
	Safe          common.Address
	AllowedTokens []common.Address
	Requestable   bool
	Checks        []Check
	Whitelist     []common.Address
}

// Validate checks Params without a safe, so it can run before one is deployed.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Meta.Name) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "fund name is required")
	}
	seen := make(map[common.Address]struct{}, len(p.AllowedTokens))
	for _, t := range p.AllowedTokens {
		if t == (common.Address{}) {
			return dErrors.New(dErrors.CodeInvariantViolation, "allowed token must not be the zero address")
		}
		if _, dup := seen[t]; dup {
			return dErrors.New(dErrors.CodeInvariantViolation, "duplicate allowed token "+t.Hex())
		}
		seen[t] = struct{}{}
	}
	for _, w := range p.Whitelist {
		if w == (common.Address{}) {
			return dErrors.New(dErrors.CodeInvariantViolation, "whitelist entry must not be the zero address")
		}
	}
	return ValidateChecks(p.Checks)
}

// NewFund builds an Active fund. admin receives DEFAULT_ADMIN_ROLE and
// APPROVER_ROLE.
func NewFund(id domain.FundID, addr common.Address, admin common.Address, p Params, now time.Time) (*Fund, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Safe == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "safe must not be the zero address")
	}
	roles := access.NewTable(admin)
	roles.Grant(domain.RoleApprover, admin)
	return &Fund{
		ID:            id,
		Address:       addr,
		Meta:          p.Meta,
		Safe:          p.Safe,
		AllowedTokens: append([]common.Address{}, p.AllowedTokens...),
		Status:        StatusActive,
		Requestable:   p.Requestable,
		Checks:        append([]Check{}, p.Checks...),
		Whitelist:     append([]common.Address{}, p.Whitelist...),
		Roles:         roles,
		Donated:       make(map[common.Address]*big.Int),
		CreatedAt:     now,
	}, nil
}

func (f *Fund) CanPause() error {
	if f.Status != StatusActive {
		return notAllowed("pause", f.Status)
	}
	return nil
}

func (f *Fund) ApplyPause() {
	f.Status = StatusPaused
}

func (f *Fund) CanResume() error {
	if f.Status != StatusPaused {
		return notAllowed("resume", f.Status)
	}
	return nil
}

func (f *Fund) ApplyResume() {
	f.Status = StatusActive
}

func (f *Fund) CanClose() error {
	if f.Status == StatusClosed {
		return notAllowed("close", f.Status)
	}
	return nil
}

func (f *Fund) ApplyClose() {
	f.Status = StatusClosed
}

func (f *Fund) IsActive() bool {
	return f.Status == StatusActive
}

func (f *Fund) IsTokenAllowed(token common.Address) bool {
	return domain.ContainsAddress(f.AllowedTokens, token)
}

// DepositAddressFor returns the safe for allowed tokens, whatever the status.
func (f *Fund) DepositAddressFor(token common.Address) (common.Address, error) {
	if !f.IsTokenAllowed(token) {
		return common.Address{}, dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: token "+token.Hex()+" is not accepted by this fund")
	}
	return f.Safe, nil
}

// IsRecipientAllowed is true when the whitelist is empty or lists r.
func (f *Fund) IsRecipientAllowed(r common.Address) bool {
	return len(f.Whitelist) == 0 || domain.ContainsAddress(f.Whitelist, r)
}

// CanUpdateBalance checks the donation bookkeeping preconditions.
func (f *Fund) CanUpdateBalance(caller, token common.Address, amount *big.Int) error {
	if err := f.Roles.Require(domain.RoleDonation, caller); err != nil {
		return err
	}
	if !f.IsTokenAllowed(token) {
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: token "+token.Hex()+" is not accepted by this fund")
	}
	if amount == nil || amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	return nil
}

func (f *Fund) ApplyUpdateBalance(token common.Address, amount *big.Int) {
	prev, ok := f.Donated[token]
	if !ok {
		prev = new(big.Int)
	}
	f.Donated[token] = new(big.Int).Add(prev, amount)
}

// DonatedTotal returns the cumulative amount donated in token.
func (f *Fund) DonatedTotal(token common.Address) *big.Int {
	if v, ok := f.Donated[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Clone returns a deep copy.
func (f *Fund) Clone() *Fund {
	c := *f
	c.AllowedTokens = append([]common.Address{}, f.AllowedTokens...)
	c.Checks = append([]Check{}, f.Checks...)
	c.Whitelist = append([]common.Address{}, f.Whitelist...)
	if f.Roles != nil {
		c.Roles = f.Roles.Clone()
	}
	c.Donated = make(map[common.Address]*big.Int, len(f.Donated))
	for t, v := range f.Donated {
		c.Donated[t] = new(big.Int).Set(v)
	}
	return &c
}

func notAllowed(op string, from Status) error {
	return dErrors.New(dErrors.CodeNotAllowed, fmt.Sprintf("NotAllowed: cannot %s a %s fund", op, from))
}
