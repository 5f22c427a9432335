// Package models holds the Governor's disbursement requests and their
// approval state.
package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	fundmodels "sos/internal/fund/models"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

// Location is a signed fixed point coordinate pair with ten decimals. Each
// coordinate fits an int128.
type Location struct {
	Lat *big.Int `json:"lat"`
	Lon *big.Int `json:"lon"`
}

// CheckState records who approved a check. Signer stays zero until then.
type CheckState struct {
	Approved bool           `json:"approved"`
	Signer   common.Address `json:"signer"`
}

// Request asks a fund to pay Amount of Token to Recipient. Checks is
// snapshotted at creation; States is indexed the same way.
type Request struct {
	ID          domain.RequestID   `json:"id"`
	FundID      domain.FundID      `json:"fund_id"`
	Amount      *big.Int           `json:"amount"`
	Token       common.Address     `json:"token"`
	Recipient   common.Address     `json:"recipient"`
	RequestType uint8              `json:"request_type"`
	Location    Location           `json:"location"`
	Description string             `json:"description"`
	Checks      []fundmodels.Check `json:"checks"`
	States      []CheckState       `json:"states"`
	Pending     int                `json:"pending"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Input is the caller supplied part of a request.
type Input struct {
	FundID      domain.FundID
	Amount      *big.Int
	Token       common.Address
	Recipient   common.Address
	RequestType uint8
	Location    Location
	Description string
}

// Validate checks the shape of the input. Fund state is checked by the
// service.
func (in Input) Validate() error {
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if in.Amount.BitLen() > 256 {
		return dErrors.New(dErrors.CodeValidation, "amount exceeds uint256")
	}
	if in.Token == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "token must not be the zero address")
	}
	if in.Recipient == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "recipient must not be the zero address")
	}
	if !fitsInt128(in.Location.Lat) || !fitsInt128(in.Location.Lon) {
		return dErrors.New(dErrors.CodeValidation, "location out of int128 range")
	}
	if len(strings.TrimSpace(in.Description)) > 1024 {
		return dErrors.New(dErrors.CodeValidation, "description too long")
	}
	return nil
}

// NewRequest builds a request with every check pending.
func NewRequest(id domain.RequestID, in Input, checks []fundmodels.Check, now time.Time) *Request {
	return &Request{
		ID:          id,
		FundID:      in.FundID,
		Amount:      new(big.Int).Set(in.Amount),
		Token:       in.Token,
		Recipient:   in.Recipient,
		RequestType: in.RequestType,
		Location:    Location{Lat: orZero(in.Location.Lat), Lon: orZero(in.Location.Lon)},
		Description: in.Description,
		Checks:      append([]fundmodels.Check{}, checks...),
		States:      make([]CheckState, len(checks)),
		Pending:     len(checks),
		CreatedAt:   now,
	}
}

// CheckIndex finds a check by name.
func (r *Request) CheckIndex(name domain.Name) (int, error) {
	for i, c := range r.Checks {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("check %s not found on request %d", name, r.ID))
}

// Check returns the check at index.
func (r *Request) Check(index int) (fundmodels.Check, error) {
	if index < 0 || index >= len(r.Checks) {
		return fundmodels.Check{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("check index %d out of range on request %d", index, r.ID))
	}
	return r.Checks[index], nil
}

// CanApprove fails with NotAllowed once a check has a signer.
func (r *Request) CanApprove(index int) error {
	if _, err := r.Check(index); err != nil {
		return err
	}
	if r.States[index].Approved {
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: check "+r.Checks[index].Name.String()+" already approved")
	}
	return nil
}

func (r *Request) ApplyApprove(index int, signer common.Address) {
	r.States[index] = CheckState{Approved: true, Signer: signer}
	r.Pending--
}

// Signer returns the approver of a check, or the zero address.
func (r *Request) Signer(name domain.Name) (common.Address, error) {
	i, err := r.CheckIndex(name)
	if err != nil {
		return common.Address{}, err
	}
	return r.States[i].Signer, nil
}

// RemainingChecks lists unapproved checks in snapshot order.
func (r *Request) RemainingChecks() []domain.Name {
	names, _ := r.filter(false)
	return names
}

// ApprovedChecks lists approved checks in snapshot order together with their
// signers, index aligned.
func (r *Request) ApprovedChecks() ([]domain.Name, []common.Address) {
	return r.filter(true)
}

func (r *Request) filter(approved bool) ([]domain.Name, []common.Address) {
	names := []domain.Name{}
	signers := []common.Address{}
	for i, c := range r.Checks {
		if r.States[i].Approved == approved {
			names = append(names, c.Name)
			signers = append(signers, r.States[i].Signer)
		}
	}
	return names, signers
}

func (r *Request) IsApproved() bool {
	return r.Pending == 0
}

func (r *Request) Clone() *Request {
	c := *r
	c.Amount = new(big.Int).Set(r.Amount)
	c.Location = Location{Lat: orZero(r.Location.Lat), Lon: orZero(r.Location.Lon)}
	c.Checks = append([]fundmodels.Check{}, r.Checks...)
	c.States = append([]CheckState{}, r.States...)
	return &c
}

// Coordinates are stored as int128.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func fitsInt128(v *big.Int) bool {
	if v == nil {
		return true
	}
	return v.Cmp(minInt128) >= 0 && v.Cmp(maxInt128) <= 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
