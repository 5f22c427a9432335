package models

import (
	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

// Entry maps a registry name to a component address.
type Entry struct {
	Name    domain.Name    `json:"name"`
	Address common.Address `json:"address"`
}

// NewEntry validates that both sides of the mapping are set.
func NewEntry(name domain.Name, addr common.Address) (Entry, error) {
	if name.IsZero() {
		return Entry{}, dErrors.New(dErrors.CodeInvariantViolation, "registry name is required")
	}
	if addr == (common.Address{}) {
		return Entry{}, dErrors.New(dErrors.CodeInvariantViolation, "registry address must not be the zero address")
	}
	return Entry{Name: name, Address: addr}, nil
}

// Pair zips names and addresses into entries. The slices must be the same
// length.
func Pair(names []domain.Name, addrs []common.Address) ([]Entry, error) {
	if len(names) != len(addrs) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "names and addresses differ in length")
	}
	out := make([]Entry, 0, len(names))
	for i := range names {
		e, err := NewEntry(names[i], addrs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
