package models

import (
	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

// Safe is an M-of-N multisig wallet holding a fund's tokens.
type Safe struct {
	Address   common.Address   `json:"address"`
	Owners    []common.Address `json:"owners"`
	Threshold uint64           `json:"threshold"`
	Nonce     uint64           `json:"nonce"`
}

// ValidateSetup checks the owner set and threshold. Any failure is NotAllowed.
func ValidateSetup(owners []common.Address, threshold uint64) error {
	if len(owners) == 0 {
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: safe needs at least one owner")
	}
	if threshold == 0 || threshold > uint64(len(owners)) {
		return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: threshold must be between 1 and the number of owners")
	}
	seen := make(map[common.Address]struct{}, len(owners))
	for _, o := range owners {
		if o == (common.Address{}) {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: zero address owner")
		}
		if _, dup := seen[o]; dup {
			return dErrors.New(dErrors.CodeNotAllowed, "NotAllowed: duplicate owner "+o.Hex())
		}
		seen[o] = struct{}{}
	}
	return nil
}

func (s *Safe) IsOwner(a common.Address) bool {
	return domain.ContainsAddress(s.Owners, a)
}
