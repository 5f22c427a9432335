package domain

import (
	"github.com/ethereum/go-ethereum/common"

	dErrors "sos/pkg/domain-errors"
)

// ZeroAddress is returned by lookups that find nothing.
var ZeroAddress = common.Address{}

// ParseAddress validates a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidInput, "invalid address: "+s)
	}
	return common.HexToAddress(s), nil
}

// ParseAddresses parses each entry, failing on the first invalid one.
func ParseAddresses(values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		a, err := ParseAddress(v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ContainsAddress is a linear membership test over small lists.
func ContainsAddress(list []common.Address, a common.Address) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
