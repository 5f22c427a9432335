package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PackedSize is the length of a packed request: nine 32 byte words.
const PackedSize = 9 * 32

// packArguments is the v1 word layout handed to oracles. Word 6 is reserved
// and always zero. Coordinates go out as int256 so negative values are sign
// extended; non-negative ones encode the same bytes as uint256.
var packArguments = mustArguments(
	"uint256", // request id
	"uint256", // check index
	"uint8",   // request type
	"int256",  // latitude
	"int256",  // longitude
	"address", // recipient
	"uint256", // reserved
	"uint256", // amount
	"address", // token
)

// Packed is a decoded request word set.
type Packed struct {
	RequestID   *big.Int
	CheckIndex  *big.Int
	RequestType uint8
	Lat         *big.Int
	Lon         *big.Int
	Recipient   common.Address
	Reserved    *big.Int
	Amount      *big.Int
	Token       common.Address
}

// PackRequestWithCheck encodes r together with one of its check indexes.
// Equal inputs always produce equal bytes.
func PackRequestWithCheck(r *Request, checkIndex int) ([]byte, error) {
	if _, err := r.Check(checkIndex); err != nil {
		return nil, err
	}
	out, err := packArguments.Pack(
		new(big.Int).SetUint64(uint64(r.ID)),
		big.NewInt(int64(checkIndex)),
		r.RequestType,
		orZero(r.Location.Lat),
		orZero(r.Location.Lon),
		r.Recipient,
		new(big.Int),
		orZero(r.Amount),
		r.Token,
	)
	if err != nil {
		return nil, fmt.Errorf("pack request %d: %w", r.ID, err)
	}
	return out, nil
}

// UnpackRequestWithCheck decodes the output of PackRequestWithCheck.
func UnpackRequestWithCheck(data []byte) (*Packed, error) {
	if len(data) != PackedSize {
		return nil, fmt.Errorf("packed request must be %d bytes, got %d", PackedSize, len(data))
	}
	values, err := packArguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack request: %w", err)
	}
	return &Packed{
		RequestID:   values[0].(*big.Int),
		CheckIndex:  values[1].(*big.Int),
		RequestType: values[2].(uint8),
		Lat:         values[3].(*big.Int),
		Lon:         values[4].(*big.Int),
		Recipient:   values[5].(common.Address),
		Reserved:    values[6].(*big.Int),
		Amount:      values[7].(*big.Int),
		Token:       values[8].(common.Address),
	}, nil
}

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}
