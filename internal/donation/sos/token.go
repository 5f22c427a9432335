// Package sos is the SOS donation receipt: a non-fungible token minted to
// every donor, plus the descriptor that renders its metadata.
package sos

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/domain"
)

// Token is one minted receipt. Ids start at zero and are never reused.
type Token struct {
	ID       uint64         `json:"id"`
	Owner    common.Address `json:"owner"`
	FundID   domain.FundID  `json:"fund_id"`
	Amount   *big.Int       `json:"amount"`
	Asset    common.Address `json:"asset"`
	MintedAt time.Time      `json:"minted_at"`
}

func (t *Token) Clone() *Token {
	c := *t
	c.Amount = new(big.Int).Set(t.Amount)
	return &c
}
