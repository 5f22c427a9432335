// Package models holds the oracle consumer's wire and bookkeeping types.
package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/domain"
)

// OutboundRequest is what an oracle node receives for one check.
type OutboundRequest struct {
	ID         common.Hash      `json:"id"`
	Consumer   common.Address   `json:"consumer"`
	Oracle     common.Address   `json:"oracle"`
	JobID      domain.Name      `json:"job_id"`
	Fee        *big.Int         `json:"fee"`
	RequestID  domain.RequestID `json:"request_id"`
	CheckIndex int              `json:"check_index"`
	// Payload is the packed request, nine ABI words.
	Payload []byte    `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Fulfillment is an oracle node's answer to an OutboundRequest. Payload is a
// single 32 byte word; any non-zero value means the check passed.
type Fulfillment struct {
	ID      common.Hash    `json:"id"`
	Oracle  common.Address `json:"oracle"`
	Payload []byte         `json:"payload"`
}

// Pending tracks a dispatched request until its fulfilment arrives.
type Pending struct {
	ID         common.Hash      `json:"id"`
	Oracle     common.Address   `json:"oracle"`
	RequestID  domain.RequestID `json:"request_id"`
	CheckIndex int              `json:"check_index"`
	JobID      domain.Name      `json:"job_id"`
	SentAt     time.Time        `json:"sent_at"`
}

// Config is the owner controlled consumer setup.
type Config struct {
	Owner     common.Address
	Oracle    common.Address
	JobID     domain.Name
	Fee       *big.Int
	LinkToken common.Address
}
