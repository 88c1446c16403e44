package domain

import (
	"math/big"
	"time"
)

// ReplacementParams are the fields of a same-nonce self transfer that supersedes a stuck transaction.
type ReplacementParams struct {
	From                 string
	To                   string
	Value                *big.Int
	Nonce                uint64
	GasLimit             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

type ReplacementStatus string

const (
	ReplacementStatusReplaced     ReplacementStatus = "replaced"
	ReplacementStatusNonceExpired ReplacementStatus = "nonce_expired"
	ReplacementStatusFailed       ReplacementStatus = "failed"
)

// ReplacementEvent records the settled result of one replacement attempt.
type ReplacementEvent struct {
	ID                   string            `json:"id"`
	OriginalHash         string            `json:"originalHash"`
	ReplacementHash      string            `json:"replacementHash,omitempty"`
	From                 string            `json:"from"`
	Nonce                uint64            `json:"nonce"`
	Status               ReplacementStatus `json:"status"`
	MaxPriorityFeePerGas string            `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerGas         string            `json:"maxFeePerGas,omitempty"`
	GasLimit             string            `json:"gasLimit,omitempty"`
	Error                string            `json:"error,omitempty"`
	FeeSampleCID         string            `json:"feeSampleCid,omitempty"`
	OccurredAt           time.Time         `json:"occurredAt"`
}
