package domain

import (
	"math/big"
	"time"
)

// PendingTransaction is one broadcast attempt waiting for confirmation.
type PendingTransaction struct {
	Hash                 string
	From                 string
	Nonce                uint64
	MaxPriorityFeePerGas *big.Int
	GasLimit             *big.Int
	Timestamp            time.Time
}

// Age reports how long the record has been pending at now.
func (p PendingTransaction) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}
