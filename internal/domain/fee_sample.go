package domain

import (
	"math/big"
	"time"
)

// FeeSample describes the most recently confirmed qualifying transaction on the network.
type FeeSample struct {
	CID       string
	Timestamp time.Time
	GasLimit  *big.Int
	GasFeeCap *big.Int
	GasUsed   *big.Int
}
