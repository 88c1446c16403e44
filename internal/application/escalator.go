package application

import (
	"fmt"
	"math/big"

	"txcanceller/internal/domain"
)

var (
	// MaxBlockGas caps replacement gas limits so they stay broadcastable.
	MaxBlockGas = big.NewInt(10_000_000_000)

	priorityFeeNumerator   = big.NewInt(1252)
	priorityFeeDenominator = big.NewInt(1000)
	gasLimitNumerator      = big.NewInt(11)
	gasLimitDenominator    = big.NewInt(10)
)

// ComputeReplacement derives the fee parameters of a same-nonce self transfer that
// supersedes tx. The priority fee grows by 25.2% rounded up, the gas limit grows by 10%
// over the larger of the current and the recent network gas limit, and the fee cap never
// drops below the recent network fee cap.
func ComputeReplacement(tx domain.PendingTransaction, recentGasLimit, recentGasFeeCap *big.Int, sink LogSink) domain.ReplacementParams {
	currentFee := orZero(tx.MaxPriorityFeePerGas)
	currentGas := orZero(tx.GasLimit)

	// (fee * 1252 + 1000) / 1000 is strictly larger than fee, even for fee == 1.
	priorityFee := new(big.Int).Mul(currentFee, priorityFeeNumerator)
	priorityFee.Add(priorityFee, priorityFeeDenominator)
	priorityFee.Quo(priorityFee, priorityFeeDenominator)

	gasLimit := maxBig(currentGas, orZero(recentGasLimit))
	gasLimit = ceilDiv(new(big.Int).Mul(gasLimit, gasLimitNumerator), gasLimitDenominator)
	if gasLimit.Cmp(MaxBlockGas) > 0 {
		gasLimit = new(big.Int).Set(MaxBlockGas)
	}

	maxFee := maxBig(priorityFee, orZero(recentGasFeeCap))

	if sink != nil {
		sink.Log(fmt.Sprintf("- maxPriorityFeePerGas: %s -> %s", currentFee, priorityFee))
		sink.Log(fmt.Sprintf("- gasLimit: %s -> %s", currentGas, gasLimit))
	}

	return domain.ReplacementParams{
		From:                 tx.From,
		To:                   tx.From,
		Value:                new(big.Int),
		Nonce:                tx.Nonce,
		GasLimit:             gasLimit,
		MaxFeePerGas:         new(big.Int).Set(maxFee),
		MaxPriorityFeePerGas: priorityFee,
	}
}

func ceilDiv(x, y *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(x, y, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
