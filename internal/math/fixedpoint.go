package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// AmountConfig covers both prices and currency amounts: one whole
	// currency unit is 1e9 smallest units (lamport-style).
	AmountConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000}
)

// BpsDenom is the denominator for basis-point weights (100% == 10_000 bps).
const BpsDenom int64 = 10_000

// int128Pool recycles big.Int intermediates on the trade hot path.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// multiplyInt128 performs a * b using int128 to prevent overflow. The
// result comes from the pool; release it with putInt128.
func multiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type roundingMode int

const (
	roundHalfEven roundingMode = iota // Banker's rounding (default)
	roundDown
	roundUp
)

// divideInt128 performs numerator / denominator with rounding
func divideInt128(numerator *big.Int, denominator int64, mode roundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch mode {
	case roundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case roundUp:
		if remainder.Sign() > 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// ApplyBps returns amount * bps / 10_000, truncated toward zero.
// Truncation is deliberate so that bucket remainders can be assigned
// to an anchor bucket by the caller and sums stay exact.
func ApplyBps(amount, bps int64) int64 {
	n := multiplyInt128(amount, bps)
	result := divideInt128(n, BpsDenom, roundDown)
	putInt128(n)
	return result
}

// ComputeAvgPrice calculates the cost-weighted average price per key
// from total invested and balance, with banker's rounding.
func ComputeAvgPrice(totalInvested, balance int64) int64 {
	if balance == 0 {
		return 0
	}
	n := getInt128()
	n.SetInt64(totalInvested)
	result := divideInt128(n, balance, roundHalfEven)
	putInt128(n)
	return result
}

// ComputeCostBasis returns avgPrice * keys, the invested amount
// attributed to a holding of that size.
func ComputeCostBasis(avgPrice, keys int64) int64 {
	n := multiplyInt128(avgPrice, keys)
	defer putInt128(n)
	if !n.IsInt64() {
		// avgPrice and keys are both bounded by prior trade volume;
		// overflow here means corrupt ledger state.
		panic("fpmath: cost basis overflows int64")
	}
	return n.Int64()
}

// ComputeUnrealizedPnl calculates balance * (currentPrice - avgPrice).
func ComputeUnrealizedPnl(balance, currentPrice, avgPrice int64) int64 {
	n := multiplyInt128(balance, currentPrice-avgPrice)
	defer putInt128(n)
	if !n.IsInt64() {
		panic("fpmath: unrealized pnl overflows int64")
	}
	return n.Int64()
}
