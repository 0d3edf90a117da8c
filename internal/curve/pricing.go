package curve

import (
	"errors"
	"math/big"
)

// ErrAmountOverflow is returned when a price or cost exceeds the int64
// range of the fixed-point amount representation.
var ErrAmountOverflow = errors.New("curve: amount exceeds int64 range")

// Params defines the pricing polynomial
//
//	P(s) = BasePrice + LinearCoef*s + QuadCoef*s^2
//
// with every coefficient in smallest currency units (scale 1e9).
// All three are configuration, not constants: the graduation targets
// and curve shape are tuned per deployment.
//
// P is non-decreasing for non-negative coefficients and P(0) == BasePrice.
type Params struct {
	BasePrice  int64
	LinearCoef int64
	QuadCoef   int64
}

// Validate rejects coefficient sets that would break monotonicity.
func (p Params) Validate() error {
	if p.BasePrice < 0 || p.LinearCoef < 0 || p.QuadCoef < 0 {
		return errors.New("curve: pricing coefficients must be non-negative")
	}
	return nil
}

// Price returns P(supply) in smallest currency units. Pure: no external
// state, no floating point, identical output for identical input.
func (p Params) Price(supply int64) (int64, error) {
	if supply < 0 {
		return 0, errors.New("curve: negative supply")
	}

	s := big.NewInt(supply)
	total := big.NewInt(p.BasePrice)

	lin := new(big.Int).Mul(big.NewInt(p.LinearCoef), s)
	total.Add(total, lin)

	quad := new(big.Int).Mul(s, s)
	quad.Mul(quad, big.NewInt(p.QuadCoef))
	total.Add(total, quad)

	if !total.IsInt64() {
		return 0, ErrAmountOverflow
	}
	return total.Int64(), nil
}

// Cost returns the exact cost of moving supply from `from` to `to`
// (to > from), i.e. the discrete sum
//
//	Σ_{s=from}^{to-1} P(s)
//
// evaluated in closed form: the base term contributes BasePrice*n, the
// linear term a difference of triangular numbers, the quadratic term a
// difference of square-pyramidal numbers. The first key on an empty
// curve therefore costs exactly BasePrice.
func (p Params) Cost(from, to int64) (int64, error) {
	if from < 0 || to < from {
		return 0, errors.New("curve: invalid supply interval")
	}
	if from == to {
		return 0, nil
	}

	n := big.NewInt(to - from)

	total := new(big.Int).Mul(big.NewInt(p.BasePrice), n)

	if p.LinearCoef > 0 {
		s1 := sumRange(from, to)
		s1.Mul(s1, big.NewInt(p.LinearCoef))
		total.Add(total, s1)
	}

	if p.QuadCoef > 0 {
		s2 := sumSquareRange(from, to)
		s2.Mul(s2, big.NewInt(p.QuadCoef))
		total.Add(total, s2)
	}

	if !total.IsInt64() {
		return 0, ErrAmountOverflow
	}
	return total.Int64(), nil
}

// sumRange returns Σ_{i=from}^{to-1} i = T(to-1) - T(from-1).
func sumRange(from, to int64) *big.Int {
	return new(big.Int).Sub(triangular(to-1), triangular(from-1))
}

// sumSquareRange returns Σ_{i=from}^{to-1} i² = Q(to-1) - Q(from-1).
func sumSquareRange(from, to int64) *big.Int {
	return new(big.Int).Sub(pyramidal(to-1), pyramidal(from-1))
}

// triangular returns n(n+1)/2, 0 for n < 1.
func triangular(n int64) *big.Int {
	if n < 1 {
		return big.NewInt(0)
	}
	t := new(big.Int).Mul(big.NewInt(n), big.NewInt(n+1))
	return t.Rsh(t, 1)
}

// pyramidal returns n(n+1)(2n+1)/6, 0 for n < 1.
func pyramidal(n int64) *big.Int {
	if n < 1 {
		return big.NewInt(0)
	}
	q := new(big.Int).Mul(big.NewInt(n), big.NewInt(n+1))
	q.Mul(q, big.NewInt(2*n+1))
	return q.Div(q, big.NewInt(6))
}
