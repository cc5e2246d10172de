package batch

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds v to the given number of decimal places, half away from zero,
// using the shortest decimal representation of v so that 2.675 rounds to 2.68.
// NaN and infinities are returned unchanged.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// MulRound returns round(q*p, places) computed in decimal arithmetic.
func MulRound(q int64, p float64, places int32) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return math.NaN()
	}
	return decimal.NewFromInt(q).Mul(decimal.NewFromFloat(p)).Round(places).InexactFloat64()
}
