package settlement

import (
	"math/big"

	"claimchain/native/gov"
)

// PayoutsPerUnit computes the 1e18-scaled long and short payouts per position
// token unit for a confirmed reference value. The curve is piecewise linear:
// zero below the floor, gradient at the inflection, one at or above the cap.
// The two sides always sum to exactly one unit.
func PayoutsPerUnit(floor, inflection, cap, gradient, value *big.Int) (*big.Int, *big.Int) {
	one := new(big.Int).Set(gov.UnitScale)
	long := new(big.Int)
	switch {
	case value.Cmp(cap) >= 0:
		long.Set(one)
	case value.Cmp(floor) <= 0:
		// zero
	case value.Cmp(inflection) == 0:
		long.Set(gradient)
	case value.Cmp(inflection) < 0:
		// gradient * (value - floor) / (inflection - floor)
		span := new(big.Int).Sub(inflection, floor)
		long.Sub(value, floor)
		long.Mul(long, gradient)
		long.Div(long, span)
	default:
		// gradient + (1 - gradient) * (value - inflection) / (cap - inflection)
		span := new(big.Int).Sub(cap, inflection)
		rest := new(big.Int).Sub(one, gradient)
		long.Sub(value, inflection)
		long.Mul(long, rest)
		long.Div(long, span)
		long.Add(long, gradient)
	}
	short := new(big.Int).Sub(one, long)
	return long, short
}
