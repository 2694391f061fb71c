// Package allocation turns a single amount into a weighted multi-token split,
// partitions holdings for partial withdrawals and computes rebalance deltas.
//
// Every function is pure. Ratios use integer arithmetic truncated toward
// zero; the truncation residue is never redistributed, so the sum of a split
// may fall short of the input by up to len(weights)-1 minimal units.
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// MulRatio returns x*num/den truncated toward zero. A zero denominator yields zero.
func MulRatio(x, num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	q, _ := x.Mul(num).QuoRem(den, 0)
	return q
}

// Allocate splits amount across weights in proportion weight/Σweights. The
// divisor is taken from the weights themselves, so an unvalidated list is
// tolerated rather than assumed to sum to 100.
func Allocate(amount decimal.Decimal, weights []model.TokenWeight) map[string]decimal.Decimal {
	total := int64(0)
	for _, tw := range weights {
		total += int64(tw.Weight)
	}
	den := decimal.NewFromInt(total)

	out := make(map[string]decimal.Decimal, len(weights))
	for _, tw := range weights {
		share := MulRatio(amount, decimal.NewFromInt(int64(tw.Weight)), den)
		out[tw.Token.Symbol] = out[tw.Token.Symbol].Add(share)
	}
	return out
}

// SplitProportional takes percentage/100 of every holding. remaining is
// current minus withdrawn per token, so withdrawn+remaining == current exactly.
func SplitProportional(current map[string]decimal.Decimal, percentage uint8) (withdrawn, remaining map[string]decimal.Decimal) {
	pct := decimal.NewFromInt(int64(percentage))
	withdrawn = make(map[string]decimal.Decimal, len(current))
	remaining = make(map[string]decimal.Decimal, len(current))
	for sym, amt := range current {
		w := MulRatio(amt, pct, hundred)
		withdrawn[sym] = w
		remaining[sym] = amt.Sub(w)
	}
	return withdrawn, remaining
}

// RebalanceDelta returns target-current per token, where target is
// Allocate(totalValue, weights). Tokens that left the basket get -current,
// newly introduced tokens get +target. The target map is returned alongside
// so callers can store it without recomputing.
func RebalanceDelta(current map[string]decimal.Decimal, weights []model.TokenWeight, totalValue decimal.Decimal) (delta, target map[string]decimal.Decimal) {
	target = Allocate(totalValue, weights)
	delta = make(map[string]decimal.Decimal, len(current)+len(target))
	for sym, amt := range target {
		delta[sym] = amt.Sub(current[sym])
	}
	for sym, amt := range current {
		if _, ok := target[sym]; !ok {
			delta[sym] = amt.Neg()
		}
	}
	return delta, target
}
