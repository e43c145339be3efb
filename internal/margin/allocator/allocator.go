// Package allocator computes target collateral per symbol from a set
// of open positions, a total budget, and per-symbol risk weights.
package allocator

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

// WeightFunc returns the risk weight for a symbol.
type WeightFunc func(symbol string) float64

// Targets computes target margin per symbol so that the targets sum
// to budget (within rounding) and every target is non-negative.
//
// w_i = notional_i * weight_i. When the sum of w_i is zero (every
// position has zero notional, or all weights are zero), the budget is
// split equally across positions. Otherwise target_i = budget * w_i /
// sum(w_j). Ordering of positions does not affect the result.
func Targets(positions []domain.Position, budget decimal.Decimal, weight WeightFunc) map[string]decimal.Decimal {
	targets := make(map[string]decimal.Decimal, len(positions))
	if len(positions) == 0 {
		return targets
	}

	weighted := make([]decimal.Decimal, len(positions))
	sumWeighted := decimal.Zero
	for i, p := range positions {
		w := decimal.NewFromFloat(weight(p.Symbol))
		weighted[i] = p.Notional().Mul(w)
		sumWeighted = sumWeighted.Add(weighted[i])
	}

	if sumWeighted.IsZero() {
		equalShare := budget.Div(decimal.NewFromInt(int64(len(positions))))
		for _, p := range positions {
			targets[p.Symbol] = equalShare
		}
		return targets
	}

	for i, p := range positions {
		targets[p.Symbol] = budget.Mul(weighted[i]).Div(sumWeighted)
	}
	return targets
}
