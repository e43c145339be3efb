package allocator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

func TestTargets_TwoPositionSplit(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC", Quantity: decimal.NewFromFloat(0.5), CurrentPrice: decimal.NewFromInt(50000), Margin: decimal.NewFromInt(400)},
		{Symbol: "ETH", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(3000), Margin: decimal.NewFromInt(400)},
	}
	weights := map[string]float64{"BTC": 1.0, "ETH": 1.2}

	targets := Targets(positions, decimal.NewFromInt(800), func(symbol string) float64 { return weights[symbol] })

	btc, _ := targets["BTC"].Float64()
	eth, _ := targets["ETH"].Float64()
	assert.InDelta(t, 327.87, btc, 0.01)
	assert.InDelta(t, 472.13, eth, 0.01)
}

func TestTargets_SumsToBudget(t *testing.T) {
	tests := []struct {
		name      string
		positions []domain.Position
		budget    decimal.Decimal
		weights   map[string]float64
	}{
		{
			name: "positive weights",
			positions: []domain.Position{
				{Symbol: "A", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(100)},
				{Symbol: "B", Quantity: decimal.NewFromInt(2), CurrentPrice: decimal.NewFromInt(50)},
			},
			budget:  decimal.NewFromInt(1000),
			weights: map[string]float64{"A": 2, "B": 1},
		},
		{
			name: "single position",
			positions: []domain.Position{
				{Symbol: "A", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(10)},
			},
			budget:  decimal.NewFromInt(500),
			weights: map[string]float64{"A": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := Targets(tt.positions, tt.budget, func(symbol string) float64 { return tt.weights[symbol] })

			sum := decimal.Zero
			for _, v := range targets {
				assert.True(t, v.GreaterThanOrEqual(decimal.Zero))
				sum = sum.Add(v)
			}
			diff := sum.Sub(tt.budget).Abs()
			assert.True(t, diff.LessThan(decimal.NewFromFloat(0.01)), "targets should sum to budget within tolerance")
		})
	}
}

func TestTargets_DegenerateZeroNotionalSplitsEqually(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "A", Quantity: decimal.Zero, CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "B", Quantity: decimal.Zero, CurrentPrice: decimal.NewFromInt(200)},
	}

	targets := Targets(positions, decimal.NewFromInt(100), func(string) float64 { return 1.0 })

	assert.True(t, targets["A"].Equal(decimal.NewFromInt(50)))
	assert.True(t, targets["B"].Equal(decimal.NewFromInt(50)))
}

func TestTargets_EmptyPositions(t *testing.T) {
	targets := Targets(nil, decimal.NewFromInt(100), func(string) float64 { return 1.0 })
	assert.Empty(t, targets)
}

func TestTargets_WeightMonotonicity(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "A", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "B", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(100)},
	}

	before := Targets(positions, decimal.NewFromInt(1000), func(symbol string) float64 {
		if symbol == "A" {
			return 1.0
		}
		return 1.0
	})

	after := Targets(positions, decimal.NewFromInt(1000), func(symbol string) float64 {
		if symbol == "A" {
			return 2.0
		}
		return 1.0
	})

	assert.True(t, after["A"].GreaterThan(before["A"]))
	assert.True(t, after["B"].LessThan(before["B"]))
}
