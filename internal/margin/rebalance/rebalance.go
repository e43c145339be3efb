// Package rebalance turns current-vs-target collateral into a
// filtered, safely-ordered sequence of Adjustment Plans and executes
// them through an exchange adapter.
package rebalance

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

// Thresholds are the conjunctive filters a delta must clear to be
// emitted as an Adjustment Plan.
type Thresholds struct {
	MinAdjustment decimal.Decimal
	MinDeviation  decimal.Decimal // percent, e.g. 5 for 5%
}

// Executor submits a single margin adjustment to the exchange.
type Executor interface {
	AdjustMargin(ctx context.Context, fullSymbol string, delta decimal.Decimal) (bool, error)
}

// SymbolResolver maps a short symbol to its exchange-specific full
// symbol. The core treats the result as opaque.
type SymbolResolver interface {
	FullSymbol(symbol string) string
}

// HistorySink receives a record for every successfully executed
// adjustment.
type HistorySink interface {
	RecordAdjustment(domain.AdjustmentRecord)
}

// Result is the outcome of executing a plan sequence. Per-adjustment
// failure is isolated: it never aborts the remainder of the plan.
type Result struct {
	SuccessCount int
	FailCount    int
	TotalMoved   decimal.Decimal
	Records      []domain.AdjustmentRecord
}

// Plan builds the filtered, ordered list of Adjustment Plans for the
// given positions and targets. For each position delta = target -
// margin; a delta is discarded when |delta| < MinAdjustment, or when
// margin > 0 and |delta|/margin*100 < MinDeviation. Both thresholds
// are conjunctive filters on retention, not alternatives: the
// remaining plan satisfies neither individually.
//
// Decreases are ordered before increases (index of every decrease <
// index of every increase); within decreases, sorted by |delta|
// descending; within increases, sorted by delta ascending.
func Plan(positions []domain.Position, targets map[string]decimal.Decimal, th Thresholds) []domain.AdjustmentPlan {
	var decreases, increases []domain.AdjustmentPlan

	for _, p := range positions {
		target, ok := targets[p.Symbol]
		if !ok {
			continue
		}
		delta := target.Sub(p.Margin)
		absDelta := delta.Abs()

		if absDelta.LessThan(th.MinAdjustment) {
			continue
		}
		if p.Margin.IsPositive() {
			deviationPct := absDelta.Div(p.Margin).Mul(decimal.NewFromInt(100))
			if deviationPct.LessThan(th.MinDeviation) {
				continue
			}
		}

		plan := domain.AdjustmentPlan{Symbol: p.Symbol, Delta: delta}
		if plan.IsDecrease() {
			decreases = append(decreases, plan)
		} else {
			increases = append(increases, plan)
		}
	}

	sort.Slice(decreases, func(i, j int) bool {
		return decreases[i].Delta.Abs().GreaterThan(decreases[j].Delta.Abs())
	})
	sort.Slice(increases, func(i, j int) bool {
		return increases[i].Delta.LessThan(increases[j].Delta)
	})

	return append(decreases, increases...)
}

// Planner executes a plan sequence through the exchange adapter,
// recording each success to the history sink.
type Planner struct {
	exchange Executor
	resolver SymbolResolver
	history  HistorySink
	log      zerolog.Logger
}

// New builds a Planner.
func New(exchange Executor, resolver SymbolResolver, history HistorySink, log zerolog.Logger) *Planner {
	return &Planner{
		exchange: exchange,
		resolver: resolver,
		history:  history,
		log:      log.With().Str("component", "rebalance").Logger(),
	}
}

// Execute submits every plan in order, isolating per-adjustment
// failure: an earlier failure never prevents a later plan from being
// attempted.
func (pl *Planner) Execute(ctx context.Context, plans []domain.AdjustmentPlan) Result {
	result := Result{TotalMoved: decimal.Zero}

	for _, plan := range plans {
		full := pl.resolver.FullSymbol(plan.Symbol)
		ok, err := pl.exchange.AdjustMargin(ctx, full, plan.Delta)
		if err != nil || !ok {
			result.FailCount++
			pl.log.Warn().Err(err).Str("symbol", plan.Symbol).Str("delta", plan.Delta.String()).
				Msg("margin adjustment failed")
			continue
		}

		result.SuccessCount++
		result.TotalMoved = result.TotalMoved.Add(plan.Delta.Abs())
		record := domain.AdjustmentRecord{Symbol: plan.Symbol, Delta: plan.Delta, At: time.Now()}
		result.Records = append(result.Records, record)
		pl.history.RecordAdjustment(record)
	}

	return result
}
