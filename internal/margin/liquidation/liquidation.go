// Package liquidation determines whether total collateral is in
// deficit and, if so, builds a priority-ordered partial-close plan.
package liquidation

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

const defaultPriorityKey = "default"

// Config holds the liquidation guards and sizing constants read from
// the configuration surface.
type Config struct {
	Enabled              bool
	DryRun               bool
	MaxSingleClosePct    decimal.Decimal // e.g. 25 for 25%
	CooldownSeconds      int
	SafetyMultiplier     decimal.Decimal // e.g. 3
	MaintenanceMarginPct decimal.Decimal // e.g. 0.5 for 0.5%
	Priority             map[string]int  // symbol -> priority, "default" for unlisted
}

// Clock tracks the wall time of the last successful liquidation.
// Created at startup; updated only on success; never persisted.
type Clock struct {
	last time.Time
}

// NewClock returns a Clock with no prior liquidation recorded.
func NewClock() *Clock { return &Clock{} }

// SinceLast returns the duration since the last successful
// liquidation, or a very large duration if none has occurred.
func (c *Clock) SinceLast() time.Duration {
	if c.last.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(c.last)
}

func (c *Clock) markSuccess() { c.last = time.Now() }

// Executor submits a partial close to the exchange.
type Executor interface {
	ClosePosition(ctx context.Context, fullSymbol string, side domain.Side, quantity decimal.Decimal) (bool, error)
}

// SymbolResolver maps a short symbol to its exchange-specific full symbol.
type SymbolResolver interface {
	FullSymbol(symbol string) string
}

// HistorySink receives a record for every successfully executed
// liquidation.
type HistorySink interface {
	RecordLiquidation(domain.LiquidationRecord)
}

// Result is the outcome of evaluating (and possibly executing) a
// liquidation pass.
type Result struct {
	Executed bool
	Reason   string // set when Executed is false, or always in dry-run
	Plans    []domain.LiquidationPlan
}

// Planner evaluates deficit and executes the resulting plan.
type Planner struct {
	cfg      Config
	exchange Executor
	resolver SymbolResolver
	history  HistorySink
	clock    *Clock
	log      zerolog.Logger
}

// New builds a liquidation Planner.
func New(cfg Config, exchange Executor, resolver SymbolResolver, history HistorySink, clock *Clock, log zerolog.Logger) *Planner {
	return &Planner{
		cfg:      cfg,
		exchange: exchange,
		resolver: resolver,
		history:  history,
		clock:    clock,
		log:      log.With().Str("component", "liquidation").Logger(),
	}
}

// priority returns the configured priority for symbol, falling back
// to the "default" entry, then to the largest possible int (sorts last).
func (pl *Planner) priority(symbol string) int {
	if p, ok := pl.cfg.Priority[symbol]; ok {
		return p
	}
	if p, ok := pl.cfg.Priority[defaultPriorityKey]; ok {
		return p
	}
	return int(^uint(0) >> 1)
}

// plan computes the deficit gap and, if positive, the ordered,
// sized list of Liquidation Plans. It does not apply the enable,
// cooldown, or dry-run guards — callers (Evaluate) do that.
func (pl *Planner) plan(positions []domain.Position, availableBalance decimal.Decimal) []domain.LiquidationPlan {
	minSafeSum := decimal.Zero
	marginSum := decimal.Zero
	for _, p := range positions {
		minSafe := p.Notional().
			Mul(pl.cfg.MaintenanceMarginPct).Div(decimal.NewFromInt(100)).
			Mul(pl.cfg.SafetyMultiplier)
		minSafeSum = minSafeSum.Add(minSafe)
		marginSum = marginSum.Add(p.Margin)
	}

	gap := minSafeSum.Sub(marginSum).Sub(availableBalance)
	if gap.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	ordered := make([]domain.Position, len(positions))
	copy(ordered, positions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return pl.priority(ordered[i].Symbol) < pl.priority(ordered[j].Symbol)
	})

	var plans []domain.LiquidationPlan
	remaining := gap
	hundred := decimal.NewFromInt(100)

	for _, p := range ordered {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		maxCloseQty := p.Quantity.Mul(pl.cfg.MaxSingleClosePct).Div(hundred)

		var qtyForRelease decimal.Decimal
		if p.Margin.IsPositive() {
			qtyForRelease = remaining.Div(p.Margin).Mul(p.Quantity)
		} else {
			qtyForRelease = maxCloseQty
		}

		closeQty := qtyForRelease
		if closeQty.GreaterThan(maxCloseQty) {
			closeQty = maxCloseQty
		}
		if closeQty.LessThanOrEqual(decimal.Zero) {
			continue
		}

		estimatedReleased := decimal.Zero
		if p.Quantity.IsPositive() {
			estimatedReleased = closeQty.Div(p.Quantity).Mul(p.Margin)
		}

		plans = append(plans, domain.LiquidationPlan{
			Symbol:            p.Symbol,
			Side:              p.Side,
			CloseQuantity:     closeQty,
			EstimatedReleased: estimatedReleased,
		})
		remaining = remaining.Sub(estimatedReleased)
	}

	return plans
}

// Evaluate computes the liquidation plan and, subject to the enable,
// cooldown, and dry-run guards, executes it. In dry-run the plans are
// returned but never submitted to the exchange.
func (pl *Planner) Evaluate(ctx context.Context, positions []domain.Position, availableBalance decimal.Decimal) Result {
	if !pl.cfg.Enabled {
		return Result{Reason: "liquidation disabled"}
	}

	plans := pl.plan(positions, availableBalance)
	if len(plans) == 0 {
		return Result{Reason: "no gap"}
	}

	cooldown := time.Duration(pl.cfg.CooldownSeconds) * time.Second
	if pl.clock.SinceLast() < cooldown {
		return Result{Reason: "in cooldown", Plans: plans}
	}

	if pl.cfg.DryRun {
		return Result{Reason: "dry run", Plans: plans}
	}

	for _, p := range plans {
		full := pl.resolver.FullSymbol(p.Symbol)
		closeSide := p.Side // closePosition direction is derived by the adapter from position side

		ok, err := pl.exchange.ClosePosition(ctx, full, closeSide, p.CloseQuantity)
		if err != nil || !ok {
			pl.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("liquidation close failed")
			continue
		}

		pl.clock.markSuccess()
		pl.history.RecordLiquidation(domain.LiquidationRecord{
			Symbol:            p.Symbol,
			Side:              p.Side,
			ClosedQuantity:    p.CloseQuantity,
			EstimatedReleased: p.EstimatedReleased,
			At:                time.Now(),
		})
	}

	return Result{Executed: true, Plans: plans}
}
