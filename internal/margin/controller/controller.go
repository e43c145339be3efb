// Package controller orchestrates one tick or emergency handling
// pass: fetch snapshot, plan, execute through the exchange adapter,
// record outcomes. It is the single writer to the exchange.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/allocator"
	"github.com/aristath/marginloopd/internal/margin/domain"
	"github.com/aristath/marginloopd/internal/margin/events"
	"github.com/aristath/marginloopd/internal/margin/liquidation"
	"github.com/aristath/marginloopd/internal/margin/ports"
	"github.com/aristath/marginloopd/internal/margin/rebalance"
	"github.com/aristath/marginloopd/internal/margin/risk"
)

const writerLockName = "controller"

// emergencyTopUpMultiplier is the "2x" in "top the position up to
// 2 x emergency_rate" (§4.7).
var emergencyTopUpMultiplier = decimal.NewFromInt(2)

// Alerter receives the control loop's user-visible alert surface.
// Defined here (rather than importing internal/alerts) so the
// controller depends only on a narrow interface its caller satisfies.
type Alerter interface {
	RebalanceSummary(result rebalance.Result)
	EmergencyRebalanceFired(symbol string)
	LiquidationPending(result liquidation.Result)
	LiquidationCompleted(result liquidation.Result)
	AccountWarning(rate decimal.Decimal)
}

// Config holds the rebalance thresholds and emergency rate the
// Controller applies when building plans.
type Config struct {
	Thresholds    rebalance.Thresholds
	EmergencyRate decimal.Decimal // percent, e.g. 2 for 2%
}

// Controller is the single writer to the exchange; all tick and
// emergency handling passes through it, serialized by an internal
// named lock.
type Controller struct {
	cfg        Config
	exchange   ports.ExchangeAdapter
	stream     ports.StreamAdapter
	history    ports.HistorySink
	riskEst    *risk.Estimator
	rebalancer *rebalance.Planner
	liquidator *liquidation.Planner
	detector   *events.Detector
	alerts     Alerter
	log        zerolog.Logger
	locks      *lockManager

	statusMu sync.RWMutex
	status   Status
}

// Status is a snapshot of the last completed tick, for the status
// server to serve read-only.
type Status struct {
	LastTickAt      time.Time
	HighRiskSymbols []string
	SuccessCount    int
	FailCount       int
}

// LastStatus returns a copy of the most recent tick's outcome.
func (c *Controller) LastStatus() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// New builds a Controller wired to its collaborators.
func New(
	cfg Config,
	exchange ports.ExchangeAdapter,
	stream ports.StreamAdapter,
	history ports.HistorySink,
	riskEst *risk.Estimator,
	rebalancer *rebalance.Planner,
	liquidator *liquidation.Planner,
	detector *events.Detector,
	alerts Alerter,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		cfg:        cfg,
		exchange:   exchange,
		stream:     stream,
		history:    history,
		riskEst:    riskEst,
		rebalancer: rebalancer,
		liquidator: liquidator,
		detector:   detector,
		alerts:     alerts,
		log:        log.With().Str("component", "controller").Logger(),
		locks:      newLockManager(),
	}
}

// ClearStuckLocks releases the writer lock if it has been held
// continuously for longer than maxAge, for use by a periodic
// health-check job guarding against a crashed holder.
func (c *Controller) ClearStuckLocks(maxAge time.Duration) []string {
	return c.locks.ClearStuckLocks(maxAge)
}

// Name satisfies the scheduler.Job interface.
func (c *Controller) Name() string { return "tick" }

// Run satisfies the scheduler.Job interface, invoking Tick with a
// background context.
func (c *Controller) Run() error {
	return c.Tick(context.Background())
}

// Tick runs one full control-loop pass: fetch snapshot, compute
// targets, rebalance, check for emergencies, evaluate liquidation,
// report outcomes, publish subscription feedback.
func (c *Controller) Tick(ctx context.Context) error {
	if err := c.locks.Acquire(writerLockName); err != nil {
		c.log.Debug().Msg("tick skipped, writer busy")
		return nil
	}
	defer c.locks.Release(writerLockName)

	// Step 1: fetch positions and available balance.
	positions, err := c.exchange.ListPositions(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("list positions failed, aborting tick")
		return err
	}
	available, err := c.exchange.AvailableDerivativesBalance(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("available balance fetch failed, aborting tick")
		return err
	}

	// Step 2: total budget is the notional pool simulated cross-margin
	// treats as shared.
	totalMargin := decimal.Zero
	for _, p := range positions {
		totalMargin = totalMargin.Add(p.Margin)
	}
	totalBudget := totalMargin.Add(available)

	// Step 3: compute targets, plan and execute adjustments in order.
	targets := allocator.Targets(positions, totalBudget, func(symbol string) float64 {
		return c.riskEst.Weight(ctx, symbol)
	})
	plans := rebalance.Plan(positions, targets, c.cfg.Thresholds)
	rebalanceResult := c.rebalancer.Execute(ctx, plans)
	c.alerts.RebalanceSummary(rebalanceResult)

	// Step 4: snapshot emergency check; any flagged position gets an
	// immediate, scoped top-up.
	totalEquity := totalMargin
	for _, p := range positions {
		totalEquity = totalEquity.Add(p.UnrealizedPnL)
	}
	signals := c.detector.CheckSnapshot(positions, totalEquity, totalMargin)
	for _, signal := range signals {
		switch signal.Kind {
		case domain.PositionBelowThreshold:
			c.emergencyTopUp(ctx, positions, available, signal.Symbol)
		case domain.AccountBelowWarning:
			c.alerts.AccountWarning(signal.Rate)
		}
	}

	// Step 5: evaluate liquidation and execute if needed.
	liqResult := c.liquidator.Evaluate(ctx, positions, available)
	if len(liqResult.Plans) > 0 {
		if liqResult.Executed {
			c.alerts.LiquidationCompleted(liqResult)
		} else {
			c.alerts.LiquidationPending(liqResult)
		}
	}

	// Step 6: record the account snapshot and publish subscription
	// feedback.
	c.history.RecordSnapshot(domain.AccountSnapshot{
		TotalEquity: totalEquity,
		TotalMargin: totalMargin,
		At:          time.Now(),
	})
	highRisk := c.publishHighRisk(positions)

	c.statusMu.Lock()
	c.status = Status{
		LastTickAt:      time.Now(),
		HighRiskSymbols: highRisk,
		SuccessCount:    rebalanceResult.SuccessCount,
		FailCount:       rebalanceResult.FailCount,
	}
	c.statusMu.Unlock()

	c.log.Info().
		Int("success", rebalanceResult.SuccessCount).
		Int("failed", rebalanceResult.FailCount).
		Str("moved", rebalanceResult.TotalMoved.String()).
		Msg("tick completed")

	return nil
}

// HandleEmergency handles a single emergency signal outside the
// regular tick schedule, serialized against any in-progress tick or
// other emergency by the same writer lock. It never issues decreases
// on positions other than the flagged symbol; cross-position
// rebalancing is the tick path's responsibility.
func (c *Controller) HandleEmergency(ctx context.Context, signal domain.EmergencySignal) {
	if signal.Kind != domain.PositionBelowThreshold {
		return
	}

	if err := c.locks.Acquire(writerLockName); err != nil {
		c.log.Debug().Str("symbol", signal.Symbol).Msg("emergency handling skipped, writer busy")
		return
	}
	defer c.locks.Release(writerLockName)

	positions, err := c.exchange.ListPositions(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("list positions failed, aborting emergency handling")
		return
	}
	available, err := c.exchange.AvailableDerivativesBalance(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("available balance fetch failed, aborting emergency handling")
		return
	}

	c.emergencyTopUp(ctx, positions, available, signal.Symbol)
}

// emergencyTopUp tops the named symbol's margin up to
// 2 x EmergencyRate, bounded by at most the available balance, and
// honoring the minimum adjustment threshold. It targets only the
// named symbol.
func (c *Controller) emergencyTopUp(ctx context.Context, positions []domain.Position, available decimal.Decimal, symbol string) {
	var target *domain.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			target = &positions[i]
			break
		}
	}
	if target == nil {
		return
	}

	targetRate := c.cfg.EmergencyRate.Mul(emergencyTopUpMultiplier)
	neededMargin := target.Notional().Mul(targetRate).Div(decimal.NewFromInt(100))
	delta := neededMargin.Sub(target.Margin)
	if delta.LessThanOrEqual(decimal.Zero) {
		return
	}
	if delta.GreaterThan(available) {
		delta = available // clamp to available balance, no reserve buffer (spec §9(c))
	}
	if delta.LessThan(c.cfg.Thresholds.MinAdjustment) {
		return
	}

	plan := []domain.AdjustmentPlan{{Symbol: symbol, Delta: delta}}
	result := c.rebalancer.Execute(ctx, plan)
	if result.SuccessCount > 0 {
		c.alerts.EmergencyRebalanceFired(symbol)
	}
}

// publishHighRisk recomputes the high-risk symbol set (margin rate
// below 2x the emergency rate) and pushes it to the streaming adapter
// so it can adjust its subscriptions.
func (c *Controller) publishHighRisk(positions []domain.Position) []string {
	threshold := c.cfg.EmergencyRate.Mul(emergencyTopUpMultiplier)

	var highRisk []string
	for _, p := range positions {
		if p.MarginRate().LessThan(threshold) {
			highRisk = append(highRisk, p.Symbol)
		}
	}
	c.stream.Subscribe(highRisk)
	return highRisk
}
