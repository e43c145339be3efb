// Package alerts emits the control loop's user-visible event surface
// as structured log records.
package alerts

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/liquidation"
	"github.com/aristath/marginloopd/internal/margin/rebalance"
)

// Kind enumerates the alert vocabulary from the error-handling
// design's user-visible surface.
type Kind string

const (
	RebalanceSummaryKind         Kind = "rebalance_summary"
	EmergencyRebalanceFiredKind  Kind = "emergency_rebalance_fired"
	LiquidationPendingKind       Kind = "liquidation_pending"
	LiquidationCompletedKind     Kind = "liquidation_completed"
	AccountWarningCrossedKind    Kind = "account_warning_crossed"
	RetryExhaustionKind          Kind = "retry_exhaustion"
)

// event is the structured shape logged for every alert.
type event struct {
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Channel emits alerts via structured logging. It satisfies
// controller.Alerter.
type Channel struct {
	log zerolog.Logger
}

// New builds an alert Channel.
func New(log zerolog.Logger) *Channel {
	return &Channel{log: log.With().Str("component", "alerts").Logger()}
}

func (c *Channel) emit(kind Kind, data map[string]interface{}) {
	evt := event{Kind: kind, Timestamp: time.Now(), Data: data}
	raw, _ := json.Marshal(evt)
	c.log.Info().Str("alert", string(kind)).RawJSON("event", raw).Msg("alert emitted")
}

// RebalanceSummary reports the outcome of one rebalance pass.
func (c *Channel) RebalanceSummary(result rebalance.Result) {
	c.emit(RebalanceSummaryKind, map[string]interface{}{
		"success_count": result.SuccessCount,
		"fail_count":    result.FailCount,
		"total_moved":   result.TotalMoved.String(),
	})
}

// EmergencyRebalanceFired reports that an emergency top-up executed
// for symbol.
func (c *Channel) EmergencyRebalanceFired(symbol string) {
	c.emit(EmergencyRebalanceFiredKind, map[string]interface{}{"symbol": symbol})
}

// LiquidationPending reports a liquidation plan that was computed but
// not executed (dry-run or cooldown).
func (c *Channel) LiquidationPending(result liquidation.Result) {
	c.emit(LiquidationPendingKind, map[string]interface{}{
		"reason": result.Reason,
		"plans":  len(result.Plans),
	})
}

// LiquidationCompleted reports a liquidation plan that executed.
func (c *Channel) LiquidationCompleted(result liquidation.Result) {
	c.emit(LiquidationCompletedKind, map[string]interface{}{
		"plans": len(result.Plans),
	})
}

// AccountWarning reports that the account margin rate crossed the
// configured warning threshold.
func (c *Channel) AccountWarning(rate decimal.Decimal) {
	c.emit(AccountWarningCrossedKind, map[string]interface{}{"rate": rate.String()})
}

// RetryExhaustion reports that an exchange or stream retry budget was
// exhausted for the named collaborator.
func (c *Channel) RetryExhaustion(collaborator string) {
	c.emit(RetryExhaustionKind, map[string]interface{}{"collaborator": collaborator})
}
