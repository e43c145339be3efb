// Package domain holds the value types shared by the margin control loop:
// positions, adjustment and liquidation intents, and emergency signals.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a derivative position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position is a live isolated-margin derivative holding, fetched fresh
// each tick and discarded once the tick completes.
type Position struct {
	Symbol        string          // short base identifier, e.g. "BTC"
	Side          Side
	Quantity      decimal.Decimal // always positive; Side carries direction
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	Margin        decimal.Decimal // isolated collateral currently attached
	Leverage      int
	UnrealizedPnL decimal.Decimal
}

// Notional is quantity * current price.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// MarginRate is margin / notional expressed as a percent. Zero when
// notional is zero.
func (p Position) MarginRate() decimal.Decimal {
	notional := p.Notional()
	if notional.IsZero() {
		return decimal.Zero
	}
	return p.Margin.Div(notional).Mul(decimal.NewFromInt(100))
}

// AdjustmentPlan is the intent to move one position's margin by a signed
// delta. Positive deltas add collateral, negative deltas withdraw it.
type AdjustmentPlan struct {
	Symbol string
	Delta  decimal.Decimal
}

// IsDecrease reports whether this plan withdraws collateral.
func (a AdjustmentPlan) IsDecrease() bool {
	return a.Delta.IsNegative()
}

// LiquidationPlan is the intent to partially close one position.
type LiquidationPlan struct {
	Symbol            string
	Side              Side
	CloseQuantity     decimal.Decimal
	EstimatedReleased decimal.Decimal
}

// EmergencySignalKind enumerates the three emergency signal shapes the
// Event Detector can raise.
type EmergencySignalKind string

const (
	PositionBelowThreshold EmergencySignalKind = "position_below_threshold"
	PriceSpike             EmergencySignalKind = "price_spike"
	AccountBelowWarning    EmergencySignalKind = "account_below_warning"
)

// EmergencySignal is a single emergency condition raised by the Event
// Detector and forwarded to the Controller for serialized handling.
type EmergencySignal struct {
	Kind      EmergencySignalKind
	Symbol    string          // set for PositionBelowThreshold and PriceSpike
	FromPrice decimal.Decimal // set for PriceSpike
	ToPrice   decimal.Decimal // set for PriceSpike
	Rate      decimal.Decimal // set for AccountBelowWarning
	At        time.Time
}

// AdjustmentRecord is appended to the history sink after a successful
// margin adjustment.
type AdjustmentRecord struct {
	Symbol string
	Delta  decimal.Decimal
	At     time.Time
}

// LiquidationRecord is appended to the history sink after a successful
// partial close.
type LiquidationRecord struct {
	Symbol            string
	Side              Side
	ClosedQuantity    decimal.Decimal
	EstimatedReleased decimal.Decimal
	At                time.Time
}

// AccountSnapshot is appended to the history sink once per tick.
type AccountSnapshot struct {
	TotalEquity decimal.Decimal
	TotalMargin decimal.Decimal
	At          time.Time
}
