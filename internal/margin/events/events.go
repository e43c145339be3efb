// Package events inspects position and price snapshots and raises
// emergency signals for the Controller to handle.
package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

// Config holds the thresholds the Event Detector compares against.
type Config struct {
	EmergencyMarginRate      decimal.Decimal // percent
	AccountMarginRateWarning decimal.Decimal // percent
	PriceSpikePct            decimal.Decimal // percent
}

// SpikeNotifier is told whenever a price spike is detected, so the
// Risk Estimator can collapse its cache window.
type SpikeNotifier interface {
	NotifySpike()
}

// Detector holds the last-observed-price table, the Event Detector's
// only mutable state besides its configuration.
type Detector struct {
	cfg       Config
	spike     SpikeNotifier
	log       zerolog.Logger
	mu        sync.Mutex
	lastPrice map[string]decimal.Decimal
}

// New builds an Event Detector.
func New(cfg Config, spike SpikeNotifier, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:       cfg,
		spike:     spike,
		log:       log.With().Str("component", "events").Logger(),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

// CheckSnapshot flags any position below the emergency margin rate
// and the account as a whole when its margin rate falls below the
// configured warning threshold. Called at every tick.
func (d *Detector) CheckSnapshot(positions []domain.Position, totalEquity, totalMargin decimal.Decimal) []domain.EmergencySignal {
	var signals []domain.EmergencySignal

	for _, p := range positions {
		if p.MarginRate().LessThan(d.cfg.EmergencyMarginRate) {
			signals = append(signals, domain.EmergencySignal{
				Kind:   domain.PositionBelowThreshold,
				Symbol: p.Symbol,
			})
		}
	}

	if totalMargin.IsPositive() {
		rate := totalEquity.Div(totalMargin).Mul(decimal.NewFromInt(100))
		if rate.LessThan(d.cfg.AccountMarginRateWarning) {
			signals = append(signals, domain.EmergencySignal{
				Kind: domain.AccountBelowWarning,
				Rate: rate,
			})
		}
	}

	return signals
}

// CheckPrice maintains the last observed price per symbol and emits a
// PriceSpike signal when the absolute percent change since the
// previous observation meets the configured threshold. The first-ever
// price for a symbol records a baseline and never emits a signal.
func (d *Detector) CheckPrice(symbol string, price decimal.Decimal) *domain.EmergencySignal {
	d.mu.Lock()
	prev, known := d.lastPrice[symbol]
	d.lastPrice[symbol] = price
	d.mu.Unlock()

	if !known {
		return nil
	}
	if !prev.IsPositive() {
		return nil
	}

	changePct := price.Sub(prev).Abs().Div(prev).Mul(decimal.NewFromInt(100))
	if changePct.LessThan(d.cfg.PriceSpikePct) {
		return nil
	}

	d.spike.NotifySpike()

	return &domain.EmergencySignal{
		Kind:      domain.PriceSpike,
		Symbol:    symbol,
		FromPrice: prev,
		ToPrice:   price,
	}
}
