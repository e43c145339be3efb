// Package risk produces per-symbol risk weights used to split the
// collateral budget across open positions.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marginloopd/pkg/formulas"
)

const (
	referenceSymbol    = "BTC"
	minWeightFloor     = 0.001
	minSamplesRequired = 2
	defaultFailWeight  = 1.0
)

// CandleSource fetches recent closes for a symbol, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, timeframe string, limit int) ([]float64, error)
}

type cacheEntry struct {
	weight     float64
	computedAt time.Time
}

// Config holds the tunables the Risk Estimator reads from the
// configuration surface.
type Config struct {
	LookbackDays  int
	Timeframe     string
	NormalRefresh time.Duration
	SpikeRefresh  time.Duration
	Overrides     map[string]float64
}

// Estimator computes and caches risk weights, with a configured
// override table taking precedence over computed volatility.
type Estimator struct {
	cfg      Config
	candles  CandleSource
	log      zerolog.Logger
	mu       sync.Mutex
	cache    map[string]cacheEntry
	spikedAt time.Time // zero until a spike has been observed
}

// New builds a Risk Estimator bound to a candle source.
func New(cfg Config, candles CandleSource, log zerolog.Logger) *Estimator {
	return &Estimator{
		cfg:     cfg,
		candles: candles,
		log:     log.With().Str("component", "risk").Logger(),
		cache:   make(map[string]cacheEntry),
	}
}

// Weight returns the positive risk weight for symbol. Deterministic
// given cache contents and override table; never returns an error —
// any fetch failure degrades to the default weight of 1.0.
func (e *Estimator) Weight(ctx context.Context, symbol string) float64 {
	if w, ok := e.cfg.Overrides[symbol]; ok {
		return w
	}

	e.mu.Lock()
	if entry, ok := e.cache[symbol]; ok && time.Since(entry.computedAt) < e.refreshWindow() {
		w := entry.weight
		e.mu.Unlock()
		return w
	}
	e.mu.Unlock()

	symbolVol, ok := e.volatility(ctx, symbol)
	if !ok {
		return defaultFailWeight
	}
	refVol, ok := e.volatility(ctx, referenceSymbol)
	if !ok {
		return defaultFailWeight
	}
	if refVol <= 0 {
		refVol = minWeightFloor
	}
	weight := symbolVol / refVol

	e.mu.Lock()
	e.cache[symbol] = cacheEntry{weight: weight, computedAt: time.Now()}
	e.mu.Unlock()

	return weight
}

// volatility returns the population standard deviation of simple
// returns over the last LookbackDays closes, floored at
// minWeightFloor. It reports false on a fetch error or insufficient
// history, and Weight then returns the default weight of 1.0.
func (e *Estimator) volatility(ctx context.Context, symbol string) (float64, bool) {
	closes, err := e.candles.Candles(ctx, symbol, e.cfg.Timeframe, e.cfg.LookbackDays)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("candle fetch failed, using default weight")
		return 0, false
	}
	if len(closes) < minSamplesRequired {
		return 0, false
	}

	returns := formulas.CalculateReturns(closes)
	if len(returns) == 0 {
		return 0, false
	}

	stddev := formulas.StdDev(returns)
	if stddev < minWeightFloor {
		stddev = minWeightFloor
	}
	return stddev, true
}

// refreshWindow returns the current cache TTL: the normal window,
// collapsed to the spike window while a spike has been observed
// within the last normal window.
func (e *Estimator) refreshWindow() time.Duration {
	e.mu.Lock()
	spiked := !e.spikedAt.IsZero() && time.Since(e.spikedAt) < e.cfg.NormalRefresh
	e.mu.Unlock()
	if spiked {
		return e.cfg.SpikeRefresh
	}
	return e.cfg.NormalRefresh
}

// NotifySpike records that a price spike was observed, collapsing the
// cache refresh window until a full normal window passes without one.
func (e *Estimator) NotifySpike() {
	e.mu.Lock()
	e.spikedAt = time.Now()
	e.mu.Unlock()
}

// ClearCache empties the weight table; the next Weight call for any
// symbol triggers a fresh candle fetch.
func (e *Estimator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]cacheEntry)
	e.mu.Unlock()
}
