package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

type fakeSpikeNotifier struct {
	notified int
}

func (f *fakeSpikeNotifier) NotifySpike() { f.notified++ }

func testConfig() Config {
	return Config{
		EmergencyMarginRate:      decimal.NewFromInt(1),
		AccountMarginRateWarning: decimal.NewFromInt(110),
		PriceSpikePct:            decimal.NewFromInt(5),
	}
}

func TestCheckSnapshot_FlagsPositionBelowEmergencyRate(t *testing.T) {
	detector := New(testConfig(), &fakeSpikeNotifier{}, zerolog.Nop())

	positions := []domain.Position{
		{Symbol: "BTC", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(50000), Margin: decimal.NewFromInt(100)}, // 0.2%
	}

	// equity/margin = 150/100 = 150%, above the 110% account warning.
	signals := detector.CheckSnapshot(positions, decimal.NewFromInt(150), decimal.NewFromInt(100))

	require.Len(t, signals, 1)
	assert.Equal(t, domain.PositionBelowThreshold, signals[0].Kind)
	assert.Equal(t, "BTC", signals[0].Symbol)
}

func TestCheckSnapshot_NoSignalWhenHealthy(t *testing.T) {
	detector := New(testConfig(), &fakeSpikeNotifier{}, zerolog.Nop())

	positions := []domain.Position{
		{Symbol: "BTC", Quantity: decimal.NewFromInt(1), CurrentPrice: decimal.NewFromInt(50000), Margin: decimal.NewFromInt(2000)}, // 4%
	}

	signals := detector.CheckSnapshot(positions, decimal.NewFromInt(3000), decimal.NewFromInt(2000))

	assert.Empty(t, signals)
}

func TestCheckSnapshot_FlagsAccountBelowWarning(t *testing.T) {
	detector := New(testConfig(), &fakeSpikeNotifier{}, zerolog.Nop())

	// equity/margin = 100/100 = 100% < warning 110%
	signals := detector.CheckSnapshot(nil, decimal.NewFromInt(100), decimal.NewFromInt(100))

	require.Len(t, signals, 1)
	assert.Equal(t, domain.AccountBelowWarning, signals[0].Kind)
	assert.True(t, signals[0].Rate.Equal(decimal.NewFromInt(100)))
}

func TestCheckSnapshot_ZeroTotalMarginSkipsAccountCheck(t *testing.T) {
	detector := New(testConfig(), &fakeSpikeNotifier{}, zerolog.Nop())

	signals := detector.CheckSnapshot(nil, decimal.Zero, decimal.Zero)

	assert.Empty(t, signals)
}

func TestCheckPrice_FirstObservationRecordsBaselineNoSignal(t *testing.T) {
	notifier := &fakeSpikeNotifier{}
	detector := New(testConfig(), notifier, zerolog.Nop())

	signal := detector.CheckPrice("BTC", decimal.NewFromInt(50000))

	assert.Nil(t, signal)
	assert.Equal(t, 0, notifier.notified)
}

func TestCheckPrice_SpikeAboveThresholdNotifiesAndSignals(t *testing.T) {
	notifier := &fakeSpikeNotifier{}
	detector := New(testConfig(), notifier, zerolog.Nop())

	detector.CheckPrice("BTC", decimal.NewFromInt(50000))
	signal := detector.CheckPrice("BTC", decimal.NewFromInt(53000)) // +6%

	require.NotNil(t, signal)
	assert.Equal(t, domain.PriceSpike, signal.Kind)
	assert.Equal(t, 1, notifier.notified)
}

func TestCheckPrice_BelowThresholdNoSignal(t *testing.T) {
	notifier := &fakeSpikeNotifier{}
	detector := New(testConfig(), notifier, zerolog.Nop())

	detector.CheckPrice("BTC", decimal.NewFromInt(50000))
	signal := detector.CheckPrice("BTC", decimal.NewFromInt(51000)) // +2%

	assert.Nil(t, signal)
	assert.Equal(t, 0, notifier.notified)
}
