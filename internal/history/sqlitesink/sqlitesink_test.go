package sqlitesink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestOpen_CreatesSchemaAndIsHealthy(t *testing.T) {
	sink := openTestSink(t)
	assert.NoError(t, sink.CheckIntegrity())
}

func TestRecordAdjustment_PersistsRow(t *testing.T) {
	sink := openTestSink(t)

	sink.RecordAdjustment(domain.AdjustmentRecord{Symbol: "BTC", Delta: decimal.NewFromInt(-50), At: time.Now()})

	var count int
	require.NoError(t, sink.conn.QueryRow("SELECT COUNT(*) FROM adjustments WHERE symbol = ?", "BTC").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecordLiquidation_PersistsRow(t *testing.T) {
	sink := openTestSink(t)

	sink.RecordLiquidation(domain.LiquidationRecord{
		Symbol: "DOGE", Side: domain.Long,
		ClosedQuantity: decimal.NewFromInt(2500), EstimatedReleased: decimal.NewFromFloat(2.5),
		At: time.Now(),
	})

	var closedQty string
	require.NoError(t, sink.conn.QueryRow("SELECT closed_quantity FROM liquidations WHERE symbol = ?", "DOGE").Scan(&closedQty))
	assert.Equal(t, "2500", closedQty)
}

func TestRecordSnapshot_PersistsRow(t *testing.T) {
	sink := openTestSink(t)

	sink.RecordSnapshot(domain.AccountSnapshot{TotalEquity: decimal.NewFromInt(1000), TotalMargin: decimal.NewFromInt(800), At: time.Now()})

	var count int
	require.NoError(t, sink.conn.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCheckpoint_ReturnsWithoutError(t *testing.T) {
	sink := openTestSink(t)
	sink.RecordSnapshot(domain.AccountSnapshot{At: time.Now()})

	_, err := sink.Checkpoint()

	assert.NoError(t, err)
}
