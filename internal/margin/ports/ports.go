// Package ports declares the external collaborator interfaces the
// control loop depends on: the exchange adapter, the streaming
// adapter, and the history sink. The core designs these contracts; it
// does not design their implementations.
package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

// ExchangeAdapter is the single writer's view of the exchange: reads
// the account snapshot and issues margin/close writes.
type ExchangeAdapter interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	AvailableDerivativesBalance(ctx context.Context) (decimal.Decimal, error)
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]float64, error)
	AdjustMargin(ctx context.Context, fullSymbol string, delta decimal.Decimal) (bool, error)
	ClosePosition(ctx context.Context, fullSymbol string, side domain.Side, quantity decimal.Decimal) (bool, error)
	FullSymbol(symbol string) string
}

// PriceHandler receives serialized price updates per connection.
type PriceHandler func(symbol string, price decimal.Decimal)

// StreamAdapter subscribes to live price updates, replacing the
// subscription set atomically and delivering prices through a single
// registered handler.
type StreamAdapter interface {
	Subscribe(symbols []string)
	OnPrice(handler PriceHandler)
}

// HistorySink is an append-only, durable, thread-safe record store.
type HistorySink interface {
	RecordAdjustment(domain.AdjustmentRecord)
	RecordLiquidation(domain.LiquidationRecord)
	RecordSnapshot(domain.AccountSnapshot)
}
