// Package sqlitesink is a concrete, append-only HistorySink backed by
// a pure-Go SQLite database in WAL mode.
package sqlitesink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"github.com/aristath/marginloopd/internal/margin/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS adjustments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	delta TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS liquidations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	closed_quantity TEXT NOT NULL,
	estimated_released TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	total_equity TEXT NOT NULL,
	total_margin TEXT NOT NULL,
	at DATETIME NOT NULL
);
`

// Sink is a HistorySink backed by SQLite.
type Sink struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates (if needed) and connects to the database at dbPath,
// enabling WAL journaling and foreign keys.
func Open(dbPath string, log zerolog.Logger) (*Sink, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return &Sink{conn: conn, log: log.With().Str("component", "sqlitesink").Logger()}, nil
}

// Close closes the underlying connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// RecordAdjustment appends one adjustment record. Failures are logged
// and never returned to the caller: the history sink is not the
// source of truth, the exchange is.
func (s *Sink) RecordAdjustment(rec domain.AdjustmentRecord) {
	_, err := s.conn.Exec(
		`INSERT INTO adjustments (symbol, delta, at) VALUES (?, ?, ?)`,
		rec.Symbol, rec.Delta.String(), rec.At,
	)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to record adjustment")
	}
}

// RecordLiquidation appends one liquidation record.
func (s *Sink) RecordLiquidation(rec domain.LiquidationRecord) {
	_, err := s.conn.Exec(
		`INSERT INTO liquidations (symbol, side, closed_quantity, estimated_released, at) VALUES (?, ?, ?, ?, ?)`,
		rec.Symbol, string(rec.Side), rec.ClosedQuantity.String(), rec.EstimatedReleased.String(), rec.At,
	)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", rec.Symbol).Msg("failed to record liquidation")
	}
}

// RecordSnapshot appends one account snapshot.
func (s *Sink) RecordSnapshot(snap domain.AccountSnapshot) {
	_, err := s.conn.Exec(
		`INSERT INTO snapshots (total_equity, total_margin, at) VALUES (?, ?, ?)`,
		snap.TotalEquity.String(), snap.TotalMargin.String(), snap.At,
	)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to record snapshot")
	}
}

// CheckIntegrity runs PRAGMA integrity_check and reports whether the
// database is healthy.
func (s *Sink) CheckIntegrity() error {
	var result string
	if err := s.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}
	return nil
}

// Checkpoint runs a passive WAL checkpoint, returning the number of
// frames currently in the WAL file.
func (s *Sink) Checkpoint() (walFrames int, err error) {
	var busy, checkpointed int
	err = s.conn.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
	return walFrames, err
}
