package store

import (
	"context"
	"errors"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/signal"
)

// ErrNotFound 表示按 id 查询的记录不存在。
var ErrNotFound = errors.New("record not found")

// CandleStore persists candles keyed by (symbol, interval, open_time).
type CandleStore interface {
	// UpsertCandles inserts or updates candles by natural key.
	UpsertCandles(ctx context.Context, candles []market.Candle) error
	// ListCandles returns up to limit most recent candles, oldest first.
	ListCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// SignalStore persists signals and the indicator snapshot owned by each one.
//
// The two inserts are separate calls with no shared transaction; callers that
// need both-or-neither compensate with DeleteSignal.
type SignalStore interface {
	// InsertSignal stores sig and returns its surrogate id.
	InsertSignal(ctx context.Context, sig signal.Signal) (uint, error)
	// InsertIndicatorSnapshot stores the snapshot linked to signalID.
	InsertIndicatorSnapshot(ctx context.Context, signalID uint, snap indicator.Snapshot) error
	// DeleteSignal removes the signal and any snapshot linked to it. Deleting a
	// missing id is not an error.
	DeleteSignal(ctx context.Context, id uint) error
	GetSignal(ctx context.Context, id uint) (signal.Signal, error)
	ListSignals(ctx context.Context, symbol string, limit int) ([]signal.Signal, error)
	GetIndicatorSnapshot(ctx context.Context, signalID uint) (indicator.Snapshot, error)
}

// Store is the entry point for database access.
type Store interface {
	CandleStore
	SignalStore
	// Close closes the store connection.
	Close() error
}
