package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "db", "signaldesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_UpsertCandles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	candles := []market.Candle{
		{Symbol: "BTCUSDT", Interval: "1h", OpenTime: 1000, CloseTime: 1999, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 3},
		{Symbol: "BTCUSDT", Interval: "1h", OpenTime: 2000, CloseTime: 2999, Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 1},
	}
	require.NoError(t, s.UpsertCandles(ctx, candles))

	// the still-open bar is re-fetched with new values
	candles[1].Close = 1.9
	candles[1].Volume = 2
	require.NoError(t, s.UpsertCandles(ctx, candles[1:]))

	got, err := s.ListCandles(ctx, "BTCUSDT", "1h", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].OpenTime)
	assert.Equal(t, 1.9, got[1].Close)
	assert.Equal(t, 2.0, got[1].Volume)

	var count int64
	require.NoError(t, s.db.Table("candles").Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGormStore_SignalAndSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	sig := signal.Signal{
		RunID: "r1", Symbol: "BTCUSDT", Interval: "1h", GeneratedAt: now, CandleTime: now.Add(-time.Hour),
		Direction: signal.Buy, Confidence: 80, Price: 90100, Entry: 90000, Stop: 88000, Target: 96000,
		Rationale: "trend continuation", RiskReward: 3, Warnings: []string{"round_number_level: stop"},
	}
	id, err := s.InsertSignal(ctx, sig)
	require.NoError(t, err)
	require.NotZero(t, id)

	snap := indicator.Snapshot{Symbol: "BTCUSDT", Interval: "1h", Price: 90100, MAShort: 89000, SARTrend: indicator.TrendUp}
	require.NoError(t, s.InsertIndicatorSnapshot(ctx, id, snap))
	assert.Error(t, s.InsertIndicatorSnapshot(ctx, id, snap), "snapshot is unique per signal")

	got, err := s.GetSignal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, signal.Buy, got.Direction)
	assert.Equal(t, now, got.GeneratedAt)
	assert.Equal(t, sig.Warnings, got.Warnings)

	gotSnap, err := s.GetIndicatorSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snap, gotSnap)

	list, err := s.ListSignals(ctx, "btcusdt", 5)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGormStore_DeleteSignalIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.InsertSignal(ctx, signal.Signal{Symbol: "ETHUSDT", Direction: signal.Hold, GeneratedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.InsertIndicatorSnapshot(ctx, id, indicator.Snapshot{Price: 1}))

	require.NoError(t, s.DeleteSignal(ctx, id))
	require.NoError(t, s.DeleteSignal(ctx, id))

	_, err = s.GetSignal(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetIndicatorSnapshot(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
