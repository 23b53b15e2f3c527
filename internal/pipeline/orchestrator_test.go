package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/gateway/provider"
	"signaldesk/internal/market"
	"signaldesk/internal/metrics"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
	"signaldesk/internal/trader"
)

const buyJSON = `Here is my call:
` + "```json" + `
{"direction":"buy","confidence":80,"entry":90000,"stop":88000,"target":96000,
 "rationale":"breakout above range high with rising volume"}
` + "```"

type fakeSource struct {
	candles []market.Candle
	err     error
	calls   int
}

func (f *fakeSource) FetchCandles(_ context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func testCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := range out {
		price := 89000 + float64(i*10)
		out[i] = market.Candle{
			Symbol: "BTCUSDT", Interval: "1h",
			OpenTime: base + int64(i)*3_600_000, CloseTime: base + int64(i+1)*3_600_000 - 1,
			Open: price, High: price + 50, Low: price - 50, Close: price + 5, Volume: 10, Trades: 3,
		}
	}
	return out
}

type fakeIndicators struct{}

func (fakeIndicators) Build(candles []market.Candle) (indicator.Snapshot, error) {
	last := candles[len(candles)-1]
	return indicator.Snapshot{
		Symbol: last.Symbol, Interval: last.Interval, CandleTime: last.OpenTime,
		Price: last.Close, RSISlow: 55,
	}, nil
}

type fakePrompts struct{}

func (fakePrompts) Build(symbol, interval string, snap indicator.Snapshot, candles []market.Candle) (string, string, error) {
	return "system", "user " + symbol + " " + interval, nil
}

type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

// flakyStore 在内存存储之上注入写入/删除失败。
type flakyStore struct {
	*store.MemoryStore
	upsertErr error
	snapErr   error
	deleteErr error
	onSnap    func()
}

func (s *flakyStore) UpsertCandles(ctx context.Context, candles []market.Candle) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.MemoryStore.UpsertCandles(ctx, candles)
}

func (s *flakyStore) InsertIndicatorSnapshot(ctx context.Context, id uint, snap indicator.Snapshot) error {
	if s.onSnap != nil {
		s.onSnap()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.snapErr != nil {
		return s.snapErr
	}
	return s.MemoryStore.InsertIndicatorSnapshot(ctx, id, snap)
}

func (s *flakyStore) DeleteSignal(ctx context.Context, id uint) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.DeleteSignal(ctx, id)
}

type fakeTrader struct {
	out trader.Outcome
	got []signal.Signal
}

func (f *fakeTrader) Decide(_ context.Context, sig signal.Signal) trader.Outcome {
	f.got = append(f.got, sig)
	return f.out
}

type fakeInstruments struct {
	inst market.Instrument
	err  error
}

func (f fakeInstruments) Instrument(context.Context, string) (market.Instrument, error) {
	return f.inst, f.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

type harness struct {
	source   *fakeSource
	store    *flakyStore
	rec      *MockRecommender
	trader   *fakeTrader
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	deps     Deps
	opts     Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{candles: testCandles(60)},
		store:    &flakyStore{MemoryStore: store.NewMemoryStore()},
		rec:      &MockRecommender{},
		trader:   &fakeTrader{out: trader.Outcome{Status: trader.StatusSkipped, Reason: trader.ReasonAutoTradeDisabled}},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	h.deps = Deps{
		Source:      h.source,
		Candles:     h.store,
		Signals:     h.store,
		Indicators:  fakeIndicators{},
		Prompts:     fakePrompts{},
		Recommender: h.rec,
		Validator:   signal.Validator{MinRiskReward: 3, RiskFloor: 1e-8, MinRationaleLen: 10},
		Trader:      h.trader,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
	}
	h.opts = Options{CandleLimit: 100, ExpectJSON: true, AITimeout: time.Second, StoreTimeout: time.Second}
	return h
}

func (h *harness) run(t *testing.T) RunResult {
	t.Helper()
	o, err := New(h.deps, h.opts)
	require.NoError(t, err)
	return o.Run(context.Background(), Request{Symbol: "btc/usdt", Interval: "1H"})
}

func (h *harness) signalCount(t *testing.T) int {
	t.Helper()
	sigs, err := h.store.ListSignals(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	return len(sigs)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
	assert.Contains(t, err.Error(), "recommender")
}

func TestRun_HappyPathPersistsSignalAndSnapshot(t *testing.T) {
	h := newHarness(t)
	h.rec.On("Call", mock.Anything, mock.MatchedBy(func(p provider.ChatPayload) bool {
		return p.System == "system" && p.User == "user BTCUSDT 1h" && p.ExpectJSON && p.RunID != ""
	})).Return(buyJSON, nil).Once()

	res := h.run(t)

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, "1h", res.Interval)
	require.NotNil(t, res.Signal)
	assert.Equal(t, uint(1), res.SignalID)
	assert.Equal(t, signal.Buy, res.Signal.Direction)
	assert.InDelta(t, 3.0, res.Signal.RiskReward, 1e-9)
	assert.Contains(t, res.Signal.Raw, `"direction":"buy"`)
	require.NotNil(t, res.Trade)
	assert.Equal(t, trader.StatusSkipped, res.Trade.Status)

	stored, err := h.store.GetSignal(context.Background(), res.SignalID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, stored.RunID)
	snap, err := h.store.GetIndicatorSnapshot(context.Background(), res.SignalID)
	require.NoError(t, err)
	assert.Equal(t, 55.0, snap.RSISlow)

	candles, err := h.store.ListCandles(context.Background(), "BTCUSDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, candles, 60)

	require.Len(t, h.trader.got, 1)
	assert.Equal(t, res.SignalID, h.trader.got[0].ID)
	assert.Empty(t, h.notifier.texts)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("done", "none")))
	assert.Contains(t, res.Timings, StageRecommend)
	h.rec.AssertExpectations(t)
}

func TestRun_FetchFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("connection reset")

	res := h.run(t)

	assert.Equal(t, StageFetchCandles, res.Stage)
	assert.Equal(t, KindFetch, res.Kind)
	assert.Contains(t, res.Error, "connection reset")
	assert.Zero(t, h.signalCount(t))
	h.rec.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
}

func TestRun_EmptyCandlesIsFatal(t *testing.T) {
	h := newHarness(t)
	h.source.candles = nil

	res := h.run(t)
	assert.Equal(t, KindFetch, res.Kind)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(t)
	o, err := New(h.deps, h.opts)
	require.NoError(t, err)

	res := o.Run(context.Background(), Request{Symbol: "BTCUSDT"})
	assert.Equal(t, KindInvalidRequest, res.Kind)
	assert.Zero(t, h.source.calls)
}

func TestRun_CandlePersistFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = errors.New("disk full")
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	res := h.run(t)

	assert.True(t, res.OK(), res.Error)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "persist_candles")
	assert.Equal(t, 1, h.signalCount(t))
}

func TestRun_InsufficientData(t *testing.T) {
	h := newHarness(t)
	b, err := indicator.NewBuilder(indicator.Settings{MinCandles: 100})
	require.NoError(t, err)
	h.deps.Indicators = b

	res := h.run(t)

	assert.Equal(t, StageBuildIndicators, res.Stage)
	assert.Equal(t, KindInsufficientData, res.Kind)
	assert.ErrorIs(t, res.Err, indicator.ErrInsufficientData)
}

func TestRun_RecommenderErrorAndTimeout(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		h := newHarness(t)
		h.rec.On("Call", mock.Anything, mock.Anything).Return("", errors.New("status=500"))
		res := h.run(t)
		assert.Equal(t, StageRecommend, res.Stage)
		assert.Equal(t, KindRecommend, res.Kind)
	})
	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t)
		h.opts.AITimeout = 20 * time.Millisecond
		h.deps.Recommender = recommenderFunc(func(ctx context.Context, _ provider.ChatPayload) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		res := h.run(t)
		assert.Equal(t, KindRecommend, res.Kind)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	})
}

type recommenderFunc func(ctx context.Context, p provider.ChatPayload) (string, error)

func (f recommenderFunc) Call(ctx context.Context, p provider.ChatPayload) (string, error) {
	return f(ctx, p)
}

func TestRun_DecodeAndValidationFailuresAreDistinct(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		h := newHarness(t)
		h.rec.On("Call", mock.Anything, mock.Anything).Return("I think BTC goes up.", nil)
		res := h.run(t)
		assert.Equal(t, StageDecode, res.Stage)
		assert.Equal(t, KindDecode, res.Kind)
		assert.ErrorIs(t, res.Err, signal.ErrDecode)
		assert.Zero(t, h.signalCount(t))
	})
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t)
		h.rec.On("Call", mock.Anything, mock.Anything).Return(
			`{"direction":"sell","confidence":80,"entry":100,"stop":95,"target":105,"rationale":"rejection at the daily high"}`, nil)
		res := h.run(t)
		assert.Equal(t, StageValidate, res.Stage)
		assert.Equal(t, KindValidation, res.Kind)
		assert.ErrorIs(t, res.Err, signal.ErrInvertedLevels)
		assert.Zero(t, h.signalCount(t))
		assert.Empty(t, h.trader.got)
	})
}

func TestRun_OverflowingPriceIsDecodeFailure(t *testing.T) {
	h := newHarness(t)
	h.deps.Instruments = fakeInstruments{inst: market.Instrument{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001}}
	h.rec.On("Call", mock.Anything, mock.Anything).Return(
		`{"direction":"buy","confidence":70,"entry":100,"stop":95,"target":1e999,"rationale":"breakout above range"}`, nil)

	res := h.run(t)

	assert.Equal(t, StageDecode, res.Stage)
	assert.Equal(t, KindDecode, res.Kind)
	assert.ErrorIs(t, res.Err, signal.ErrDecode)
	assert.Zero(t, h.signalCount(t))
	assert.Empty(t, h.trader.got)
}

func TestRun_SnapshotFailureRollsBackSignal(t *testing.T) {
	h := newHarness(t)
	h.store.snapErr = errors.New("constraint failed")
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	res := h.run(t)

	assert.Equal(t, StageRollback, res.Stage)
	assert.Equal(t, KindRolledBack, res.Kind)
	assert.Zero(t, res.SignalID)
	assert.Zero(t, res.OrphanID)
	assert.Nil(t, res.Signal)
	assert.Zero(t, h.signalCount(t))
	_, err := h.store.GetSignal(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.GetIndicatorSnapshot(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.trader.got)
}

func TestRun_CancelledRunStillRollsBack(t *testing.T) {
	h := newHarness(t)
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.store.onSnap = cancel

	o, err := New(h.deps, h.opts)
	require.NoError(t, err)
	res := o.Run(ctx, Request{Symbol: "btc/usdt", Interval: "1H"})

	assert.Equal(t, StageRollback, res.Stage)
	assert.Equal(t, KindRolledBack, res.Kind)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, res.OrphanID)
	assert.Zero(t, h.signalCount(t))
	_, err = h.store.GetSignal(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, testutil.ToFloat64(h.metrics.Orphans))
	assert.Empty(t, h.notifier.texts)
}

func TestRun_FailedRollbackReportsOrphan(t *testing.T) {
	h := newHarness(t)
	h.store.snapErr = errors.New("constraint failed")
	h.store.deleteErr = errors.New("database is locked")
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	res := h.run(t)

	assert.False(t, res.OK())
	assert.Equal(t, KindOrphanedRecord, res.Kind)
	assert.True(t, res.Kind.NeedsOperator())
	assert.Equal(t, uint(1), res.OrphanID)

	var orphan *OrphanedRecordError
	require.ErrorAs(t, res.Err, &orphan)
	assert.Equal(t, uint(1), orphan.SignalID)
	assert.EqualError(t, orphan.WriteErr, "constraint failed")
	assert.EqualError(t, orphan.DeleteErr, "database is locked")

	assert.Equal(t, 1, h.signalCount(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Orphans))
	require.Len(t, h.notifier.texts, 1)
	assert.Contains(t, h.notifier.texts[0], "Orphaned signal")
	assert.Empty(t, h.trader.got)
}

func TestRun_TradeOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		out      trader.Outcome
		kind     ErrorKind
		alerted  bool
		operator bool
	}{
		{"skipped", trader.Outcome{Status: trader.StatusSkipped, Reason: trader.ReasonLowConfidence}, KindNone, false, false},
		{"placed", trader.Outcome{Executed: true, Status: trader.StatusPlaced, OrderIDs: []string{"1", "2", "3"}}, KindNone, true, false},
		{"degraded", trader.Outcome{Executed: true, Status: trader.StatusPlaced, Degraded: true, Reason: "bracket_leg_failed",
			Err: errors.New("stop leg: rejected"), Error: "stop leg: rejected"}, KindDegradedBracket, true, true},
		{"failed", trader.Outcome{Status: trader.StatusFailed, Reason: "balance_unavailable",
			Err: errors.New("timeout"), Error: "timeout"}, KindTradeFailed, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.trader.out = tc.out
			h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

			res := h.run(t)

			assert.Equal(t, StageDone, res.Stage)
			assert.Equal(t, tc.kind, res.Kind)
			assert.Equal(t, tc.operator, res.Kind.NeedsOperator())
			require.NotNil(t, res.Trade)
			assert.Equal(t, tc.out.Status, res.Trade.Status)
			assert.Equal(t, uint(1), res.SignalID)
			assert.Equal(t, 1, h.signalCount(t), "signal survives any trade outcome")
			assert.Equal(t, tc.alerted, len(h.notifier.texts) == 1)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TradeOutcomes.WithLabelValues(string(tc.out.Status), tc.out.Reason)))
		})
	}
}

func TestRun_HoldSignalIsPersisted(t *testing.T) {
	h := newHarness(t)
	h.deps.Instruments = fakeInstruments{err: errors.New("must not be called")}
	h.rec.On("Call", mock.Anything, mock.Anything).Return(
		`{"action":"WAIT","confidence":40,"reasoning":"no clear structure on this timeframe"}`, nil)

	res := h.run(t)

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, signal.Hold, res.Signal.Direction)
	assert.Zero(t, res.Signal.Entry)
	assert.Empty(t, res.Warnings)
	assert.NotContains(t, res.Timings, StageRoundLevels)
}

func TestRun_RoundsLevelsToTick(t *testing.T) {
	h := newHarness(t)
	h.deps.Instruments = fakeInstruments{inst: market.Instrument{Symbol: "BTCUSDT", TickSize: 0.5}}
	h.rec.On("Call", mock.Anything, mock.Anything).Return(
		`{"direction":"buy","confidence":80,"entry":90000.3,"stop":88000.1,"target":96000.9,"rationale":"breakout above range high"}`, nil)

	res := h.run(t)

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, 90000.5, res.Signal.Entry)
	assert.Equal(t, 88000.0, res.Signal.Stop)
	assert.Equal(t, 96001.0, res.Signal.Target)
}

func TestRun_TickUnavailableContinuesWithWarning(t *testing.T) {
	h := newHarness(t)
	h.deps.Instruments = fakeInstruments{err: errors.New("exchange info timeout")}
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	res := h.run(t)

	require.True(t, res.OK(), res.Error)
	assert.Equal(t, 90000.0, res.Signal.Entry)
	found := false
	for _, w := range res.Signal.Warnings {
		if strings.HasPrefix(w, WarnTickUnavailable) {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", res.Signal.Warnings)
}

type panicTrader struct{}

func (panicTrader) Decide(context.Context, signal.Signal) trader.Outcome {
	panic("nil venue client")
}

func TestRun_RecoversPanicWithStage(t *testing.T) {
	h := newHarness(t)
	h.deps.Trader = panicTrader{}
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	var res RunResult
	require.NotPanics(t, func() { res = h.run(t) })

	assert.Equal(t, StageTrade, res.Stage)
	assert.Equal(t, KindInternal, res.Kind)
	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.True(t, se.Panic)
	assert.Equal(t, StageTrade, se.Stage)
	assert.Contains(t, res.Error, "nil venue client")
	assert.Equal(t, 1, h.signalCount(t))
}

func TestRunResult_JSON(t *testing.T) {
	h := newHarness(t)
	h.store.snapErr = errors.New("constraint failed")
	h.store.deleteErr = errors.New("locked")
	h.rec.On("Call", mock.Anything, mock.Anything).Return(buyJSON, nil)

	res := h.run(t)
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "orphaned_record", decoded["error_kind"])
	assert.Equal(t, "rollback", decoded["stage"])
	assert.EqualValues(t, 1, decoded["orphan_id"])
	assert.NotContains(t, decoded, "Err")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, classify(StageDone, nil))
	assert.Equal(t, KindDecode, classify(StageRecommend, signal.ErrDecode))
	assert.Equal(t, KindStore, classify(StagePersistSignal, errors.New("x")))
	assert.Equal(t, KindOrphanedRecord, classify(StageRollback, &OrphanedRecordError{SignalID: 3}))
}
