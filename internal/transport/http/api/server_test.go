package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/pipeline"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req pipeline.Request) pipeline.RunResult {
	args := m.Called(ctx, req)
	return args.Get(0).(pipeline.RunResult)
}

func newTestServer(t *testing.T, runner RunTrigger, signals store.SignalStore) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Runner:  runner,
		Signals: signals,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("signaldesk_runs_total 1\n"))
		}),
	})
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedSignal(t *testing.T, st *store.MemoryStore, symbol string, withSnapshot bool) uint {
	t.Helper()
	ctx := context.Background()
	id, err := st.InsertSignal(ctx, signal.Signal{
		Symbol:      symbol,
		Interval:    "1h",
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Direction:   signal.Buy,
		Confidence:  70,
		Price:       100,
		Entry:       100,
		Stop:        95,
		Target:      115,
		Rationale:   "trend continuation above the 50 EMA",
		RiskReward:  3,
	})
	require.NoError(t, err)
	if withSnapshot {
		require.NoError(t, st.InsertIndicatorSnapshot(ctx, id, indicator.Snapshot{Symbol: symbol, Interval: "1h", Price: 100, RSISlow: 55}))
	}
	return id
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil, store.NewMemoryStore())
	assert.Equal(t, ":9991", srv.Addr())

	rec := do(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signaldesk_runs_total")
}

func TestRun_ReturnsRunResult(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, pipeline.Request{Symbol: "BTC/USDT", Interval: "1h"}).
		Return(pipeline.RunResult{RunID: "r-1", Symbol: "BTCUSDT", Interval: "1h", Stage: pipeline.StageDone, SignalID: 7})
	srv := newTestServer(t, runner, nil)

	rec := do(srv, http.MethodPost, "/api/runs", `{"symbol":"BTC/USDT","interval":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r-1", got.RunID)
	assert.Equal(t, pipeline.StageDone, got.Stage)
	assert.Equal(t, uint(7), got.SignalID)
	runner.AssertExpectations(t)
}

func TestRun_FailedRunStillReturnsOK(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(pipeline.RunResult{Stage: pipeline.StageFetchCandles, Kind: pipeline.KindFetch, Error: "boom"})
	srv := newTestServer(t, runner, nil)

	rec := do(srv, http.MethodPost, "/api/runs", `{"symbol":"ETHUSDT","interval":"4h"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_kind":"fetch_error"`)
}

func TestRun_BadRequests(t *testing.T) {
	runner := new(MockRunner)
	srv := newTestServer(t, runner, nil)

	cases := map[string]string{
		"missing interval": `{"symbol":"BTCUSDT"}`,
		"missing symbol":   `{"interval":"1h"}`,
		"not json":         `symbol=BTCUSDT`,
		"unknown quote":    `{"symbol":"BTCXYZ","interval":"1h"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/api/runs", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRun_InvalidRequestKindMapsTo400(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, mock.Anything).
		Return(pipeline.RunResult{Stage: pipeline.StageFetchCandles, Kind: pipeline.KindInvalidRequest})
	srv := newTestServer(t, runner, nil)

	rec := do(srv, http.MethodPost, "/api/runs", `{"symbol":"BTCUSDT","interval":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRun_ClientDisconnectDoesNotCancelRun(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(pipeline.RunResult{Stage: pipeline.StageDone, SignalID: 3})
	srv := newTestServer(t, runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"symbol":"BTCUSDT","interval":"1h"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	runner.AssertExpectations(t)
}

func TestRun_WithoutRunner(t *testing.T) {
	srv := newTestServer(t, nil, store.NewMemoryStore())
	rec := do(srv, http.MethodPost, "/api/runs", `{"symbol":"BTCUSDT","interval":"1h"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListSignals(t *testing.T) {
	st := store.NewMemoryStore()
	seedSignal(t, st, "BTCUSDT", false)
	seedSignal(t, st, "ETHUSDT", false)
	latest := seedSignal(t, st, "BTCUSDT", false)
	srv := newTestServer(t, nil, st)

	var body struct {
		Signals []signal.Signal `json:"signals"`
		Count   int             `json:"count"`
	}

	rec := do(srv, http.MethodGet, "/api/signals?symbol=btc/usdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Signals, 2)
	assert.Equal(t, latest, body.Signals[0].ID)

	rec = do(srv, http.MethodGet, "/api/signals?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestSignalByID(t *testing.T) {
	st := store.NewMemoryStore()
	withSnap := seedSignal(t, st, "BTCUSDT", true)
	bare := seedSignal(t, st, "ETHUSDT", false)
	srv := newTestServer(t, nil, st)

	rec := do(srv, http.MethodGet, "/api/signals/"+itoa(withSnap), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail SignalDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "BTCUSDT", detail.Signal.Symbol)
	require.NotNil(t, detail.Snapshot)
	assert.Equal(t, 55.0, detail.Snapshot.RSISlow)

	rec = do(srv, http.MethodGet, "/api/signals/"+itoa(bare), "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail = SignalDetail{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Nil(t, detail.Snapshot)

	assert.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/api/signals/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/signals/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/signals/0", "").Code)
}

func TestListCandles(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	hour := time.Hour.Milliseconds()
	openAt := now.Truncate(time.Hour).UnixMilli()
	var candles []market.Candle
	for i := 3; i >= 0; i-- {
		ot := openAt - int64(i)*hour
		candles = append(candles, market.Candle{
			Symbol: "BTCUSDT", Interval: "1h", OpenTime: ot, CloseTime: ot + hour - 1,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1,
		})
	}
	require.NoError(t, st.UpsertCandles(context.Background(), candles))
	srv, err := NewServer(ServerConfig{Candles: st})
	require.NoError(t, err)

	var body struct {
		Symbol  string       `json:"symbol"`
		Candles []CandleView `json:"candles"`
		Count   int          `json:"count"`
	}
	rec := do(srv, http.MethodGet, "/api/candles?symbol=btc/usdt&interval=1H&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTCUSDT", body.Symbol)
	require.Equal(t, 3, body.Count)
	assert.Equal(t, candles[1].OpenTime, body.Candles[0].OpenTime)
	assert.True(t, body.Candles[0].Closed)
	assert.True(t, body.Candles[1].Closed)
	assert.False(t, body.Candles[2].Closed, "current bar is still open")

	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/candles?interval=1h", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/candles?symbol=BTCUSDT", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		do(newTestServer(t, nil, st), http.MethodGet, "/api/candles?symbol=BTCUSDT&interval=1h", "").Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Signals: store.NewMemoryStore()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
