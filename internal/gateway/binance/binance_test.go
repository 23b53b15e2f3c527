package binance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signaldesk/internal/market"
	"signaldesk/internal/trader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange 模拟 fapi 的少量端点，并记录收到的下单参数。
type fakeExchange struct {
	mu         sync.Mutex
	klines     string
	infoCalls  int
	orders     []map[string]string
	rejectType map[string]bool
	lastQuery  map[string]string
}

func (f *fakeExchange) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		params := make(map[string]string, len(r.Form))
		for k := range r.Form {
			params[k] = r.Form.Get(k)
		}
		f.lastQuery = params
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/klines"):
			_, _ = w.Write([]byte(f.klines))
		case strings.HasSuffix(path, "/balance"):
			_, _ = w.Write([]byte(`[{"asset":"BNB","balance":"1","availableBalance":"1"},{"asset":"USDT","balance":"120.5","availableBalance":"100.25"}]`))
		case strings.HasSuffix(path, "/positionRisk"):
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0"},{"symbol":"ETHUSDT","positionAmt":"-0.5","entryPrice":"3000"}]`))
		case strings.HasSuffix(path, "/exchangeInfo"):
			f.infoCalls++
			_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"0.1","maxPrice":"1000000"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`))
		case strings.HasSuffix(path, "/order") && r.Method == http.MethodPost:
			f.orders = append(f.orders, params)
			if f.rejectType[params["type"]] {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-2021,"msg":"Order would immediately trigger."}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"orderId": 1000 + len(f.orders), "symbol": params["symbol"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newFake(t *testing.T) (*fakeExchange, *httptest.Server) {
	f := &fakeExchange{rejectType: map[string]bool{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestSource_FetchCandles(t *testing.T) {
	f, srv := newFake(t)
	f.klines = `[
		[1700000000000,"100","110","90","105","12.5",1700003599999,"0",42,"0","0","0"],
		[1700003600000,"105","108","101","107","3",1700007199999,"0",7,"0","0","0"]]`
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	candles, err := src.FetchCandles(t.Context(), "btc/usdt", "1H", 5000)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "BTCUSDT", f.lastQuery["symbol"])
	assert.Equal(t, "1500", f.lastQuery["limit"])
	assert.Equal(t, "1h", f.lastQuery["interval"])
	assert.Equal(t, market.Candle{
		Symbol: "BTCUSDT", Interval: "1h",
		OpenTime: 1700000000000, CloseTime: 1700003599999,
		Open: 100, High: 110, Low: 90, Close: 105, Volume: 12.5, Trades: 42,
	}, candles[0])
	assert.Less(t, candles[0].OpenTime, candles[1].OpenTime)
}

func TestSource_FetchCandlesRejectsMalformedRows(t *testing.T) {
	f, srv := newFake(t)
	f.klines = `[[1700000000000,"100","110","90","0","1",1700003599999,"0",1,"0","0","0"]]`
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = src.FetchCandles(t.Context(), "BTCUSDT", "1h", 10)
	require.ErrorIs(t, err, market.ErrMalformedCandle)
}

func TestSource_RequiresSymbolAndInterval(t *testing.T) {
	_, srv := newFake(t)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	_, err = src.FetchCandles(t.Context(), " ", "1h", 10)
	assert.Error(t, err)
	_, err = src.FetchCandles(t.Context(), "BTCUSDT", "", 10)
	assert.Error(t, err)
}

func newTestVenue(t *testing.T, srv *httptest.Server, cfg Config) *Venue {
	cfg.RESTBaseURL = srv.URL
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	v, err := NewVenue(cfg)
	require.NoError(t, err)
	return v
}

func TestNewVenue_RequiresCredentials(t *testing.T) {
	_, err := NewVenue(Config{})
	assert.Error(t, err)
}

func TestVenue_BalanceAndPositions(t *testing.T) {
	_, srv := newFake(t)
	v := newTestVenue(t, srv, Config{})

	bal, err := v.Balance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 100.25, bal)

	positions, err := v.OpenPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, market.Position{Symbol: "ETHUSDT", Side: market.SideShort, Quantity: 0.5, EntryPrice: 3000}, positions[0])
}

func TestVenue_InstrumentCachedForAnHour(t *testing.T) {
	f, srv := newFake(t)
	v := newTestVenue(t, srv, Config{})
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	inst, err := v.Instrument(t.Context(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, market.Instrument{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}, inst)

	_, err = v.Instrument(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	_, err = v.Instrument(t.Context(), "DOGEUSDT")
	assert.Error(t, err)
	assert.Equal(t, 1, f.infoCalls)

	now = now.Add(61 * time.Minute)
	_, err = v.Instrument(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, f.infoCalls)
}

func TestVenue_PlaceBracketOrder(t *testing.T) {
	f, srv := newFake(t)
	v := newTestVenue(t, srv, Config{TagPrefix: "sd"})

	res, err := v.PlaceBracketOrder(t.Context(), trader.BracketRequest{
		Symbol: "BTCUSDT", Side: trader.SideBuy, Quantity: 0.0123,
		Entry: 100.04, Stop: 95.01, Target: 115.02, GroupID: "abc123",
	})
	require.NoError(t, err)
	assert.True(t, res.Entry.OK())
	assert.True(t, res.Stop.OK())
	assert.True(t, res.Target.OK())

	require.Len(t, f.orders, 3)
	entry, stop, target := f.orders[0], f.orders[1], f.orders[2]
	assert.Equal(t, "MARKET", entry["type"])
	assert.Equal(t, "BUY", entry["side"])
	assert.Equal(t, "0.012", entry["quantity"])
	assert.Equal(t, "sd-abc123-e", entry["newClientOrderId"])

	assert.Equal(t, "STOP_MARKET", stop["type"])
	assert.Equal(t, "SELL", stop["side"])
	assert.Equal(t, "true", stop["reduceOnly"])
	assert.Equal(t, "MARK_PRICE", stop["workingType"])
	assert.Equal(t, "95.0", stop["stopPrice"])
	assert.Equal(t, "0.012", stop["quantity"])
	assert.Empty(t, stop["closePosition"])
	assert.Equal(t, "sd-abc123-s", stop["newClientOrderId"])

	assert.Equal(t, "TAKE_PROFIT_MARKET", target["type"])
	assert.Equal(t, "115.0", target["stopPrice"])
	assert.Equal(t, "sd-abc123-t", target["newClientOrderId"])
}

func TestVenue_LimitEntry(t *testing.T) {
	f, srv := newFake(t)
	v := newTestVenue(t, srv, Config{EntryOrderType: "limit"})

	_, err := v.PlaceBracketOrder(t.Context(), trader.BracketRequest{
		Symbol: "BTCUSDT", Side: trader.SideSell, Quantity: 1, Entry: 100, Stop: 105, Target: 85, GroupID: "g",
	})
	require.NoError(t, err)
	require.NotEmpty(t, f.orders)
	assert.Equal(t, "LIMIT", f.orders[0]["type"])
	assert.Equal(t, "GTC", f.orders[0]["timeInForce"])
	assert.Equal(t, "SELL", f.orders[0]["side"])
	assert.Equal(t, "100.0", f.orders[0]["price"])
	require.Len(t, f.orders, 3)
	for _, leg := range f.orders[1:] {
		assert.Equal(t, "BUY", leg["side"])
		assert.Equal(t, "true", leg["closePosition"])
		assert.Empty(t, leg["reduceOnly"])
		assert.Empty(t, leg["quantity"])
	}
	assert.Equal(t, "STOP_MARKET", f.orders[1]["type"])
	assert.Equal(t, "105.0", f.orders[1]["stopPrice"])
	assert.Equal(t, "TAKE_PROFIT_MARKET", f.orders[2]["type"])
}

func TestVenue_EntryRejectedSkipsProtectiveLegs(t *testing.T) {
	f, srv := newFake(t)
	f.rejectType["MARKET"] = true
	v := newTestVenue(t, srv, Config{})

	_, err := v.PlaceBracketOrder(t.Context(), trader.BracketRequest{
		Symbol: "BTCUSDT", Side: trader.SideBuy, Quantity: 1, Entry: 100, Stop: 95, Target: 115, GroupID: "g",
	})
	require.Error(t, err)
	assert.Len(t, f.orders, 1)
}

func TestVenue_ProtectiveLegFailureReported(t *testing.T) {
	f, srv := newFake(t)
	f.rejectType["STOP_MARKET"] = true
	v := newTestVenue(t, srv, Config{})

	res, err := v.PlaceBracketOrder(t.Context(), trader.BracketRequest{
		Symbol: "BTCUSDT", Side: trader.SideBuy, Quantity: 1, Entry: 100, Stop: 95, Target: 115, GroupID: "g",
	})
	require.NoError(t, err)
	assert.True(t, res.Entry.OK())
	assert.Error(t, res.Stop.Err)
	assert.True(t, res.Target.OK())
	assert.Len(t, f.orders, 3)
}

func TestClientIDLength(t *testing.T) {
	v := &Venue{cfg: Config{TagPrefix: "signaldesk-prod"}}
	id := v.clientID(strings.Repeat("a", 32), "e")
	assert.LessOrEqual(t, len(id), 36)
	assert.True(t, strings.HasSuffix(id, "-e"))
}
