package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"signaldesk/internal/market"
	symbolpkg "signaldesk/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxHistoryLimit     = 1500
	defaultHistoryLimit = 100
)

// Source 基于 go-binance SDK 实现 market.Source（U 本位合约 K 线）。
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client, err := newClient(final, "", "")
	if err != nil {
		return nil, err
	}
	return &Source{cfg: final, client: client}, nil
}

func newClient(cfg Config, key, secret string) (*futures.Client, error) {
	client := futures.NewClient(key, secret)
	client.BaseURL = cfg.RESTBaseURL
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return client, nil
}

// FetchCandles 返回从旧到新的 K 线，每根都带上请求的 symbol 与 interval。
// 最后一根可能尚未收盘，由调用方决定如何处理。
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	cleanSymbol := symbolpkg.ToBinance(symbol)
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(cleanSymbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", cleanSymbol, interval, err)
	}
	return convertKlines(cleanSymbol, interval, kls)
}

func convertKlines(symbol, interval string, kls []*futures.Kline) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c := market.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		}
		if err := c.Check(); err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		if n := len(out); n > 0 && out[n-1].OpenTime >= c.OpenTime {
			return nil, fmt.Errorf("binance klines %s %s: %w: open_time %d not ascending",
				symbol, interval, market.ErrMalformedCandle, c.OpenTime)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
