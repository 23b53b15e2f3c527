package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedCandle 表示数据源返回的 K 线不满足基本形状约束。
var ErrMalformedCandle = errors.New("malformed candle")

// Candle 是一根 OHLCV K 线，时间戳为毫秒。
type Candle struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// CandleKey 是 K 线的自然键。
type CandleKey struct {
	Symbol   string
	Interval string
	OpenTime int64
}

func (c Candle) Key() CandleKey {
	return CandleKey{Symbol: c.Symbol, Interval: c.Interval, OpenTime: c.OpenTime}
}

// Closed reports whether the bar had already closed at now.
func (c Candle) Closed(now time.Time) bool {
	return c.CloseTime > 0 && c.CloseTime < now.UnixMilli()
}

// Check 校验价格为正、成交量与笔数非负。
func (c Candle) Check() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("%w: non-positive price at open_time=%d", ErrMalformedCandle, c.OpenTime)
	}
	if c.Volume < 0 || c.Trades < 0 {
		return fmt.Errorf("%w: negative volume at open_time=%d", ErrMalformedCandle, c.OpenTime)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high below low at open_time=%d", ErrMalformedCandle, c.OpenTime)
	}
	return nil
}

// Instrument 是下单场所对某个合约的最小变动单位约束。
type Instrument struct {
	Symbol   string  `json:"symbol"`
	TickSize float64 `json:"tick_size"`
	StepSize float64 `json:"step_size"`
	MinQty   float64 `json:"min_qty"`
}

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Position 是场所上的一笔未平仓敞口。
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
}
