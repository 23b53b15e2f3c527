package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/creasty/defaults"
	"github.com/markcheno/go-talib"

	"signaldesk/internal/market"
)

// ErrInsufficientData 表示 K 线数量低于配置的最小长度。
var ErrInsufficientData = errors.New("insufficient candle data")

// Settings 描述快照计算所需的全部周期参数，零值字段由 defaults 标签补齐。
type Settings struct {
	MinCandles int `json:"min_candles" default:"50"`

	EMAShort  int `json:"ema_short" default:"20"`
	EMAMedium int `json:"ema_medium" default:"50"`
	EMALong   int `json:"ema_long" default:"200"`

	RSIFast int `json:"rsi_fast" default:"7"`
	RSISlow int `json:"rsi_slow" default:"14"`

	MACDFast   int `json:"macd_fast" default:"12"`
	MACDSlow   int `json:"macd_slow" default:"26"`
	MACDSignal int `json:"macd_signal" default:"9"`

	BBandPeriod int     `json:"bband_period" default:"20"`
	BBandDev    float64 `json:"bband_dev" default:"2"`

	ATRPeriod int `json:"atr_period" default:"14"`

	SARAccel float64 `json:"sar_accel" default:"0.02"`
	SARMax   float64 `json:"sar_max" default:"0.2"`

	StochK     int `json:"stoch_k" default:"14"`
	StochSlowK int `json:"stoch_slow_k" default:"3"`
	StochD     int `json:"stoch_d" default:"3"`
}

// DefaultSettings 返回全部字段均为默认值的设置。
func DefaultSettings() Settings {
	var s Settings
	_ = defaults.Set(&s)
	return s
}

// Snapshot 是最新一根 K 线上的指标特征。
//
// 回看期超过可用历史的字段为 0，表示“尚不可用”而不是真实读数。
type Snapshot struct {
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"interval"`
	CandleTime int64   `json:"candle_time"`
	Price      float64 `json:"price"`

	MAShort  float64 `json:"ma_short"`
	MAMedium float64 `json:"ma_medium"`
	MALong   float64 `json:"ma_long"`

	RSIFast float64 `json:"rsi_fast"`
	RSISlow float64 `json:"rsi_slow"`

	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`

	BBUpper  float64 `json:"bb_upper"`
	BBMiddle float64 `json:"bb_middle"`
	BBLower  float64 `json:"bb_lower"`

	ATR float64 `json:"atr"`

	SAR      float64 `json:"sar"`
	SARTrend string  `json:"sar_trend,omitempty"`

	StochK float64 `json:"stoch_k"`
	StochD float64 `json:"stoch_d"`
}

const (
	TrendUp   = "up"
	TrendDown = "down"
)

// Builder 把 K 线序列转换为指标快照，无副作用，可并发使用。
type Builder struct {
	settings Settings
}

func NewBuilder(s Settings) (*Builder, error) {
	if err := defaults.Set(&s); err != nil {
		return nil, fmt.Errorf("indicator settings defaults: %w", err)
	}
	if s.MinCandles < 1 {
		return nil, fmt.Errorf("indicator min_candles must be >= 1")
	}
	return &Builder{settings: s}, nil
}

func (b *Builder) Settings() Settings {
	return b.settings
}

// Build 计算 candles（从旧到新）最后一根的快照。
func (b *Builder) Build(candles []market.Candle) (Snapshot, error) {
	s := b.settings
	if len(candles) < s.MinCandles {
		return Snapshot{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), s.MinCandles)
	}
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := candles[n-1]
	snap := Snapshot{
		Symbol:     last.Symbol,
		Interval:   last.Interval,
		CandleTime: last.OpenTime,
		Price:      last.Close,
	}

	if warmed(n, s.EMAShort-1) {
		snap.MAShort = lastValid(talib.Ema(closes, s.EMAShort))
	}
	if warmed(n, s.EMAMedium-1) {
		snap.MAMedium = lastValid(talib.Ema(closes, s.EMAMedium))
	}
	if warmed(n, s.EMALong-1) {
		snap.MALong = lastValid(talib.Ema(closes, s.EMALong))
	}

	if warmed(n, s.RSIFast) {
		snap.RSIFast = lastValid(talib.Rsi(closes, s.RSIFast))
	}
	if warmed(n, s.RSISlow) {
		snap.RSISlow = lastValid(talib.Rsi(closes, s.RSISlow))
	}

	if warmed(n, s.MACDSlow+s.MACDSignal-2) {
		macd, signal, hist := talib.Macd(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
		snap.MACD = lastValid(macd)
		snap.MACDSignal = lastValid(signal)
		snap.MACDHist = lastValid(hist)
	}

	if warmed(n, s.BBandPeriod-1) {
		upper, middle, lower := talib.BBands(closes, s.BBandPeriod, s.BBandDev, s.BBandDev, talib.SMA)
		snap.BBUpper = lastValid(upper)
		snap.BBMiddle = lastValid(middle)
		snap.BBLower = lastValid(lower)
	}

	if warmed(n, s.ATRPeriod) {
		snap.ATR = lastValid(talib.Atr(highs, lows, closes, s.ATRPeriod))
	}

	if warmed(n, 1) {
		snap.SAR = lastValid(talib.Sar(highs, lows, s.SARAccel, s.SARMax))
		snap.SARTrend = sarTrend(snap.Price, snap.SAR)
	}

	if warmed(n, s.StochK+s.StochSlowK+s.StochD-3) {
		k, d := talib.Stoch(highs, lows, closes, s.StochK, s.StochSlowK, talib.SMA, s.StochD, talib.SMA)
		snap.StochK = lastValid(k)
		snap.StochD = lastValid(d)
	}
	return snap, nil
}

// warmed 表示序列长度足以在最后一根产生有效输出。
func warmed(n, lookback int) bool {
	return lookback >= 0 && n > lookback
}

// lastValid 只看最后一个元素：NaN/Inf 视为不可用。
func lastValid(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sarTrend(price, sar float64) string {
	switch {
	case sar == 0:
		return ""
	case price > sar:
		return TrendUp
	default:
		return TrendDown
	}
}
