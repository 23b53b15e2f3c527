package prompt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"signaldesk/internal/market"
)

// CandleCSVOptions 控制 K 线 CSV 的元信息与精度。
type CandleCSVOptions struct {
	Location       *time.Location
	PricePrecision int
	Interval       string
}

const (
	// PrecisionAuto 根据 K 线价格区间自动决定精度。
	PrecisionAuto = math.MinInt32
	// PrecisionRaw 保留原始精度。
	PrecisionRaw = -1
)

// BuildCandleCSV 生成带列头的 CSV，顺序为从旧到新。
func BuildCandleCSV(candles []market.Candle, opts CandleCSVOptions) string {
	if len(candles) == 0 {
		return ""
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	precision := opts.PricePrecision
	if precision == PrecisionAuto {
		precision = autoPrecision(candles)
	}
	var b strings.Builder
	meta := []string{}
	if ts := candles[0].OpenTime; ts != 0 {
		meta = append(meta, "WindowStart="+time.UnixMilli(ts).In(loc).Format(time.RFC3339))
	}
	if iv := strings.TrimSpace(opts.Interval); iv != "" {
		meta = append(meta, "Interval="+strings.ToUpper(iv))
	}
	meta = append(meta, "Order=OLDEST->NEWEST")
	b.WriteString("# " + strings.Join(meta, " ") + "\n")
	b.WriteString("Time,O,H,L,C,V,Trades\n")
	for _, c := range candles {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s,%d\n",
			time.UnixMilli(c.OpenTime).In(loc).Format("01-02T15:04"),
			formatPrice(c.Open, precision),
			formatPrice(c.High, precision),
			formatPrice(c.Low, precision),
			formatPrice(c.Close, precision),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
			c.Trades,
		)
	}
	return b.String()
}

func autoPrecision(candles []market.Candle) int {
	maxVal := 0.0
	for _, c := range candles {
		maxVal = math.Max(maxVal, math.Abs(c.High))
	}
	switch {
	case maxVal >= 1000:
		return 1
	case maxVal >= 100:
		return 2
	default:
		return PrecisionRaw
	}
}

func formatPrice(value float64, precision int) string {
	if precision == PrecisionRaw {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	s := strconv.FormatFloat(value, 'f', precision, 64)
	if precision > 0 {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
