package market

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Candles []Candle

// Last 返回最后 n 根 K 线；n<=0 或超出长度时返回全部。
func (cs Candles) Last(n int) Candles {
	if n <= 0 || n >= len(cs) {
		return cs
	}
	return cs[len(cs)-n:]
}

// Summary 概括窗口内的收盘价变化与高低区间，用于提示词。
func (cs Candles) Summary(interval string) string {
	if len(cs) == 0 {
		return ""
	}
	first := cs[0]
	last := cs[len(cs)-1]
	base := first.Close
	if base == 0 {
		base = first.Open
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, bar := range cs {
		low = math.Min(low, bar.Low)
		high = math.Max(high, bar.High)
	}
	var sb strings.Builder
	sb.WriteString("close=" + formatFloat(last.Close))
	iv := strings.TrimSpace(interval)
	if iv == "" {
		iv = "window"
	}
	if base != 0 {
		sb.WriteString(fmt.Sprintf(" (%+.2f%% over %d×%s)", (last.Close-base)/base*100, len(cs), iv))
	}
	sb.WriteString(fmt.Sprintf(", range %s-%s", formatFloat(low), formatFloat(high)))
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
