package market

import "context"

// Source 提供指定交易对与周期的历史 K 线，结果按时间从旧到新排列。
type Source interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
