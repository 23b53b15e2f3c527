package prompt

import (
	"encoding/json"
	"fmt"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
)

// Rules 是写入 system 提示词的业务约束。
type Rules struct {
	MinRiskReward   float64
	MinRationaleLen int
}

// Builder 把指标快照与近期 K 线序列化为一对提示词。
type Builder struct {
	registry    *Registry
	rules       Rules
	historyRows int
}

func NewBuilder(registry *Registry, rules Rules, historyRows int) *Builder {
	if historyRows <= 0 {
		historyRows = 30
	}
	return &Builder{registry: registry, rules: rules, historyRows: historyRows}
}

type userData struct {
	Symbol       string
	Interval     string
	Summary      string
	SnapshotJSON string
	CandlesCSV   string
	OutputSchema string
}

// Build 返回 system 与 user 提示词。
func (b *Builder) Build(symbol, interval string, snap indicator.Snapshot, candles []market.Candle) (string, string, error) {
	tpl := b.registry.Current()
	system, err := tpl.render(tpl.system, b.rules)
	if err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	snapJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode snapshot: %w", err)
	}
	recent := market.Candles(candles).Last(b.historyRows)
	user, err := tpl.render(tpl.user, userData{
		Symbol:       symbol,
		Interval:     interval,
		Summary:      recent.Summary(interval),
		SnapshotJSON: string(snapJSON),
		CandlesCSV:   BuildCandleCSV(recent, CandleCSVOptions{PricePrecision: PrecisionAuto, Interval: interval}),
		OutputSchema: outputSchema,
	})
	if err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return system, user, nil
}
