package signal

import "time"

// Signal 是一次流水线运行通过校验后的持久化结果，写入后不可变。
type Signal struct {
	ID          uint      `json:"id"`
	RunID       string    `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	GeneratedAt time.Time `json:"generated_at"`
	CandleTime  time.Time `json:"candle_time"`
	Direction   Direction `json:"direction"`
	Confidence  float64   `json:"confidence"`
	Price       float64   `json:"price"`
	// hold 信号的 Entry/Stop/Target 为 0，不参与仓位计算。
	Entry      float64  `json:"entry"`
	Stop       float64  `json:"stop"`
	Target     float64  `json:"target"`
	Rationale  string   `json:"rationale"`
	RiskReward float64  `json:"risk_reward"`
	Warnings   []string `json:"warnings,omitempty"`
	Raw        string   `json:"raw,omitempty"`
}

// FromValidated 组装待持久化的 Signal，ID 由存储层分配。
func FromValidated(v Validated, runID, symbol, interval string, price float64, candleTime, now time.Time) Signal {
	warnings := make([]string, 0, len(v.Warnings))
	for _, w := range v.Warnings {
		warnings = append(warnings, w.String())
	}
	return Signal{
		RunID:       runID,
		Symbol:      symbol,
		Interval:    interval,
		GeneratedAt: now.UTC(),
		CandleTime:  candleTime.UTC(),
		Direction:   v.Direction,
		Confidence:  v.Confidence,
		Price:       price,
		Entry:       v.Entry,
		Stop:        v.Stop,
		Target:      v.Target,
		Rationale:   v.Rationale,
		RiskReward:  v.RiskReward,
		Warnings:    warnings,
	}
}
