package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/market"
	"signaldesk/internal/signal"
)

type CandleModel struct {
	ID        uint    `gorm:"column:id;primaryKey"`
	Symbol    string  `gorm:"column:symbol;size:32;uniqueIndex:idx_candle_key,priority:1"`
	Interval  string  `gorm:"column:interval;size:8;uniqueIndex:idx_candle_key,priority:2"`
	OpenTime  int64   `gorm:"column:open_time;uniqueIndex:idx_candle_key,priority:3"`
	CloseTime int64   `gorm:"column:close_time"`
	Open      float64 `gorm:"column:open"`
	High      float64 `gorm:"column:high"`
	Low       float64 `gorm:"column:low"`
	Close     float64 `gorm:"column:close"`
	Volume    float64 `gorm:"column:volume"`
	Trades    int64   `gorm:"column:trades"`
	UpdatedAt int64   `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (CandleModel) TableName() string { return "candles" }

func CandleFromMarket(c market.Candle) CandleModel {
	return CandleModel{
		Symbol:    c.Symbol,
		Interval:  c.Interval,
		OpenTime:  c.OpenTime,
		CloseTime: c.CloseTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Trades:    c.Trades,
	}
}

func (m CandleModel) ToMarket() market.Candle {
	return market.Candle{
		Symbol:    m.Symbol,
		Interval:  m.Interval,
		OpenTime:  m.OpenTime,
		CloseTime: m.CloseTime,
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
		Trades:    m.Trades,
	}
}

type SignalModel struct {
	ID          uint           `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string         `gorm:"column:run_id;size:64;index"`
	Symbol      string         `gorm:"column:symbol;size:32;index:idx_signal_symbol_time,priority:1"`
	Interval    string         `gorm:"column:interval;size:8"`
	GeneratedAt int64          `gorm:"column:generated_at;index:idx_signal_symbol_time,priority:2"`
	CandleTime  int64          `gorm:"column:candle_time"`
	Direction   string         `gorm:"column:direction;size:16"`
	Confidence  float64        `gorm:"column:confidence"`
	Price       float64        `gorm:"column:price"`
	Entry       float64        `gorm:"column:entry"`
	Stop        float64        `gorm:"column:stop"`
	Target      float64        `gorm:"column:target"`
	Rationale   string         `gorm:"column:rationale"`
	RiskReward  float64        `gorm:"column:risk_reward"`
	Warnings    datatypes.JSON `gorm:"column:warnings"`
	Raw         string         `gorm:"column:raw"`
}

func (SignalModel) TableName() string { return "signals" }

func SignalFromDomain(s signal.Signal) SignalModel {
	var warnings datatypes.JSON
	if len(s.Warnings) > 0 {
		if raw, err := json.Marshal(s.Warnings); err == nil {
			warnings = datatypes.JSON(raw)
		}
	}
	return SignalModel{
		ID:          s.ID,
		RunID:       s.RunID,
		Symbol:      s.Symbol,
		Interval:    s.Interval,
		GeneratedAt: s.GeneratedAt.UnixMilli(),
		CandleTime:  s.CandleTime.UnixMilli(),
		Direction:   string(s.Direction),
		Confidence:  s.Confidence,
		Price:       s.Price,
		Entry:       s.Entry,
		Stop:        s.Stop,
		Target:      s.Target,
		Rationale:   s.Rationale,
		RiskReward:  s.RiskReward,
		Warnings:    warnings,
		Raw:         s.Raw,
	}
}

func (m SignalModel) ToDomain() signal.Signal {
	var warnings []string
	if len(m.Warnings) > 0 {
		_ = json.Unmarshal(m.Warnings, &warnings)
	}
	return signal.Signal{
		ID:          m.ID,
		RunID:       m.RunID,
		Symbol:      m.Symbol,
		Interval:    m.Interval,
		GeneratedAt: time.UnixMilli(m.GeneratedAt).UTC(),
		CandleTime:  time.UnixMilli(m.CandleTime).UTC(),
		Direction:   signal.Direction(m.Direction),
		Confidence:  m.Confidence,
		Price:       m.Price,
		Entry:       m.Entry,
		Stop:        m.Stop,
		Target:      m.Target,
		Rationale:   m.Rationale,
		RiskReward:  m.RiskReward,
		Warnings:    warnings,
		Raw:         m.Raw,
	}
}

// IndicatorSnapshotModel 归属唯一一个 signal，只在信号回滚时删除。
type IndicatorSnapshotModel struct {
	ID         uint    `gorm:"column:id;primaryKey;autoIncrement"`
	SignalID   uint    `gorm:"column:signal_id;uniqueIndex"`
	Symbol     string  `gorm:"column:symbol;size:32"`
	Interval   string  `gorm:"column:interval;size:8"`
	CandleTime int64   `gorm:"column:candle_time"`
	Price      float64 `gorm:"column:price"`
	MAShort    float64 `gorm:"column:ma_short"`
	MAMedium   float64 `gorm:"column:ma_medium"`
	MALong     float64 `gorm:"column:ma_long"`
	RSIFast    float64 `gorm:"column:rsi_fast"`
	RSISlow    float64 `gorm:"column:rsi_slow"`
	MACD       float64 `gorm:"column:macd"`
	MACDSignal float64 `gorm:"column:macd_signal"`
	MACDHist   float64 `gorm:"column:macd_hist"`
	BBUpper    float64 `gorm:"column:bb_upper"`
	BBMiddle   float64 `gorm:"column:bb_middle"`
	BBLower    float64 `gorm:"column:bb_lower"`
	ATR        float64 `gorm:"column:atr"`
	SAR        float64 `gorm:"column:sar"`
	SARTrend   string  `gorm:"column:sar_trend;size:8"`
	StochK     float64 `gorm:"column:stoch_k"`
	StochD     float64 `gorm:"column:stoch_d"`
	CreatedAt  int64   `gorm:"column:created_at;autoCreateTime:milli"`
}

func (IndicatorSnapshotModel) TableName() string { return "indicator_snapshots" }

func SnapshotFromDomain(signalID uint, s indicator.Snapshot) IndicatorSnapshotModel {
	return IndicatorSnapshotModel{
		SignalID:   signalID,
		Symbol:     s.Symbol,
		Interval:   s.Interval,
		CandleTime: s.CandleTime,
		Price:      s.Price,
		MAShort:    s.MAShort,
		MAMedium:   s.MAMedium,
		MALong:     s.MALong,
		RSIFast:    s.RSIFast,
		RSISlow:    s.RSISlow,
		MACD:       s.MACD,
		MACDSignal: s.MACDSignal,
		MACDHist:   s.MACDHist,
		BBUpper:    s.BBUpper,
		BBMiddle:   s.BBMiddle,
		BBLower:    s.BBLower,
		ATR:        s.ATR,
		SAR:        s.SAR,
		SARTrend:   s.SARTrend,
		StochK:     s.StochK,
		StochD:     s.StochD,
	}
}

func (m IndicatorSnapshotModel) ToDomain() indicator.Snapshot {
	return indicator.Snapshot{
		Symbol:     m.Symbol,
		Interval:   m.Interval,
		CandleTime: m.CandleTime,
		Price:      m.Price,
		MAShort:    m.MAShort,
		MAMedium:   m.MAMedium,
		MALong:     m.MALong,
		RSIFast:    m.RSIFast,
		RSISlow:    m.RSISlow,
		MACD:       m.MACD,
		MACDSignal: m.MACDSignal,
		MACDHist:   m.MACDHist,
		BBUpper:    m.BBUpper,
		BBMiddle:   m.BBMiddle,
		BBLower:    m.BBLower,
		ATR:        m.ATR,
		SAR:        m.SAR,
		SARTrend:   m.SARTrend,
		StochK:     m.StochK,
		StochD:     m.StochD,
	}
}
