package trader

import (
	"context"

	"signaldesk/internal/market"
)

// Side 是下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回平仓腿使用的方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// BracketRequest 描述一组同尺寸的入场单 + 止损单 + 止盈单。
type BracketRequest struct {
	Symbol   string
	Side     Side
	Quantity float64
	Entry    float64
	Stop     float64
	Target   float64
	// GroupID 写入三条订单的 client id，用于把它们识别为同一组。
	GroupID string
}

// LegResult 是单条订单的提交结果。
type LegResult struct {
	OrderID string `json:"order_id,omitempty"`
	Err     error  `json:"-"`
}

func (l LegResult) OK() bool { return l.Err == nil && l.OrderID != "" }

type BracketResult struct {
	Entry  LegResult
	Stop   LegResult
	Target LegResult
}

// Venue 是下单场所。余额和持仓每次调用都应实时读取。
//
// PlaceBracketOrder 在入场单失败时返回 error 且不提交任何保护单；
// 入场成功后保护单的失败记录在对应 LegResult 中。
type Venue interface {
	Balance(ctx context.Context) (float64, error)
	OpenPositions(ctx context.Context) ([]market.Position, error)
	Instrument(ctx context.Context, symbol string) (market.Instrument, error)
	PlaceBracketOrder(ctx context.Context, req BracketRequest) (BracketResult, error)
}

type Status string

const (
	StatusSkipped Status = "skipped"
	StatusPlaced  Status = "placed"
	StatusFailed  Status = "failed"
)

// 跳过原因，机器可读。
const (
	ReasonAutoTradeDisabled      = "auto_trade_disabled"
	ReasonHoldSignal             = "hold_signal"
	ReasonLowConfidence          = "low_confidence"
	ReasonPositionOpen           = "position_open"
	ReasonBalanceBelowFloor      = "balance_below_floor"
	ReasonInsufficientRiskBudget = "insufficient_risk_budget"
)

// Outcome 是一次决策的终态。Skipped 不是错误。
type Outcome struct {
	Executed bool     `json:"executed"`
	Status   Status   `json:"status"`
	Reason   string   `json:"reason,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Side     Side     `json:"side,omitempty"`
	Quantity float64  `json:"quantity,omitempty"`
	OrderIDs []string `json:"order_ids,omitempty"`
	GroupID  string   `json:"group_id,omitempty"`
	Err      error    `json:"-"`
	Error    string   `json:"error,omitempty"`
}

func skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

func failed(reason string, err error) Outcome {
	out := Outcome{Status: StatusFailed, Reason: reason, Err: err}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
