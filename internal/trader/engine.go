package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"signaldesk/internal/logger"
	"signaldesk/internal/market"
	"signaldesk/internal/risk"
	"signaldesk/internal/signal"
)

type Config struct {
	AutoTrade     bool
	MinConfidence float64
	MinBalance    float64
	RiskFraction  float64
	// Leverage 在计算仓位前乘到余额上，<=0 视为 1。
	Leverage     float64
	VenueTimeout time.Duration
}

// Engine 对单个 Signal 执行 Evaluate -> Size -> Place，不做重试。
type Engine struct {
	cfg   Config
	venue Venue
	newID func() string
}

func NewEngine(cfg Config, venue Venue) *Engine {
	return &Engine{
		cfg:   cfg,
		venue: venue,
		newID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
}

// Decide 为已持久化的信号给出交易结果。
func (e *Engine) Decide(ctx context.Context, sig signal.Signal) Outcome {
	log := logger.With("symbol", sig.Symbol, "interval", sig.Interval, "run_id", sig.RunID)

	if !e.cfg.AutoTrade {
		return skipped(ReasonAutoTradeDisabled)
	}
	if sig.Direction.IsHold() || !sig.Direction.Valid() {
		return skipped(ReasonHoldSignal)
	}
	if e.venue == nil {
		return failed("venue_unavailable", errors.New("no execution venue configured"))
	}
	if sig.Confidence < e.cfg.MinConfidence {
		return skipped(ReasonLowConfidence)
	}

	positions, err := callVenue(ctx, e.cfg.VenueTimeout, e.venue.OpenPositions)
	if err != nil {
		return failed("positions_unavailable", fmt.Errorf("read open positions: %w", err))
	}
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, sig.Symbol) && p.Quantity != 0 {
			log.Info("skip trade, position already open", "side", p.Side, "qty", p.Quantity)
			return skipped(ReasonPositionOpen)
		}
	}

	balance, err := callVenue(ctx, e.cfg.VenueTimeout, e.venue.Balance)
	if err != nil {
		return failed("balance_unavailable", fmt.Errorf("read balance: %w", err))
	}
	if balance < e.cfg.MinBalance {
		log.Info("skip trade, balance below floor", "balance", balance, "floor", e.cfg.MinBalance)
		return skipped(ReasonBalanceBelowFloor)
	}

	inst, err := callVenue(ctx, e.cfg.VenueTimeout, func(c context.Context) (market.Instrument, error) {
		return e.venue.Instrument(c, sig.Symbol)
	})
	if err != nil {
		return failed("instrument_unavailable", fmt.Errorf("read instrument: %w", err))
	}
	leverage := e.cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	qty, err := risk.Sizer{StepSize: inst.StepSize, MinQty: inst.MinQty}.
		Size(balance*leverage, sig.Entry, sig.Stop, e.cfg.RiskFraction)
	if err != nil {
		log.Info("skip trade, sizing failed", "err", err)
		out := skipped(ReasonInsufficientRiskBudget)
		out.Error = err.Error()
		return out
	}

	side := SideBuy
	if sig.Direction.IsSell() {
		side = SideSell
	}
	req := BracketRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: qty,
		Entry:    sig.Entry,
		Stop:     sig.Stop,
		Target:   sig.Target,
		GroupID:  e.newID(),
	}
	return e.place(ctx, req, log)
}

func (e *Engine) place(ctx context.Context, req BracketRequest, log *slog.Logger) Outcome {
	res, err := callVenue(ctx, e.cfg.VenueTimeout, func(c context.Context) (BracketResult, error) {
		return e.venue.PlaceBracketOrder(c, req)
	})
	if err == nil && res.Entry.Err != nil {
		err = res.Entry.Err
	}
	if err != nil {
		out := failed("entry_rejected", fmt.Errorf("place entry order: %w", err))
		out.Side, out.Quantity, out.GroupID = req.Side, req.Quantity, req.GroupID
		return out
	}

	out := Outcome{
		Executed: true,
		Status:   StatusPlaced,
		Side:     req.Side,
		Quantity: req.Quantity,
		GroupID:  req.GroupID,
		OrderIDs: []string{res.Entry.OrderID},
	}
	var legErrs []error
	for _, leg := range []struct {
		name string
		res  LegResult
	}{{"stop", res.Stop}, {"target", res.Target}} {
		if leg.res.Err != nil {
			legErrs = append(legErrs, fmt.Errorf("%s leg: %w", leg.name, leg.res.Err))
			continue
		}
		out.OrderIDs = append(out.OrderIDs, leg.res.OrderID)
	}
	if len(legErrs) > 0 {
		// 入场单已成交但保护单缺失：不自动撤单，交由调用方告警。
		out.Degraded = true
		out.Reason = "bracket_leg_failed"
		out.Err = errors.Join(legErrs...)
		out.Error = out.Err.Error()
		log.Warn("bracket placed without full protection", "group", req.GroupID, "err", out.Err)
		return out
	}
	log.Info("bracket placed", "group", req.GroupID, "side", req.Side, "qty", req.Quantity)
	return out
}

func callVenue[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}
