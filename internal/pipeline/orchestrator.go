package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/gateway/notifier"
	"signaldesk/internal/gateway/provider"
	"signaldesk/internal/logger"
	"signaldesk/internal/market"
	"signaldesk/internal/metrics"
	"signaldesk/internal/pkg/text"
	"signaldesk/internal/risk"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
	"signaldesk/internal/trace"
	"signaldesk/internal/trader"
)

// WarnTickUnavailable 表示无法读取最小价格变动单位，价位未按 tick 取整。
const WarnTickUnavailable = "tick_data_unavailable"

const maxRawLogLen = 240

type Recommender interface {
	Call(ctx context.Context, payload provider.ChatPayload) (string, error)
}

type SnapshotBuilder interface {
	Build(candles []market.Candle) (indicator.Snapshot, error)
}

type PromptBuilder interface {
	Build(symbol, interval string, snap indicator.Snapshot, candles []market.Candle) (system, user string, err error)
}

// InstrumentSource 提供 tick 大小，用于在校验前对齐价位。
type InstrumentSource interface {
	Instrument(ctx context.Context, symbol string) (market.Instrument, error)
}

type Trader interface {
	Decide(ctx context.Context, sig signal.Signal) trader.Outcome
}

// Deps 是编排器的全部协作者。Instruments、Candles、Notifier、Metrics 可以为空。
type Deps struct {
	Source      market.Source
	Candles     store.CandleStore
	Signals     store.SignalStore
	Indicators  SnapshotBuilder
	Prompts     PromptBuilder
	Recommender Recommender
	Validator   signal.Validator
	Instruments InstrumentSource
	Trader      Trader
	Notifier    notifier.TextNotifier
	Metrics     *metrics.Metrics
}

type Options struct {
	CandleLimit  int
	ExpectJSON   bool
	MaxTokens    int
	FetchTimeout time.Duration
	AITimeout    time.Duration
	StoreTimeout time.Duration
	VenueTimeout time.Duration
}

// Orchestrator 顺序执行一次 信号 -> 校验 -> 持久化 -> 交易 运行。
// 运行之间不共享可变状态，可以并发调用 Run。
type Orchestrator struct {
	deps     Deps
	opts     Options
	now      func() time.Time
	newRunID func() string
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	var missing []string
	if deps.Source == nil {
		missing = append(missing, "source")
	}
	if deps.Signals == nil {
		missing = append(missing, "signal store")
	}
	if deps.Indicators == nil {
		missing = append(missing, "indicator builder")
	}
	if deps.Prompts == nil {
		missing = append(missing, "prompt builder")
	}
	if deps.Recommender == nil {
		missing = append(missing, "recommender")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing %s", strings.Join(missing, ", "))
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		now:      time.Now,
		newRunID: uuid.NewString,
	}, nil
}

// Run 总是返回 RunResult；任何 panic 都在这里被捕获并带上阶段名。
func (o *Orchestrator) Run(ctx context.Context, req Request) (res RunResult) {
	req = req.normalize()
	started := time.Now()
	res = RunResult{
		RunID:     o.newRunID(),
		Symbol:    req.Symbol,
		Interval:  req.Interval,
		Stage:     StageFetchCandles,
		StartedAt: o.now().UTC(),
		Timings:   make(map[Stage]int64),
	}
	log := logger.With("run_id", res.RunID, "symbol", req.Symbol, "interval", req.Interval)
	ctx, span := trace.StartSpan(ctx, "pipeline.run",
		attribute.String("symbol", req.Symbol),
		attribute.String("interval", req.Interval),
		attribute.String("run_id", res.RunID),
	)
	o.deps.Metrics.RunStarted()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", "stage", res.Stage, "panic", p, "stack", string(debug.Stack()))
			res.fail(res.Stage, &StageError{Stage: res.Stage, Err: fmt.Errorf("%v", p), Panic: true})
		}
		res.DurationMS = time.Since(started).Milliseconds()
		o.deps.Metrics.RunFinished(string(res.Stage), string(res.Kind))
		trace.End(span, res.Err)
		if res.Err != nil {
			log.Warn("pipeline run ended with error", "stage", res.Stage, "kind", res.Kind, "err", res.Err)
		} else {
			log.Info("pipeline run finished", "stage", res.Stage, "signal_id", res.SignalID, "ms", res.DurationMS)
		}
	}()

	o.run(ctx, req, &res, log)
	return res
}

func (o *Orchestrator) run(ctx context.Context, req Request, res *RunResult, log *slog.Logger) {
	if req.Symbol == "" || req.Interval == "" {
		res.fail(StageFetchCandles, errors.New("symbol and interval are required"))
		res.Kind = KindInvalidRequest
		return
	}

	var candles []market.Candle
	err := o.step(ctx, res, StageFetchCandles, o.opts.FetchTimeout, func(c context.Context) error {
		var err error
		candles, err = o.deps.Source.FetchCandles(c, req.Symbol, req.Interval, o.opts.CandleLimit)
		if err == nil && len(candles) == 0 {
			err = errors.New("source returned no candles")
		}
		return err
	})
	if err != nil {
		res.fail(StageFetchCandles, fmt.Errorf("fetch candles: %w", err))
		return
	}

	// K 线落库失败不影响本次运行，内存中的数据仍然可用。
	if o.deps.Candles != nil {
		err = o.step(ctx, res, StagePersistCandles, o.opts.StoreTimeout, func(c context.Context) error {
			return o.deps.Candles.UpsertCandles(c, candles)
		})
		if err != nil {
			res.warn(fmt.Sprintf("%s: %v", StagePersistCandles, err))
			log.Warn("persist candles failed, continuing", "count", len(candles), "err", err)
		}
	}

	var snap indicator.Snapshot
	err = o.step(ctx, res, StageBuildIndicators, 0, func(context.Context) error {
		var err error
		snap, err = o.deps.Indicators.Build(candles)
		return err
	})
	if err != nil {
		res.fail(StageBuildIndicators, fmt.Errorf("build indicators: %w", err))
		return
	}

	var system, user string
	err = o.step(ctx, res, StageBuildPrompt, 0, func(context.Context) error {
		var err error
		system, user, err = o.deps.Prompts.Build(req.Symbol, req.Interval, snap, candles)
		return err
	})
	if err != nil {
		res.fail(StageBuildPrompt, fmt.Errorf("build prompt: %w", err))
		return
	}

	var raw string
	err = o.step(ctx, res, StageRecommend, o.opts.AITimeout, func(c context.Context) error {
		var err error
		raw, err = o.deps.Recommender.Call(c, provider.ChatPayload{
			System:     system,
			User:       user,
			ExpectJSON: o.opts.ExpectJSON,
			MaxTokens:  o.opts.MaxTokens,
			RunID:      res.RunID,
		})
		return err
	})
	if err != nil {
		res.fail(StageRecommend, fmt.Errorf("recommend: %w", err))
		return
	}

	var rec signal.Recommendation
	err = o.step(ctx, res, StageDecode, 0, func(context.Context) error {
		var err error
		rec, err = signal.Decode(raw)
		return err
	})
	if err != nil {
		log.Warn("recommendation decode failed", "raw", text.Truncate(raw, maxRawLogLen))
		res.fail(StageDecode, err)
		return
	}

	var extraWarnings []string
	if o.deps.Instruments != nil && !rec.Direction.IsHold() {
		err = o.step(ctx, res, StageRoundLevels, o.opts.VenueTimeout, func(c context.Context) error {
			inst, err := o.deps.Instruments.Instrument(c, req.Symbol)
			if err != nil {
				return err
			}
			rec.Entry = risk.RoundToTick(rec.Entry, inst.TickSize)
			rec.Stop = risk.RoundToTick(rec.Stop, inst.TickSize)
			rec.Target = risk.RoundToTick(rec.Target, inst.TickSize)
			return nil
		})
		if err != nil {
			w := signal.Warning{Code: WarnTickUnavailable, Message: err.Error()}
			extraWarnings = append(extraWarnings, w.String())
			o.deps.Metrics.Warning(w.Code)
			log.Warn("tick size unavailable, levels left unrounded", "err", err)
		}
	}

	var validated signal.Validated
	err = o.step(ctx, res, StageValidate, 0, func(context.Context) error {
		var err error
		validated, err = o.deps.Validator.Validate(rec)
		return err
	})
	if err != nil {
		res.fail(StageValidate, err)
		return
	}
	for _, w := range validated.Warnings {
		o.deps.Metrics.Warning(w.Code)
		log.Warn("recommendation warning", "code", w.Code, "detail", w.Message)
	}

	sig := signal.FromValidated(validated, res.RunID, req.Symbol, req.Interval,
		snap.Price, time.UnixMilli(snap.CandleTime), o.now())
	sig.Raw = raw
	sig.Warnings = append(sig.Warnings, extraWarnings...)
	res.Warnings = append(res.Warnings, sig.Warnings...)

	err = o.step(ctx, res, StagePersistSignal, o.opts.StoreTimeout, func(c context.Context) error {
		id, err := o.deps.Signals.InsertSignal(c, sig)
		sig.ID = id
		return err
	})
	if err != nil {
		res.fail(StagePersistSignal, fmt.Errorf("persist signal: %w", err))
		return
	}
	res.SignalID = sig.ID

	err = o.step(ctx, res, StagePersistIndicators, o.opts.StoreTimeout, func(c context.Context) error {
		return o.deps.Signals.InsertIndicatorSnapshot(c, sig.ID, snap)
	})
	if err != nil {
		o.rollback(ctx, res, sig, err, log)
		return
	}
	res.Signal = &sig

	if o.deps.Trader != nil {
		var out trader.Outcome
		_ = o.step(ctx, res, StageTrade, 0, func(c context.Context) error {
			out = o.deps.Trader.Decide(c, sig)
			return out.Err
		})
		o.recordTrade(res, sig, out, log)
	}
	res.Stage = StageDone
}

// rollback 删除刚写入的信号。删除失败时不重试，直接以 OrphanedRecordError 结束。
// 删除脱离 run ctx 的取消，只受 StoreTimeout 约束。
func (o *Orchestrator) rollback(ctx context.Context, res *RunResult, sig signal.Signal, writeErr error, log *slog.Logger) {
	log.Warn("indicator snapshot write failed, rolling back signal", "signal_id", sig.ID, "err", writeErr)
	delErr := o.step(context.WithoutCancel(ctx), res, StageRollback, o.opts.StoreTimeout, func(c context.Context) error {
		return o.deps.Signals.DeleteSignal(c, sig.ID)
	})
	if delErr != nil {
		orphan := &OrphanedRecordError{SignalID: sig.ID, WriteErr: writeErr, DeleteErr: delErr}
		res.fail(StageRollback, orphan)
		res.OrphanID = sig.ID
		o.deps.Metrics.Orphaned()
		log.Error("signal orphaned, manual cleanup required", "signal_id", sig.ID, "err", orphan)
		o.notify(orphanMessage(*res, orphan), log)
		return
	}
	res.SignalID = 0
	res.fail(StageRollback, fmt.Errorf("persist indicator snapshot, signal %d rolled back: %w", sig.ID, writeErr))
}

func (o *Orchestrator) recordTrade(res *RunResult, sig signal.Signal, out trader.Outcome, log *slog.Logger) {
	res.Trade = &out
	o.deps.Metrics.TradeOutcome(string(out.Status), out.Reason)
	switch {
	case out.Status == trader.StatusFailed:
		res.Kind = KindTradeFailed
		res.Err = out.Err
		res.Error = out.Error
		log.Error("trade failed", "reason", out.Reason, "err", out.Err)
		o.notify(tradeMessage(sig, out), log)
	case out.Status == trader.StatusPlaced && out.Degraded:
		res.Kind = KindDegradedBracket
		res.Err = out.Err
		res.Error = out.Error
		o.notify(tradeMessage(sig, out), log)
	case out.Status == trader.StatusPlaced:
		o.notify(tradeMessage(sig, out), log)
	default:
		log.Info("trade skipped", "reason", out.Reason)
	}
}

// step 执行单个阶段：记录已到达的阶段、耗时与 span，并套上可选超时。
func (o *Orchestrator) step(ctx context.Context, res *RunResult, stage Stage, timeout time.Duration, fn func(context.Context) error) error {
	res.Stage = stage
	ctx, span := trace.StartSpan(ctx, "pipeline."+string(stage))
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	res.Timings[stage] += d.Milliseconds()
	o.deps.Metrics.ObserveStage(string(stage), d)
	trace.End(span, err)
	return err
}

func (o *Orchestrator) notify(msg string, log *slog.Logger) {
	if err := o.deps.Notifier.SendText(msg); err != nil {
		log.Warn("operator alert failed", "err", err)
	}
}
