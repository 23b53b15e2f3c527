package pipeline

import (
	"strings"
	"time"

	symbolpkg "signaldesk/internal/pkg/symbol"
	"signaldesk/internal/signal"
	"signaldesk/internal/trader"
)

type Stage string

const (
	StageFetchCandles      Stage = "fetch_candles"
	StagePersistCandles    Stage = "persist_candles"
	StageBuildIndicators   Stage = "build_indicators"
	StageBuildPrompt       Stage = "build_prompt"
	StageRecommend         Stage = "recommend"
	StageDecode            Stage = "decode"
	StageRoundLevels       Stage = "round_levels"
	StageValidate          Stage = "validate"
	StagePersistSignal     Stage = "persist_signal"
	StagePersistIndicators Stage = "persist_indicators"
	StageRollback          Stage = "rollback"
	StageTrade             Stage = "trade"
	StageDone              Stage = "done"
)

// Request 是一次运行的目标。
type Request struct {
	Symbol   string `json:"symbol" binding:"required"`
	Interval string `json:"interval" binding:"required"`
}

func (r Request) normalize() Request {
	return Request{
		Symbol:   symbolpkg.ToBinance(r.Symbol),
		Interval: strings.ToLower(strings.TrimSpace(r.Interval)),
	}
}

// RunResult 汇总一次运行，所有路径都会返回它。
type RunResult struct {
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Stage      Stage           `json:"stage"`
	SignalID   uint            `json:"signal_id,omitempty"`
	Signal     *signal.Signal  `json:"signal,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Trade      *trader.Outcome `json:"trade,omitempty"`
	Kind       ErrorKind       `json:"error_kind,omitempty"`
	Err        error           `json:"-"`
	Error      string          `json:"error,omitempty"`
	OrphanID   uint            `json:"orphan_id,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Timings    map[Stage]int64 `json:"timings_ms,omitempty"`
}

// OK 表示运行走完且没有任何需要关注的错误；Skipped 交易仍然算 OK。
func (r RunResult) OK() bool {
	return r.Stage == StageDone && r.Kind == KindNone
}

func (r *RunResult) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *RunResult) fail(stage Stage, err error) {
	r.Stage = stage
	r.Err = err
	r.Kind = classify(stage, err)
	if err != nil {
		r.Error = err.Error()
	}
}
