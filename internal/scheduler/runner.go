package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"signaldesk/internal/logger"
	"signaldesk/internal/pipeline"
)

type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.RunResult
}

// Runner 并发执行互相独立的交易对运行，并发度由 maxConcurrent 限制。
type Runner struct {
	pipeline      PipelineRunner
	pairs         []pipeline.Request
	maxConcurrent int
}

func NewRunner(p PipelineRunner, pairs []pipeline.Request, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{pipeline: p, pairs: pairs, maxConcurrent: maxConcurrent}
}

func (r *Runner) Pairs() []pipeline.Request {
	return r.pairs
}

// RunPairs 的结果顺序与输入一致。单个运行的失败不会影响其他运行。
func (r *Runner) RunPairs(ctx context.Context, pairs []pipeline.Request) []pipeline.RunResult {
	results := make([]pipeline.RunResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)
	for i, req := range pairs {
		g.Go(func() error {
			results[i] = r.pipeline.Run(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Tick 运行全部配置的交易对并输出汇总，供调度器调用。
func (r *Runner) Tick(ctx context.Context) {
	if len(r.pairs) == 0 {
		return
	}
	start := time.Now()
	results := r.RunPairs(ctx, r.pairs)
	var ok, failed, attention int
	for _, res := range results {
		switch {
		case res.Kind.NeedsOperator():
			attention++
		case res.OK():
			ok++
		default:
			failed++
		}
	}
	logger.Infof("scheduler tick: pairs=%d ok=%d failed=%d needs_operator=%d took=%s",
		len(results), ok, failed, attention, time.Since(start).Truncate(time.Millisecond))
}
