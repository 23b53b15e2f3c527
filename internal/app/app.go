package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"signaldesk/internal/config"
	"signaldesk/internal/logger"
	"signaldesk/internal/pipeline"
	"signaldesk/internal/scheduler"
	"signaldesk/internal/store"
	apihttp "signaldesk/internal/transport/http/api"
)

// App 负责应用级编排：加载配置→初始化依赖→启动调度与 HTTP 服务。
type App struct {
	cfg          *config.Config
	store        store.Store
	orchestrator *pipeline.Orchestrator
	runner       *scheduler.Runner
	scheduler    *scheduler.AlignedScheduler
	http         *apihttp.Server
	Summary      *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与定时运行，直到 ctx 结束。
// 未开启调度时，启动后对所有交易对运行一次。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if a.scheduler != nil {
			a.scheduler.Start(ctx, a.runner.Tick)
			return nil
		}
		if a.cfg.Pipeline.RunImmediately {
			a.runner.Tick(ctx)
		}
		return nil
	})

	return group.Wait()
}

// Close 释放存储连接。
func (a *App) Close() {
	if a == nil || a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("close store failed: %v", err)
	}
}

// Orchestrator exposes the pipeline for one-off runs (cli / tests).
func (a *App) Orchestrator() *pipeline.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orchestrator
}

func (a *App) Runner() *scheduler.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}
