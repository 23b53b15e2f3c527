package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signaldesk/internal/analysis/indicator"
	"signaldesk/internal/config"
	"signaldesk/internal/gateway/binance"
	"signaldesk/internal/gateway/notifier"
	"signaldesk/internal/gateway/provider"
	"signaldesk/internal/logger"
	"signaldesk/internal/market"
	"signaldesk/internal/metrics"
	"signaldesk/internal/pipeline"
	promptkit "signaldesk/internal/prompt"
	"signaldesk/internal/scheduler"
	"signaldesk/internal/signal"
	"signaldesk/internal/store"
	"signaldesk/internal/store/gormstore"
	"signaldesk/internal/trader"
	apihttp "signaldesk/internal/transport/http/api"
)

// memoryStorePath 让 store.path 选择进程内存储（不落盘，适合试运行）。
const memoryStorePath = "memory"

// venueBackend 是流水线对下单场所的全部需求：交易 + tick 查询。
type venueBackend interface {
	trader.Venue
	pipeline.InstrumentSource
}

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (store.Store, error)
	sourceFn   func(config.MarketConfig) (market.Source, error)
	venueFn    func(config.MarketConfig, config.VenueConfig) (venueBackend, error)
	modelFn    func(config.AIConfig) (pipeline.Recommender, error)
	notifierFn func(config.NotifyConfig) (notifier.TextNotifier, error)
}

type AppBuilderOption func(*AppBuilder)

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(config.StoreConfig) (store.Store, error) { return st, nil }
	}
}

func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(config.MarketConfig) (market.Source, error) { return src, nil }
	}
}

func WithRecommender(r pipeline.Recommender) AppBuilderOption {
	return func(b *AppBuilder) {
		b.modelFn = func(config.AIConfig) (pipeline.Recommender, error) { return r, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) (notifier.TextNotifier, error) { return n, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStore,
		sourceFn:   buildSource,
		venueFn:    buildVenue,
		modelFn:    buildModel,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	app, err := b.build(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

func (b *AppBuilder) build(cfg *config.Config, st store.Store) (*App, error) {
	src, err := b.sourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("init market source: %w", err)
	}
	model, err := b.modelFn(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}
	text, err := b.notifierFn(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	indicators, err := indicator.NewBuilder(indicatorSettings(cfg.Indicator))
	if err != nil {
		return nil, err
	}
	registry, err := promptkit.NewRegistry(cfg.Prompt.Path)
	if err != nil {
		return nil, fmt.Errorf("init prompt registry: %w", err)
	}
	prompts := promptkit.NewBuilder(registry, promptkit.Rules{
		MinRiskReward:   cfg.Signal.MinRiskReward,
		MinRationaleLen: cfg.Signal.MinRationaleLen,
	}, cfg.Pipeline.HistoryRows)

	deps := pipeline.Deps{
		Source:      src,
		Candles:     st,
		Signals:     st,
		Indicators:  indicators,
		Prompts:     prompts,
		Recommender: model,
		Validator: signal.Validator{
			MinRiskReward:   cfg.Signal.MinRiskReward,
			RiskFloor:       cfg.Signal.RiskFloor,
			RoundNumberStep: cfg.Signal.RoundNumberStep,
			MinRationaleLen: cfg.Signal.MinRationaleLen,
		},
		Notifier: text,
		Metrics:  metrics.New(),
	}

	// 未启用下单场所时引擎仍然构建，每个信号都会得到 skipped/auto_trade_disabled。
	venueLabel := "disabled"
	var venue trader.Venue
	if cfg.Venue.Enabled {
		backend, err := b.venueFn(cfg.Market, cfg.Venue)
		if err != nil {
			return nil, fmt.Errorf("init venue: %w", err)
		}
		deps.Instruments = backend
		venue = backend
		venueLabel = fmt.Sprintf("binance futures (%s entry)", cfg.Venue.EntryOrderType)
	}
	deps.Trader = trader.NewEngine(trader.Config{
		AutoTrade:     cfg.Venue.Enabled && cfg.Trading.AutoTrade,
		MinConfidence: cfg.Trading.MinConfidence,
		MinBalance:    cfg.Trading.MinBalance,
		RiskFraction:  cfg.Trading.RiskFraction,
		Leverage:      cfg.Trading.Leverage,
		VenueTimeout:  cfg.Pipeline.VenueTimeout(),
	}, venue)

	orch, err := pipeline.New(deps, pipeline.Options{
		CandleLimit:  cfg.Pipeline.CandleLimit,
		ExpectJSON:   cfg.AI.ExpectJSON,
		MaxTokens:    cfg.AI.MaxTokens,
		FetchTimeout: cfg.Pipeline.FetchTimeout(),
		AITimeout:    cfg.Pipeline.AITimeout(),
		StoreTimeout: cfg.Pipeline.StoreTimeout(),
		VenueTimeout: cfg.Pipeline.VenueTimeout(),
	})
	if err != nil {
		return nil, err
	}

	pairs := make([]pipeline.Request, 0, len(cfg.Pipeline.Pairs))
	for _, p := range cfg.Pipeline.Pairs {
		pairs = append(pairs, pipeline.Request{Symbol: p.Symbol, Interval: p.Interval})
	}
	runner := scheduler.NewRunner(orch, pairs, cfg.Pipeline.MaxConcurrent)

	var sched *scheduler.AlignedScheduler
	if cfg.Pipeline.Schedule {
		every, err := scheduler.ParseInterval(cfg.Pipeline.ScheduleInterval)
		if err != nil {
			return nil, fmt.Errorf("pipeline.schedule_interval: %w", err)
		}
		sched = scheduler.NewAlignedScheduler(every, time.Duration(cfg.Pipeline.OffsetSeconds)*time.Second)
		sched.RunImmediately = cfg.Pipeline.RunImmediately
	}

	var server *apihttp.Server
	if addr := strings.TrimSpace(cfg.App.HTTPAddr); addr != "" {
		server, err = apihttp.NewServer(apihttp.ServerConfig{
			Addr:    addr,
			Runner:  orch,
			Signals: st,
			Candles: st,
			Metrics: deps.Metrics.Handler(),
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Infof("✓ 流水线就绪: pairs=%d model=%s venue=%s auto_trade=%v",
		len(pairs), cfg.AI.Model, venueLabel, cfg.Venue.Enabled && cfg.Trading.AutoTrade)

	return &App{
		cfg:          cfg,
		store:        st,
		orchestrator: orch,
		runner:       runner,
		scheduler:    sched,
		http:         server,
		Summary:      newStartupSummary(cfg, venueLabel),
	}, nil
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Path), memoryStorePath) {
		logger.Warnf("store.path=memory: 信号不会落盘")
		return store.NewMemoryStore(), nil
	}
	return gormstore.NewGormStore(cfg.Path)
}

func buildSource(cfg config.MarketConfig) (market.Source, error) {
	return binance.New(marketGatewayConfig(cfg))
}

func buildVenue(mcfg config.MarketConfig, vcfg config.VenueConfig) (venueBackend, error) {
	gc := marketGatewayConfig(mcfg)
	if v := strings.TrimSpace(vcfg.RESTBaseURL); v != "" {
		gc.RESTBaseURL = v
	}
	gc.APIKey = vcfg.APIKey
	gc.APISecret = vcfg.APISecret
	gc.QuoteAsset = vcfg.QuoteAsset
	gc.EntryOrderType = vcfg.EntryOrderType
	gc.WorkingType = vcfg.WorkingType
	gc.TagPrefix = vcfg.TagPrefix
	return binance.NewVenue(gc)
}

func marketGatewayConfig(cfg config.MarketConfig) binance.Config {
	return binance.Config{
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.Proxy.Enabled,
		RESTProxyURL: cfg.Proxy.RESTURL,
	}
}

func buildModel(cfg config.AIConfig) (pipeline.Recommender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ai.api_key is empty (set SIGNALDESK_AI_API_KEY)")
	}
	return provider.NewOpenAIChatClient(provider.Config{
		ID:           cfg.ID,
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		Headers:      cfg.Headers,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		MaxRetries:   cfg.MaxRetries,
		RequestsPerM: cfg.RequestsPerMin,
		ExpectJSON:   cfg.ExpectJSON,
	}), nil
}

func buildNotifier(cfg config.NotifyConfig) (notifier.TextNotifier, error) {
	if !cfg.Telegram.Enabled {
		return notifier.Noop{}, nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func indicatorSettings(c config.IndicatorConfig) indicator.Settings {
	return indicator.Settings{
		MinCandles:  c.MinCandles,
		EMAShort:    c.EMAShort,
		EMAMedium:   c.EMAMedium,
		EMALong:     c.EMALong,
		RSIFast:     c.RSIFast,
		RSISlow:     c.RSISlow,
		BBandPeriod: c.BBandPeriod,
		ATRPeriod:   c.ATRPeriod,
	}
}
