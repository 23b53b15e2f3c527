package config

import (
	"strings"

	"signaldesk/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogFormat     = "text"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "data/logs/signaldesk.log"
	defaultAppLLMLogPath    = "data/logs/signaldesk-llm.log"
	defaultMarketREST       = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultAIID             = "openai"
	defaultAIURL            = "https://api.openai.com/v1"
	defaultAIModel          = "gpt-4o-mini"
	defaultAITemperature    = 0.2
	defaultAIMaxTokens      = 1024
	defaultAIMaxRetries     = 3
	defaultStorePath        = "data/signaldesk.db"
	defaultVenueQuoteAsset  = "USDT"
	defaultVenueEntryType   = "market"
	defaultVenueWorkingType = "MARK_PRICE"
	defaultVenueTagPrefix   = "sd"
	defaultTradingRisk      = 0.02
	defaultTradingMinConf   = 70
	defaultTradingMinBal    = 10
	defaultTradingLeverage  = 1
	defaultSignalMinRR      = 3
	defaultSignalRiskFloor  = 1e-8
	defaultSignalRationale  = 20
	defaultPipelineLimit    = 250
	defaultPipelineHistory  = 30
	defaultPipelineInterval = "1h"
	defaultPipelineOffset   = 5
	defaultPipelineWorkers  = 4
	defaultFetchTimeout     = 15
	defaultAITimeout        = 90
	defaultStoreTimeout     = 5
	defaultVenueTimeout     = 10
	defaultTracingService   = "signaldesk"
)

// applyDefaults 为所有子配置应用默认值；文件中显式出现的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Pipeline.applyDefaults(keys)
	c.Tracing.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketTimeout),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.id", &a.ID, defaultAIID),
		stringFieldDefault("ai.api_url", &a.APIURL, defaultAIURL),
		stringFieldDefault("ai.model", &a.Model, defaultAIModel),
		fieldDefault{
			key:   "ai.temperature",
			need:  func() bool { return a.Temperature <= 0 },
			apply: func() { a.Temperature = defaultAITemperature },
		},
		intFieldDefault("ai.max_tokens", &a.MaxTokens, defaultAIMaxTokens),
		intFieldDefault("ai.max_retries", &a.MaxRetries, defaultAIMaxRetries),
		boolFieldDefault("ai.expect_json", &a.ExpectJSON, true),
	)
	a.APIURL = strings.TrimRight(strings.TrimSpace(a.APIURL), "/")
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("venue.rest_base_url", &v.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("venue.quote_asset", &v.QuoteAsset, defaultVenueQuoteAsset),
		stringFieldDefault("venue.entry_order_type", &v.EntryOrderType, defaultVenueEntryType),
		stringFieldDefault("venue.working_type", &v.WorkingType, defaultVenueWorkingType),
		stringFieldDefault("venue.tag_prefix", &v.TagPrefix, defaultVenueTagPrefix),
	)
	v.EntryOrderType = strings.ToLower(strings.TrimSpace(v.EntryOrderType))
	v.WorkingType = strings.ToUpper(strings.TrimSpace(v.WorkingType))
	v.QuoteAsset = strings.ToUpper(strings.TrimSpace(v.QuoteAsset))
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.risk_fraction",
			need:  func() bool { return t.RiskFraction <= 0 },
			apply: func() { t.RiskFraction = defaultTradingRisk },
		},
		fieldDefault{
			key:   "trading.min_confidence",
			need:  func() bool { return t.MinConfidence <= 0 },
			apply: func() { t.MinConfidence = defaultTradingMinConf },
		},
		fieldDefault{
			key:   "trading.min_balance",
			need:  func() bool { return t.MinBalance <= 0 },
			apply: func() { t.MinBalance = defaultTradingMinBal },
		},
		fieldDefault{
			key:   "trading.leverage",
			need:  func() bool { return t.Leverage <= 0 },
			apply: func() { t.Leverage = defaultTradingLeverage },
		},
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "signal.min_risk_reward",
			need:  func() bool { return s.MinRiskReward <= 0 },
			apply: func() { s.MinRiskReward = defaultSignalMinRR },
		},
		fieldDefault{
			key:   "signal.risk_floor",
			need:  func() bool { return s.RiskFloor <= 0 },
			apply: func() { s.RiskFloor = defaultSignalRiskFloor },
		},
		intFieldDefault("signal.min_rationale_len", &s.MinRationaleLen, defaultSignalRationale),
	)
}

func (p *PipelineConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("pipeline.candle_limit", &p.CandleLimit, defaultPipelineLimit),
		intFieldDefault("pipeline.history_rows", &p.HistoryRows, defaultPipelineHistory),
		stringFieldDefault("pipeline.schedule_interval", &p.ScheduleInterval, defaultPipelineInterval),
		intFieldDefault("pipeline.offset_seconds", &p.OffsetSeconds, defaultPipelineOffset),
		boolFieldDefault("pipeline.run_immediately", &p.RunImmediately, true),
		intFieldDefault("pipeline.max_concurrent", &p.MaxConcurrent, defaultPipelineWorkers),
		intFieldDefault("pipeline.fetch_timeout_seconds", &p.FetchTimeoutSeconds, defaultFetchTimeout),
		intFieldDefault("pipeline.ai_timeout_seconds", &p.AITimeoutSeconds, defaultAITimeout),
		intFieldDefault("pipeline.store_timeout_seconds", &p.StoreTimeoutSeconds, defaultStoreTimeout),
		intFieldDefault("pipeline.venue_timeout_seconds", &p.VenueTimeoutSeconds, defaultVenueTimeout),
	)
	for i := range p.Pairs {
		p.Pairs[i].Symbol = symbol.ToBinance(p.Pairs[i].Symbol)
		p.Pairs[i].Interval = strings.TrimSpace(p.Pairs[i].Interval)
		if p.Pairs[i].Interval == "" {
			p.Pairs[i].Interval = p.ScheduleInterval
		}
	}
}

func (t *TracingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("tracing.service_name", &t.ServiceName, defaultTracingService))
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
