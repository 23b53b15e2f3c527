package config

import (
	"strings"
	"time"
)

// Config 是 signaldesk 的主配置载体，启动后只读。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	Prompt    PromptConfig    `toml:"prompt"`
	Store     StoreConfig     `toml:"store"`
	Venue     VenueConfig     `toml:"venue"`
	Trading   TradingConfig   `toml:"trading"`
	Signal    SignalConfig    `toml:"signal"`
	Indicator IndicatorConfig `toml:"indicator"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Notify    NotifyConfig    `toml:"notify"`
	Tracing   TracingConfig   `toml:"tracing"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `toml:"log_format" validate:"omitempty,oneof=text json"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

// MarketConfig 描述行情数据源（Binance U 本位合约 REST）。
type MarketConfig struct {
	RESTBaseURL        string      `toml:"rest_base_url" validate:"required,url"`
	HTTPTimeoutSeconds int         `toml:"http_timeout_seconds" validate:"gte=0"`
	Proxy              ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// AIConfig 描述推荐引擎（OpenAI 兼容接口）。
type AIConfig struct {
	ID             string            `toml:"id"`
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Headers        map[string]string `toml:"headers"`
	Temperature    float64           `toml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int               `toml:"max_tokens" validate:"gte=0"`
	MaxRetries     int               `toml:"max_retries" validate:"gte=0,lte=10"`
	RequestsPerMin int               `toml:"requests_per_minute" validate:"gte=0"`
	ExpectJSON     bool              `toml:"expect_json"`
}

type PromptConfig struct {
	// Path 指向 YAML 模板文件；为空时使用内置模板。
	Path string `toml:"path"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// VenueConfig 描述下单场所（Binance U 本位合约）。
type VenueConfig struct {
	Enabled        bool   `toml:"enabled"`
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	QuoteAsset     string `toml:"quote_asset"`
	EntryOrderType string `toml:"entry_order_type" validate:"omitempty,oneof=market limit"`
	WorkingType    string `toml:"working_type" validate:"omitempty,oneof=MARK_PRICE CONTRACT_PRICE"`
	TagPrefix      string `toml:"tag_prefix"`
}

// TradingConfig 控制自动交易开关与风险参数。
type TradingConfig struct {
	AutoTrade     bool    `toml:"auto_trade"`
	RiskFraction  float64 `toml:"risk_fraction" validate:"gt=0,lte=0.1"`
	MinConfidence float64 `toml:"min_confidence" validate:"gte=0,lte=100"`
	MinBalance    float64 `toml:"min_balance" validate:"gte=0"`
	Leverage      float64 `toml:"leverage" validate:"gte=1,lte=125"`
}

// SignalConfig 是推荐校验器的业务规则。
type SignalConfig struct {
	MinRiskReward   float64 `toml:"min_risk_reward" validate:"gt=0"`
	RiskFloor       float64 `toml:"risk_floor" validate:"gte=0"`
	RoundNumberStep float64 `toml:"round_number_step" validate:"gte=0"`
	MinRationaleLen int     `toml:"min_rationale_len" validate:"gte=0"`
}

// IndicatorConfig 为 0 的字段沿用指标模块内置默认值。
type IndicatorConfig struct {
	MinCandles  int `toml:"min_candles" validate:"gte=0"`
	EMAShort    int `toml:"ema_short" validate:"gte=0"`
	EMAMedium   int `toml:"ema_medium" validate:"gte=0"`
	EMALong     int `toml:"ema_long" validate:"gte=0"`
	RSIFast     int `toml:"rsi_fast" validate:"gte=0"`
	RSISlow     int `toml:"rsi_slow" validate:"gte=0"`
	BBandPeriod int `toml:"bband_period" validate:"gte=0"`
	ATRPeriod   int `toml:"atr_period" validate:"gte=0"`
}

// Pair 是一次流水线运行的目标。
type Pair struct {
	Symbol   string `toml:"symbol" validate:"required"`
	Interval string `toml:"interval" validate:"required"`
}

type PipelineConfig struct {
	Pairs               []Pair `toml:"pairs" validate:"dive"`
	CandleLimit         int    `toml:"candle_limit" validate:"gte=0,lte=1500"`
	HistoryRows         int    `toml:"history_rows" validate:"gte=0"`
	Schedule            bool   `toml:"schedule"`
	ScheduleInterval    string `toml:"schedule_interval"`
	OffsetSeconds       int    `toml:"offset_seconds" validate:"gte=0"`
	RunImmediately      bool   `toml:"run_immediately"`
	MaxConcurrent       int    `toml:"max_concurrent" validate:"gte=0"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds" validate:"gte=0"`
	AITimeoutSeconds    int    `toml:"ai_timeout_seconds" validate:"gte=0"`
	StoreTimeoutSeconds int    `toml:"store_timeout_seconds" validate:"gte=0"`
	VenueTimeoutSeconds int    `toml:"venue_timeout_seconds" validate:"gte=0"`
}

func (p PipelineConfig) FetchTimeout() time.Duration {
	return time.Duration(p.FetchTimeoutSeconds) * time.Second
}

func (p PipelineConfig) AITimeout() time.Duration {
	return time.Duration(p.AITimeoutSeconds) * time.Second
}

func (p PipelineConfig) StoreTimeout() time.Duration {
	return time.Duration(p.StoreTimeoutSeconds) * time.Second
}

func (p PipelineConfig) VenueTimeout() time.Duration {
	return time.Duration(p.VenueTimeoutSeconds) * time.Second
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	PrettyPrint bool   `toml:"pretty_print"`
	ServiceName string `toml:"service_name"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
