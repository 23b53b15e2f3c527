package binance

import (
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	defaultHTTPTimeout = 15 * time.Second
	defaultQuoteAsset  = "USDT"
	defaultTagPrefix   = "sd"
	filterCacheTTL     = time.Hour
)

// Config 同时服务行情源与下单场所；行情源只用到 REST 与代理字段。
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	APIKey    string
	APISecret string

	QuoteAsset     string
	EntryOrderType string // market | limit
	WorkingType    string // MARK_PRICE | CONTRACT_PRICE
	TagPrefix      string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = defaultHTTPTimeout
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(out.QuoteAsset))
	if out.QuoteAsset == "" {
		out.QuoteAsset = defaultQuoteAsset
	}
	out.EntryOrderType = strings.ToLower(strings.TrimSpace(out.EntryOrderType))
	if out.EntryOrderType != "limit" {
		out.EntryOrderType = "market"
	}
	out.WorkingType = strings.ToUpper(strings.TrimSpace(out.WorkingType))
	if out.WorkingType != "CONTRACT_PRICE" {
		out.WorkingType = "MARK_PRICE"
	}
	out.TagPrefix = strings.TrimSpace(out.TagPrefix)
	if out.TagPrefix == "" {
		out.TagPrefix = defaultTagPrefix
	}
	return out
}
