package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"signaldesk/internal/config"
)

type StartupSummary struct {
	Pairs    []string
	Model    string
	Venue    string
	Trading  TradingSummary
	Schedule ScheduleSummary
	HTTPAddr string
	Store    string
}

type TradingSummary struct {
	AutoTrade     bool
	RiskFraction  float64
	MinConfidence float64
	Leverage      float64
}

type ScheduleSummary struct {
	Enabled        bool
	Interval       string
	OffsetSeconds  int
	RunImmediately bool
	MaxConcurrent  int
}

func newStartupSummary(cfg *config.Config, venue string) *StartupSummary {
	pairs := make([]string, 0, len(cfg.Pipeline.Pairs))
	for _, p := range cfg.Pipeline.Pairs {
		pairs = append(pairs, p.Symbol+"@"+p.Interval)
	}
	return &StartupSummary{
		Pairs: pairs,
		Model: cfg.AI.Model,
		Venue: venue,
		Trading: TradingSummary{
			AutoTrade:     cfg.Venue.Enabled && cfg.Trading.AutoTrade,
			RiskFraction:  cfg.Trading.RiskFraction,
			MinConfidence: cfg.Trading.MinConfidence,
			Leverage:      cfg.Trading.Leverage,
		},
		Schedule: ScheduleSummary{
			Enabled:        cfg.Pipeline.Schedule,
			Interval:       cfg.Pipeline.ScheduleInterval,
			OffsetSeconds:  cfg.Pipeline.OffsetSeconds,
			RunImmediately: cfg.Pipeline.RunImmediately,
			MaxConcurrent:  cfg.Pipeline.MaxConcurrent,
		},
		HTTPAddr: cfg.App.HTTPAddr,
		Store:    cfg.Store.Path,
	}
}

func (s *StartupSummary) Print() {
	s.Render(os.Stdout)
}

func (s *StartupSummary) Render(w io.Writer) {
	if s == nil {
		return
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[交易对 (PAIRS)]")
	fmt.Fprintf(w, "  目标: %s\n", formatList(s.Pairs))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[推荐模型 (MODEL)]")
	fmt.Fprintf(w, "  模型: %s\n", orDash(s.Model))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易 (TRADING)]")
	fmt.Fprintf(w, "  场所: %s\n", orDash(s.Venue))
	fmt.Fprintf(w, "  自动交易: %v\n", s.Trading.AutoTrade)
	fmt.Fprintf(w, "  单笔风险: %.2f%%\n", s.Trading.RiskFraction*100)
	fmt.Fprintf(w, "  最低置信度: %.0f\n", s.Trading.MinConfidence)
	fmt.Fprintf(w, "  杠杆: %.0fx\n", s.Trading.Leverage)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[调度 (SCHEDULE)]")
	if s.Schedule.Enabled {
		fmt.Fprintf(w, "  周期: %s (+%ds)\n", s.Schedule.Interval, s.Schedule.OffsetSeconds)
	} else {
		fmt.Fprintln(w, "  周期: (关闭)")
	}
	fmt.Fprintf(w, "  启动即运行: %v\n", s.Schedule.RunImmediately)
	fmt.Fprintf(w, "  并发: %d\n", s.Schedule.MaxConcurrent)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  HTTP: %s | 存储: %s\n", orDash(s.HTTPAddr), orDash(s.Store))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(无)"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
