package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate 先做结构标签校验，再做跨字段校验。
func validate(c *Config) error {
	if err := structValidator.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Venue.validate(c.Trading); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fe := verrs[0]
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	if p := fe.Param(); p != "" {
		return fmt.Errorf("%s failed %s=%s (got %v)", path, fe.Tag(), p, fe.Value())
	}
	return fmt.Errorf("%s failed %s (got %v)", path, fe.Tag(), fe.Value())
}

func (a *AIConfig) validate() error {
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("ai.api_url cannot be empty")
	}
	return nil
}

func (v *VenueConfig) validate(trading TradingConfig) error {
	if trading.AutoTrade && !v.Enabled {
		return fmt.Errorf("trading.auto_trade requires venue.enabled")
	}
	if !v.Enabled {
		return nil
	}
	if strings.TrimSpace(v.APIKey) == "" || strings.TrimSpace(v.APISecret) == "" {
		return fmt.Errorf("venue enabled but missing api_key or api_secret")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if !IsValidInterval(p.ScheduleInterval) {
		return fmt.Errorf("pipeline.schedule_interval invalid: %q", p.ScheduleInterval)
	}
	seen := make(map[string]bool, len(p.Pairs))
	for _, pair := range p.Pairs {
		if !IsValidInterval(pair.Interval) {
			return fmt.Errorf("pipeline.pairs %s has invalid interval %q", pair.Symbol, pair.Interval)
		}
		key := pair.Symbol + "@" + pair.Interval
		if seen[key] {
			return fmt.Errorf("pipeline.pairs contains duplicate %s", key)
		}
		seen[key] = true
	}
	if p.Schedule && len(p.Pairs) == 0 {
		return fmt.Errorf("pipeline.schedule requires at least one pair")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
