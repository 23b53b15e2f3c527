package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownDirection  = errors.New("unknown direction")
	ErrConfidenceRange   = errors.New("confidence out of range")
	ErrRationaleTooShort = errors.New("rationale too short")
	ErrNonPositivePrice  = errors.New("non-positive price")
	ErrInvertedLevels    = errors.New("inverted levels")
	ErrDegenerateRisk    = errors.New("degenerate risk")
)

// ValidationError 指明哪条规则失败；errors.Is 可直接匹配规则哨兵。
type ValidationError struct {
	Rule   error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Rule.Error()
	}
	return e.Rule.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Rule }

func reject(rule error, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

const (
	WarnRiskReward  = "risk_reward_below_min"
	WarnRoundNumber = "round_number_level"
)

// Warning 是不改变控制流的软约束提示。
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w Warning) String() string { return w.Code + ": " + w.Message }

// Validated 是通过全部硬规则的推荐。
type Validated struct {
	Recommendation
	Risk       float64   `json:"risk"`
	Reward     float64   `json:"reward"`
	RiskReward float64   `json:"risk_reward"`
	Warnings   []Warning `json:"warnings,omitempty"`
}

func (v Validated) HasWarning(code string) bool {
	for _, w := range v.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Validator 按固定顺序执行规则，遇到第一条失败即返回。
type Validator struct {
	MinRiskReward float64
	// RiskFloor 是 |entry-stop| 的最小绝对值。
	RiskFloor float64
	// RoundNumberStep 为 0 时按 entry 的数量级取 10^(floor(log10(entry))-1)。
	RoundNumberStep float64
	MinRationaleLen int
}

func (v Validator) Validate(rec Recommendation) (Validated, error) {
	if !rec.Direction.Valid() {
		return Validated{}, reject(ErrUnknownDirection, "%q", string(rec.Direction))
	}
	if math.IsNaN(rec.Confidence) || rec.Confidence < 0 || rec.Confidence > 100 {
		return Validated{}, reject(ErrConfidenceRange, "%v not in [0,100]", rec.Confidence)
	}
	rec.Rationale = strings.TrimSpace(rec.Rationale)
	if n := utf8.RuneCountInString(rec.Rationale); n == 0 || n < v.MinRationaleLen {
		return Validated{}, reject(ErrRationaleTooShort, "%d chars, need %d", n, v.MinRationaleLen)
	}
	if rec.Direction.IsHold() {
		rec.Entry, rec.Stop, rec.Target = 0, 0, 0
		return Validated{Recommendation: rec}, nil
	}

	if !finitePositive(rec.Entry) || !finitePositive(rec.Stop) || !finitePositive(rec.Target) {
		return Validated{}, reject(ErrNonPositivePrice, "entry=%v stop=%v target=%v", rec.Entry, rec.Stop, rec.Target)
	}
	switch {
	case rec.Direction.IsBuy() && !(rec.Stop < rec.Entry && rec.Entry < rec.Target):
		return Validated{}, reject(ErrInvertedLevels, "%s needs stop < entry < target, got %v/%v/%v", rec.Direction, rec.Stop, rec.Entry, rec.Target)
	case rec.Direction.IsSell() && !(rec.Target < rec.Entry && rec.Entry < rec.Stop):
		return Validated{}, reject(ErrInvertedLevels, "%s needs target < entry < stop, got %v/%v/%v", rec.Direction, rec.Target, rec.Entry, rec.Stop)
	}

	entry := decimal.NewFromFloat(rec.Entry)
	risk := entry.Sub(decimal.NewFromFloat(rec.Stop)).Abs()
	if !risk.IsPositive() || risk.LessThan(decimal.NewFromFloat(v.RiskFloor)) {
		return Validated{}, reject(ErrDegenerateRisk, "risk %s below floor %v", risk.String(), v.RiskFloor)
	}
	reward := decimal.NewFromFloat(rec.Target).Sub(entry).Abs()
	rr := reward.Div(risk)

	out := Validated{Recommendation: rec}
	out.Risk, _ = risk.Float64()
	out.Reward, _ = reward.Float64()
	out.RiskReward, _ = rr.Round(4).Float64()
	if v.MinRiskReward > 0 && rr.LessThan(decimal.NewFromFloat(v.MinRiskReward)) {
		out.Warnings = append(out.Warnings, Warning{
			Code:    WarnRiskReward,
			Message: fmt.Sprintf("reward:risk %s below minimum %v", rr.StringFixed(2), v.MinRiskReward),
		})
	}
	step := v.roundStep(rec.Entry)
	for _, lvl := range []struct {
		name  string
		price float64
	}{{"stop", rec.Stop}, {"target", rec.Target}} {
		if onRoundNumber(lvl.price, step) {
			out.Warnings = append(out.Warnings, Warning{
				Code:    WarnRoundNumber,
				Message: fmt.Sprintf("%s %v sits on a %v round number", lvl.name, lvl.price, step),
			})
		}
	}
	return out, nil
}

func (v Validator) roundStep(entry float64) float64 {
	if v.RoundNumberStep > 0 {
		return v.RoundNumberStep
	}
	if entry <= 0 {
		return 0
	}
	return math.Pow(10, math.Floor(math.Log10(entry))-1)
}

func onRoundNumber(price, step float64) bool {
	if step <= 0 || price <= 0 {
		return false
	}
	return decimal.NewFromFloat(price).Mod(decimal.NewFromFloat(step)).IsZero()
}

func finitePositive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}
