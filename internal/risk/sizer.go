package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInsufficientRiskBudget 表示在给定止损距离下无法开出不低于最小下单量的仓位。
var ErrInsufficientRiskBudget = errors.New("insufficient risk budget")

// 未配置步长时数量保留的小数位。
const defaultQtyPlaces = 8

// Sizer 按固定风险比例计算下单数量。杠杆由调用方折算进 balance。
type Sizer struct {
	StepSize float64
	MinQty   float64
}

// Size 返回 floor((balance*fraction)/|entry-stop|) 对齐到 StepSize 的数量，
// 保证 quantity*|entry-stop| <= balance*fraction。
func (s Sizer) Size(balance, entry, stop, fraction float64) (float64, error) {
	if !positive(balance) || !positive(entry) || !positive(stop) || !positive(fraction) {
		return 0, fmt.Errorf("%w: balance=%v entry=%v stop=%v fraction=%v", ErrInsufficientRiskBudget, balance, entry, stop, fraction)
	}
	if !finite(s.StepSize) || !finite(s.MinQty) {
		return 0, fmt.Errorf("%w: step=%v min_qty=%v", ErrInsufficientRiskBudget, s.StepSize, s.MinQty)
	}
	perUnit := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if perUnit.IsZero() {
		return 0, fmt.Errorf("%w: stop equals entry", ErrInsufficientRiskBudget)
	}
	budget := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(fraction))
	raw, _ := budget.QuoRem(perUnit, defaultQtyPlaces)
	qty := floorToStep(raw, decimal.NewFromFloat(s.StepSize))
	if !qty.IsPositive() || qty.LessThan(decimal.NewFromFloat(s.MinQty)) {
		return 0, fmt.Errorf("%w: budget %s / risk %s floors to %s, min %v",
			ErrInsufficientRiskBudget, budget.String(), perUnit.String(), qty.String(), s.MinQty)
	}
	out, _ := qty.Float64()
	return out, nil
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	units, _ := v.QuoRem(step, 0)
	return units.Mul(step)
}

// positive 要求 x 为有限正数。
func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}

func finite(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x)
}

// RoundToTick 将价格四舍五入到最近的最小价格变动单位。非有限值原样返回，交给校验拒绝。
func RoundToTick(price, tick float64) float64 {
	if !positive(tick) || price == 0 || !finite(price) {
		return price
	}
	t := decimal.NewFromFloat(tick)
	out, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Float64()
	return out
}

// Places 返回步长对应的小数位数，例如 0.001 -> 3。
func Places(step float64) int32 {
	if step <= 0 {
		return defaultQtyPlaces
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// Format 按步长精度格式化数值，供下单接口使用。
func Format(v, step float64) string {
	return decimal.NewFromFloat(v).StringFixed(Places(step))
}
