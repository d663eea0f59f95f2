package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNegativeTolerance = errors.New("slippage tolerance must be >= 0")

// Side 交易方向。
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

var hundred = decimal.NewFromInt(100)

// SlippageFactor returns 1+tol for buys and 1-tol for sells.
// A negative tolerance is clamped to zero so the directional bound always holds.
func SlippageFactor(side Side, tolerance decimal.Decimal) decimal.Decimal {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	if side == Sell {
		return decimal.NewFromInt(1).Sub(tolerance)
	}
	return decimal.NewFromInt(1).Add(tolerance)
}

// ApplySlippage 按方向调整参考价并截断（不四舍五入）到 decimals 位小数。
func ApplySlippage(ref decimal.Decimal, side Side, tolerance decimal.Decimal, decimals int32) decimal.Decimal {
	if decimals < 0 {
		decimals = 0
	}
	return ref.Mul(SlippageFactor(side, tolerance)).Truncate(decimals)
}

// TriggerPrice 止损单以触发价为参考；未提供触发价时返回 0。
func TriggerPrice(trigger decimal.NullDecimal, side Side, tolerance decimal.Decimal, decimals int32) decimal.Decimal {
	if !trigger.Valid {
		return decimal.Zero
	}
	return ApplySlippage(trigger.Decimal, side, tolerance, decimals)
}

// ToleranceFromPercent 将百分比形式（"0.5" 表示 0.5%）转换为小数；非法输入返回 0。
func ToleranceFromPercent(pct string) decimal.Decimal {
	return ParseAmount(pct).Div(hundred)
}
