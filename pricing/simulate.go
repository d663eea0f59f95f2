// Package pricing estimates execution prices by walking an order book ladder.
package pricing

import (
	"github.com/shopspring/decimal"

	"dex-pricer-go/market"
)

// AmountBasis 目标数量的计价资产。
type AmountBasis int

const (
	Base AmountBasis = iota
	Quote
)

func (b AmountBasis) String() string {
	if b == Quote {
		return "quote"
	}
	return "base"
}

// FillResult 模拟吃单的结果。
type FillResult struct {
	FilledNotional          decimal.Decimal
	TotalFilledBaseQuantity decimal.Decimal
	// WorstPrice 最后触及档位的价格（非加权）。
	WorstPrice decimal.Decimal
	// Exhausted 整个 ladder 被吃完仍未满足目标（部分成交）。
	Exhausted bool
}

// LiquidityTotals 整个 ladder 的聚合流动性。
type LiquidityTotals struct {
	TotalQuantity decimal.Decimal
	TotalNotional decimal.Decimal
}

// Simulate walks the ladder in priority order until target is satisfied.
// An empty ladder or a non-positive target yields a zero result.
func Simulate(ladder market.Ladder, target decimal.Decimal, basis AmountBasis) FillResult {
	res := FillResult{
		FilledNotional:          decimal.Zero,
		TotalFilledBaseQuantity: decimal.Zero,
		WorstPrice:              decimal.Zero,
	}
	if ladder.Empty() || target.Sign() <= 0 {
		return res
	}

	for i := 0; i < ladder.Len(); i++ {
		price, qty := ladder.At(i)
		res.WorstPrice = price

		switch basis {
		case Quote:
			remaining := target.Sub(res.FilledNotional)
			levelNotional := price.Mul(qty)
			if price.Sign() > 0 && levelNotional.GreaterThanOrEqual(remaining) {
				res.TotalFilledBaseQuantity = res.TotalFilledBaseQuantity.Add(remaining.Div(price))
				res.FilledNotional = target
				return res
			}
			res.TotalFilledBaseQuantity = res.TotalFilledBaseQuantity.Add(qty)
			res.FilledNotional = res.FilledNotional.Add(levelNotional)
		default:
			remaining := target.Sub(res.TotalFilledBaseQuantity)
			if qty.GreaterThanOrEqual(remaining) {
				res.TotalFilledBaseQuantity = target
				res.FilledNotional = res.FilledNotional.Add(remaining.Mul(price))
				return res
			}
			res.TotalFilledBaseQuantity = res.TotalFilledBaseQuantity.Add(qty)
			res.FilledNotional = res.FilledNotional.Add(qty.Mul(price))
		}
	}

	res.Exhausted = true
	return res
}

// AveragePrice 成交均价；未成交时返回 0。
func AveragePrice(r FillResult) decimal.Decimal {
	if r.TotalFilledBaseQuantity.IsZero() {
		return decimal.Zero
	}
	return r.FilledNotional.Div(r.TotalFilledBaseQuantity)
}

// Aggregate 汇总 ladder 全部档位，与目标数量无关。
func Aggregate(ladder market.Ladder) LiquidityTotals {
	totals := LiquidityTotals{TotalQuantity: decimal.Zero, TotalNotional: decimal.Zero}
	for i := 0; i < ladder.Len(); i++ {
		price, qty := ladder.At(i)
		totals.TotalQuantity = totals.TotalQuantity.Add(qty)
		totals.TotalNotional = totals.TotalNotional.Add(price.Mul(qty))
	}
	return totals
}

// ParseAmount 解析表单输入；空串或非法数字视为 0。
func ParseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
