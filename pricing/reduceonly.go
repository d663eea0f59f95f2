package pricing

import "github.com/shopspring/decimal"

// ReduceOnlyContext 计算只减仓上限所需的输入。
type ReduceOnlyContext struct {
	// HasPosition 为 false 表示该市场无持仓，上限不适用。
	HasPosition                bool
	OpenPositionQuantity       decimal.Decimal
	ReservedReduceOnlyQuantity decimal.Decimal
	AvailableOppositeLiquidity decimal.Decimal
}

// CapReduceOnly returns min(open-reserved, liquidity), floored at zero.
// ok is false when there is no position, which means no cap applies;
// callers must not confuse that with a computed cap of zero.
func CapReduceOnly(ctx ReduceOnlyContext) (decimal.Decimal, bool) {
	if !ctx.HasPosition {
		return decimal.Zero, false
	}
	remaining := ctx.OpenPositionQuantity.Sub(ctx.ReservedReduceOnlyQuantity)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	liquidity := ctx.AvailableOppositeLiquidity
	if liquidity.IsNegative() {
		liquidity = decimal.Zero
	}
	return decimal.Min(remaining, liquidity), true
}
