package inventory

import "github.com/shopspring/decimal"

// Valuation 基于当前 mid 价计算未实现盈亏。
func (b *Book) Valuation(marketID string, mid decimal.Decimal) (net, pnl decimal.Decimal) {
	p, ok := b.Position(marketID)
	if !ok || mid.IsZero() {
		return p.Net, decimal.Zero
	}
	return p.Net, mid.Sub(p.AvgCost).Mul(p.Net)
}
