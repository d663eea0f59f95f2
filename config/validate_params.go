package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
)

func validateMarket(id string, mc MarketConfig) error {
	switch mc.Type {
	case string(market.Spot), string(market.Derivative):
	default:
		return fmt.Errorf("market %s type must be spot or derivative, got %q", id, mc.Type)
	}
	if mc.PriceDecimals < 0 || mc.QuantityDecimals < 0 {
		return fmt.Errorf("market %s price/quantity decimals must be >= 0", id)
	}
	if mc.BaseDecimals < 0 || mc.QuoteDecimals < 0 {
		return fmt.Errorf("market %s base/quote decimals must be >= 0", id)
	}
	return nil
}

func validateTrading(tc TradingConfig) error {
	if tc.SlippagePct == "" {
		return nil
	}
	pct, err := decimal.NewFromString(tc.SlippagePct)
	if err != nil {
		return fmt.Errorf("trading.slippagePct %q: %w", tc.SlippagePct, err)
	}
	if pct.IsNegative() {
		return fmt.Errorf("trading.slippagePct %s: %w", pct, pricing.ErrNegativeTolerance)
	}
	return nil
}

// SlippageTolerance 返回小数形式的默认滑点容忍度。
func (tc TradingConfig) SlippageTolerance() decimal.Decimal {
	return pricing.ToleranceFromPercent(tc.SlippagePct)
}
