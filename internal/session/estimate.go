package session

import (
	"github.com/shopspring/decimal"

	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
)

// Intent 按当前市场精度与默认滑点构造下单意图；amount 为表单输入。
func (s *Session) Intent(side pricing.Side, basis pricing.AmountBasis, amount string) pricing.TradeIntent {
	s.mu.Lock()
	marketID, tol := s.marketID, s.tolerance
	s.mu.Unlock()
	meta, _ := s.deps.Catalog.Get(marketID)
	return pricing.TradeIntent{
		Side:              side,
		Basis:             basis,
		Amount:            pricing.ParseAmount(amount),
		SlippageTolerance: tol,
		PriceDecimals:     meta.PriceDecimals,
		QuantityDecimals:  meta.QuantityDecimals,
	}
}

// Estimate 用当前市场的订单簿计算估价；未知市场返回零值估价。
func (s *Session) Estimate(intent pricing.TradeIntent) (pricing.Estimate, error) {
	marketID := s.MarketID()
	if marketID == "" {
		return pricing.Estimate{}, ErrNoMarket
	}
	return s.EstimateFor(marketID, intent)
}

// EstimateFor 对任意已知市场估价。
func (s *Session) EstimateFor(marketID string, intent pricing.TradeIntent) (pricing.Estimate, error) {
	if _, ok := s.deps.Catalog.Get(marketID); !ok {
		return pricing.EstimateOrder(intent, market.Ladder{Side: intent.BookSide()}, pricing.ReduceOnlyContext{}), nil
	}
	ladder := s.deps.Market.Ladder(marketID, intent.BookSide())
	est, err := s.deps.Estimator.Estimate(marketID, intent, ladder)
	if err == nil && s.deps.Events != nil {
		s.deps.Events.LogEstimate(marketID, map[string]interface{}{
			"side":        intent.Side.String(),
			"basis":       intent.Basis.String(),
			"amount":      intent.Amount.String(),
			"avg_price":   est.AveragePrice.String(),
			"worst_price": est.WorstPrice.String(),
			"exhausted":   est.Fill.Exhausted,
		})
	}
	return est, err
}

// Exposure 当前市场的净仓位与按 mid 计算的未实现盈亏。
func (s *Session) Exposure(marketID string) (net, pnl decimal.Decimal) {
	return s.deps.Inventory.Valuation(marketID, s.deps.Market.Mid(marketID))
}
