package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-pricer-go/market"
)

var ErrNegativeDecimals = errors.New("price/quantity decimals must be >= 0")

// TradeIntent 一次下单意图（来自下单表单）。
type TradeIntent struct {
	Side              Side
	Basis             AmountBasis
	Amount            decimal.Decimal
	SlippageTolerance decimal.Decimal // 小数形式，0.005 = 0.5%
	PriceDecimals     int32
	QuantityDecimals  int32
	// TriggerPrice 仅止损单有效。
	TriggerPrice decimal.NullDecimal
	ReduceOnly   bool
}

// Validate 拒绝负滑点与负精度；数量非正不算错误（结果为 0）。
func (i TradeIntent) Validate() error {
	if i.SlippageTolerance.IsNegative() {
		return fmt.Errorf("tolerance %s: %w", i.SlippageTolerance, ErrNegativeTolerance)
	}
	if i.PriceDecimals < 0 || i.QuantityDecimals < 0 {
		return ErrNegativeDecimals
	}
	return nil
}

// BookSide 买单吃卖盘，卖单吃买盘。
func (i TradeIntent) BookSide() market.BookSide {
	if i.Side == Sell {
		return market.Bids
	}
	return market.Asks
}

// SlippageDecimals 成交均价与最差价滑点截断的小数位：按 base 下单用价格精度，
// 按 quote 下单用数量精度。触发价始终用价格精度。
func (i TradeIntent) SlippageDecimals() int32 {
	if i.Basis == Quote {
		return i.QuantityDecimals
	}
	return i.PriceDecimals
}

// Estimate 下单面板需要的全部派生价格。
type Estimate struct {
	Fill                     FillResult
	AveragePrice             decimal.Decimal
	WorstPrice               decimal.Decimal
	AveragePriceWithSlippage decimal.Decimal
	WorstPriceWithSlippage   decimal.Decimal
	MaxOnBook                LiquidityTotals
	// MaxReduceOnly 仅在 ReduceOnlyApplies 为 true 时有意义。
	MaxReduceOnly     decimal.Decimal
	ReduceOnlyApplies bool
}

// EstimateOrder computes every derived price for intent against ladder.
// ro.AvailableOppositeLiquidity is overwritten with the ladder aggregate.
func EstimateOrder(intent TradeIntent, ladder market.Ladder, ro ReduceOnlyContext) Estimate {
	est := Estimate{
		Fill:                     Simulate(ladder, intent.Amount, intent.Basis),
		AveragePriceWithSlippage: decimal.Zero,
		WorstPriceWithSlippage:   decimal.Zero,
		MaxOnBook:                Aggregate(ladder),
	}
	est.AveragePrice = AveragePrice(est.Fill)
	est.WorstPrice = est.Fill.WorstPrice

	tol, dec := intent.SlippageTolerance, intent.SlippageDecimals()
	if !est.AveragePrice.IsZero() {
		est.AveragePriceWithSlippage = ApplySlippage(est.AveragePrice, intent.Side, tol, dec)
	}
	if intent.TriggerPrice.Valid {
		est.WorstPriceWithSlippage = TriggerPrice(intent.TriggerPrice, intent.Side, tol, intent.PriceDecimals)
	} else if !est.WorstPrice.IsZero() {
		est.WorstPriceWithSlippage = ApplySlippage(est.WorstPrice, intent.Side, tol, dec)
	}

	ro.AvailableOppositeLiquidity = est.MaxOnBook.TotalQuantity
	est.MaxReduceOnly, est.ReduceOnlyApplies = CapReduceOnly(ro)
	return est
}

// PositionSource 提供只减仓上下文（持仓与已挂只减仓单）。
type PositionSource interface {
	ReduceOnlyContext(marketID string) ReduceOnlyContext
}

// Recorder 记录估算统计，monitor 实现。
type Recorder interface {
	RecordEstimate(basis string, exhausted bool)
}

// Estimator 组合 ladder 来源与持仓来源，按需计算估价。
type Estimator struct {
	Positions PositionSource
	Recorder  Recorder
	Logger    *zap.Logger
}

// Estimate validates intent and estimates it against ladder for marketID.
func (e *Estimator) Estimate(marketID string, intent TradeIntent, ladder market.Ladder) (Estimate, error) {
	if err := intent.Validate(); err != nil {
		return Estimate{}, err
	}
	var ro ReduceOnlyContext
	if e.Positions != nil {
		ro = e.Positions.ReduceOnlyContext(marketID)
	}
	est := EstimateOrder(intent, ladder, ro)
	if e.Recorder != nil {
		e.Recorder.RecordEstimate(intent.Basis.String(), est.Fill.Exhausted)
	}
	if e.Logger != nil && est.Fill.Exhausted {
		e.Logger.Debug("estimate exhausted book",
			zap.String("market", marketID),
			zap.Stringer("side", intent.Side),
			zap.String("amount", intent.Amount.String()),
			zap.String("filled_base", est.Fill.TotalFilledBaseQuantity.String()),
		)
	}
	return est, nil
}
