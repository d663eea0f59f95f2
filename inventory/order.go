package inventory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState 订单状态（indexer 推送的原始字符串）。
type OrderState string

const (
	StateBooked        OrderState = "booked"
	StatePartialFilled OrderState = "partial_filled"
	StateFilled        OrderState = "filled"
	StateCanceled      OrderState = "canceled"
)

// Terminal 已成交或已撤销的订单不再占用只减仓额度。
func (s OrderState) Terminal() bool {
	switch OrderState(strings.ToLower(string(s))) {
	case StateFilled, StateCanceled, "cancelled":
		return true
	}
	return false
}

// OrderUpdate 子账户订单推送。
type OrderUpdate struct {
	OrderHash    string
	MarketID     string
	SubaccountID string
	Side         string
	Quantity     decimal.Decimal
	Filled       decimal.Decimal
	State        OrderState
	ReduceOnly   bool
	UpdatedAt    time.Time
}

// Open 未成交数量，不小于 0。
func (o OrderUpdate) Open() decimal.Decimal {
	open := o.Quantity.Sub(o.Filled)
	if open.IsNegative() {
		return decimal.Zero
	}
	return open
}
