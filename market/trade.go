package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents a normalized trade tick.
type Trade struct {
	MarketID     string
	TradeID      string
	SubaccountID string
	Side         string
	Price        decimal.Decimal
	Qty          decimal.Decimal
	Ts           time.Time
}
