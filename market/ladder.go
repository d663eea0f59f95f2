package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnorderedLadder = errors.New("ladder levels not in priority order")
	ErrDuplicatePrice  = errors.New("ladder contains duplicate price")
	ErrNegativeLevel   = errors.New("ladder level price/quantity must be >= 0")
)

// BookSide 订单簿的一侧。
type BookSide int

const (
	Bids BookSide = iota
	Asks
)

func (s BookSide) String() string {
	switch s {
	case Bids:
		return "bids"
	case Asks:
		return "asks"
	default:
		return "unknown"
	}
}

// better 判断 a 是否比 b 更优先（bids 价高优先，asks 价低优先）。
func (s BookSide) better(a, b decimal.Decimal) bool {
	if s == Bids {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// Level 单个价格档位，价格/数量均为原始精度单位。
type Level struct {
	Price    decimal.Decimal `json:"price" yaml:"price"`
	Quantity decimal.Decimal `json:"quantity" yaml:"quantity"`
}

// Notional 返回 price × quantity。
func (l Level) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// Scale 把原始精度的价格/数量换算成真实单位。
// 零值为恒等换算；衍生品市场 BaseDecimals 为 0（数量本身已是真实单位）。
type Scale struct {
	BaseDecimals  int32
	QuoteDecimals int32
}

// Price 返回 raw × 10^(base-quote)。
func (s Scale) Price(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(s.BaseDecimals - s.QuoteDecimals)
}

// Quantity 返回 raw × 10^(-base)。
func (s Scale) Quantity(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-s.BaseDecimals)
}

// Ladder 一侧订单簿的不可变快照，最优价在前。
type Ladder struct {
	Side   BookSide
	Levels []Level
	Scale  Scale
}

// NewLadder 校验顺序/去重后构造 Ladder；levels 会被复制，调用方后续修改不影响快照。
func NewLadder(side BookSide, levels []Level, scale Scale) (Ladder, error) {
	cp := make([]Level, len(levels))
	copy(cp, levels)
	for i, lvl := range cp {
		if lvl.Price.IsNegative() || lvl.Quantity.IsNegative() {
			return Ladder{}, fmt.Errorf("level %d: %w", i, ErrNegativeLevel)
		}
		if i == 0 {
			continue
		}
		prev := cp[i-1].Price
		if lvl.Price.Equal(prev) {
			return Ladder{}, fmt.Errorf("level %d price %s: %w", i, lvl.Price, ErrDuplicatePrice)
		}
		if !side.better(prev, lvl.Price) {
			return Ladder{}, fmt.Errorf("%s level %d price %s after %s: %w", side, i, lvl.Price, prev, ErrUnorderedLadder)
		}
	}
	return Ladder{Side: side, Levels: cp, Scale: scale}, nil
}

// MustLadder 仅用于测试/固定数据。
func MustLadder(side BookSide, levels []Level, scale Scale) Ladder {
	l, err := NewLadder(side, levels, scale)
	if err != nil {
		panic(err)
	}
	return l
}

// Len 档位数量。
func (l Ladder) Len() int { return len(l.Levels) }

// Empty 是否无档位。
func (l Ladder) Empty() bool { return len(l.Levels) == 0 }

// At 返回第 i 档换算后的真实价格与数量。
func (l Ladder) At(i int) (price, qty decimal.Decimal) {
	lvl := l.Levels[i]
	return l.Scale.Price(lvl.Price), l.Scale.Quantity(lvl.Quantity)
}

// Best 返回最优档真实价格；空时为 0。
func (l Ladder) Best() decimal.Decimal {
	if l.Empty() {
		return decimal.Zero
	}
	p, _ := l.At(0)
	return p
}

// LevelsOf builds levels from float pairs; handy in tests and fixtures.
func LevelsOf(pairs ...[2]float64) []Level {
	out := make([]Level, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Level{
			Price:    decimal.NewFromFloat(p[0]),
			Quantity: decimal.NewFromFloat(p[1]),
		})
	}
	return out
}
