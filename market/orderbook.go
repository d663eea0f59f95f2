package market

import (
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const bookDegree = 32

// bidLess 价格降序，Min() 即最优买价。
func bidLess(a, b Level) bool { return a.Price.GreaterThan(b.Price) }

// askLess 价格升序，Min() 即最优卖价。
func askLess(a, b Level) bool { return a.Price.LessThan(b.Price) }

// OrderBook 维护单个市场的两侧价格档位（原始精度），按优先级有序。
type OrderBook struct {
	mu    sync.RWMutex
	scale Scale
	bids  *btree.BTreeG[Level]
	asks  *btree.BTreeG[Level]
}

func NewOrderBook(scale Scale) *OrderBook {
	return &OrderBook{
		scale: scale,
		bids:  btree.NewG[Level](bookDegree, bidLess),
		asks:  btree.NewG[Level](bookDegree, askLess),
	}
}

func (ob *OrderBook) tree(side BookSide) *btree.BTreeG[Level] {
	if side == Bids {
		return ob.bids
	}
	return ob.asks
}

func buildTree(side BookSide, levels []Level) *btree.BTreeG[Level] {
	less := askLess
	if side == Bids {
		less = bidLess
	}
	t := btree.NewG[Level](bookDegree, less)
	for _, lvl := range levels {
		if lvl.Quantity.Sign() <= 0 || lvl.Price.IsNegative() {
			continue
		}
		t.ReplaceOrInsert(lvl)
	}
	return t
}

// ReplaceSide 用整份快照替换一侧；数量为 0 的档位被忽略，重复价格后者覆盖前者。
func (ob *OrderBook) ReplaceSide(side BookSide, levels []Level) {
	t := buildTree(side, levels)
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if side == Bids {
		ob.bids = t
	} else {
		ob.asks = t
	}
}

// Replace 同时替换两侧，读者不会看到新旧混合的簿。
func (ob *OrderBook) Replace(bids, asks []Level) {
	b, a := buildTree(Bids, bids), buildTree(Asks, asks)
	ob.mu.Lock()
	ob.bids, ob.asks = b, a
	ob.mu.Unlock()
}

// SetScale 更新精度换算（配置热加载后）；档位保存的是原始精度，无需重建。
func (ob *OrderBook) SetScale(scale Scale) {
	ob.mu.Lock()
	ob.scale = scale
	ob.mu.Unlock()
}

func (ob *OrderBook) Scale() Scale {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.scale
}

// Ladder 返回一侧前 depth 档的快照（depth <= 0 表示全部）。
func (ob *OrderBook) Ladder(side BookSide, depth int) Ladder {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	t := ob.tree(side)
	n := t.Len()
	if depth > 0 && depth < n {
		n = depth
	}
	levels := make([]Level, 0, n)
	t.Ascend(func(lvl Level) bool {
		levels = append(levels, lvl)
		return len(levels) < n
	})
	return Ladder{Side: side, Levels: levels, Scale: ob.scale}
}

// Best 返回最好买/卖价（真实单位）；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid, bestAsk decimal.Decimal) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bestBid, bestAsk = decimal.Zero, decimal.Zero
	if lvl, ok := ob.bids.Min(); ok {
		bestBid = ob.scale.Price(lvl.Price)
	}
	if lvl, ok := ob.asks.Min(); ok {
		bestAsk = ob.scale.Price(lvl.Price)
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() decimal.Decimal {
	bid, ask := ob.Best()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// Depth 返回两侧档位数量。
func (ob *OrderBook) Depth() (bids, asks int) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.Len(), ob.asks.Len()
}
