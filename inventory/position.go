package inventory

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-pricer-go/pricing"
)

// Position 单个市场的净仓位，多头为正。
type Position struct {
	MarketID  string
	Net       decimal.Decimal
	AvgCost   decimal.Decimal
	UpdatedAt time.Time
}

// Size 仓位绝对数量。
func (p Position) Size() decimal.Decimal { return p.Net.Abs() }

type orderEntry struct {
	marketID  string
	openQty   decimal.Decimal
	updatedAt time.Time
}

// Book 维护子账户的仓位与挂出的只减仓单。
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
	orders    map[string]orderEntry
	// done 已进入终态的订单 hash -> 终态时间，晚到的旧推送不能让它复活
	done map[string]time.Time
	log  *zap.Logger
}

func NewBook(log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{
		positions: make(map[string]Position),
		orders:    make(map[string]orderEntry),
		done:      make(map[string]time.Time),
		log:       log,
	}
}

// SetPosition 用外部快照覆盖仓位（启动时的持仓种子、离线估价）；net 为 0 删除仓位。
func (b *Book) SetPosition(marketID string, net, avgCost decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if net.IsZero() {
		delete(b.positions, marketID)
		return
	}
	b.positions[marketID] = Position{MarketID: marketID, Net: net, AvgCost: avgCost, UpdatedAt: time.Now().UTC()}
}

// Position 返回市场仓位。
func (b *Book) Position(marketID string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[marketID]
	return p, ok
}

// ApplyFill 根据子账户成交调整仓位，加仓时按加权平均更新成本。
func (b *Book) ApplyFill(marketID, side string, qty, price decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	delta := qty
	if strings.EqualFold(side, "sell") {
		delta = qty.Neg()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.positions[marketID]
	p.MarketID = marketID
	next := p.Net.Add(delta)
	switch {
	case next.IsZero():
		delete(b.positions, marketID)
		return
	case p.Net.IsZero() || p.Net.Sign() != next.Sign():
		// 新开仓或反手：成本重置为成交价
		p.AvgCost = price
	case p.Net.Sign() == delta.Sign():
		total := p.AvgCost.Mul(p.Net).Add(price.Mul(delta))
		p.AvgCost = total.Div(next)
	}
	p.Net = next
	p.UpdatedAt = time.Now().UTC()
	b.positions[marketID] = p
}

// HandleOrderUpdate 跟踪只减仓单的未成交数量，返回是否有变化。
// 比已知状态更旧的推送被忽略。
func (b *Book) HandleOrderUpdate(o OrderUpdate) bool {
	if o.OrderHash == "" {
		return false
	}
	b.mu.Lock()
	changed := b.applyOrderLocked(o)
	b.mu.Unlock()
	if changed {
		b.log.Debug("reduce-only order update",
			zap.String("order_hash", o.OrderHash),
			zap.String("market", o.MarketID),
			zap.String("state", string(o.State)),
			zap.String("open", o.Open().String()),
		)
	}
	return changed
}

func (b *Book) applyOrderLocked(o OrderUpdate) bool {
	if doneAt, ok := b.done[o.OrderHash]; ok && !o.UpdatedAt.After(doneAt) {
		return false
	}
	prev, ok := b.orders[o.OrderHash]
	if ok && !o.UpdatedAt.IsZero() && !prev.updatedAt.Before(o.UpdatedAt) {
		return false
	}
	if o.State.Terminal() {
		doneAt := o.UpdatedAt
		if doneAt.IsZero() {
			doneAt = time.Now().UTC()
		}
		b.done[o.OrderHash] = doneAt
	}
	open := o.Open()
	if !o.ReduceOnly || o.State.Terminal() || open.IsZero() {
		if !ok {
			return false
		}
		delete(b.orders, o.OrderHash)
		return true
	}
	b.orders[o.OrderHash] = orderEntry{marketID: o.MarketID, openQty: open, updatedAt: o.UpdatedAt}
	return !ok || !prev.openQty.Equal(open)
}

// ReplaceOrders 用完整的挂单快照替换本地记录；已终结的订单仍按终态时间过滤。
func (b *Book) ReplaceOrders(orders []OrderUpdate) {
	b.mu.Lock()
	b.orders = make(map[string]orderEntry, len(orders))
	for _, o := range orders {
		if o.OrderHash == "" {
			continue
		}
		b.applyOrderLocked(o)
	}
	n := len(b.orders)
	b.mu.Unlock()
	b.log.Debug("reduce-only order snapshot", zap.Int("order_count", n))
}

// Reserved 某市场挂出的只减仓单未成交数量之和。
func (b *Book) Reserved(marketID string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reservedLocked(marketID)
}

func (b *Book) reservedLocked(marketID string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range b.orders {
		if e.marketID == marketID {
			total = total.Add(e.openQty)
		}
	}
	return total
}

// ReduceOnlyContext 组装只减仓上限的输入；对手盘流动性由估价时填入。
func (b *Book) ReduceOnlyContext(marketID string) pricing.ReduceOnlyContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[marketID]
	if !ok {
		return pricing.ReduceOnlyContext{}
	}
	return pricing.ReduceOnlyContext{
		HasPosition:                true,
		OpenPositionQuantity:       p.Size(),
		ReservedReduceOnlyQuantity: b.reservedLocked(marketID),
	}
}

// Reset 清空全部仓位与挂单（切换子账户时调用）。
func (b *Book) Reset() {
	b.mu.Lock()
	b.positions = make(map[string]Position)
	b.orders = make(map[string]orderEntry)
	b.done = make(map[string]time.Time)
	b.mu.Unlock()
}
