package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Service 维护每个市场最新的订单簿与成交，并向订阅者广播。
type Service struct {
	pub     *Publisher
	catalog *Catalog

	mu     sync.RWMutex
	books  map[string]*OrderBook
	last   map[string]time.Time
	trades map[string][]Trade
	keep   int
}

// NewService 创建服务；pub/catalog 为 nil 时使用空实现。
func NewService(pub *Publisher, catalog *Catalog) *Service {
	if pub == nil {
		pub = NewPublisher()
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Service{
		pub:     pub,
		catalog: catalog,
		books:   make(map[string]*OrderBook),
		last:    make(map[string]time.Time),
		trades:  make(map[string][]Trade),
		keep:    100,
	}
}

func (s *Service) bookLocked(marketID string) *OrderBook {
	ob, ok := s.books[marketID]
	if !ok {
		meta, _ := s.catalog.Get(marketID)
		ob = NewOrderBook(meta.Scale())
		s.books[marketID] = ob
	}
	return ob
}

// book 返回已有的簿，并按目录中当前的精度校正换算（目录可能已被热加载替换）。
func (s *Service) book(marketID string) (*OrderBook, bool) {
	s.mu.RLock()
	ob, ok := s.books[marketID]
	s.mu.RUnlock()
	if ok {
		s.syncScale(marketID, ob)
	}
	return ob, ok
}

func (s *Service) syncScale(marketID string, ob *OrderBook) {
	meta, ok := s.catalog.Get(marketID)
	if !ok {
		return
	}
	if scale := meta.Scale(); scale != ob.Scale() {
		ob.SetScale(scale)
	}
}

// OnOrderbook 用快照整体替换两侧并广播。
func (s *Service) OnOrderbook(snap Snapshot) {
	if snap.Ts.IsZero() {
		snap.Ts = time.Now().UTC()
	}
	s.mu.Lock()
	ob := s.bookLocked(snap.MarketID)
	s.last[snap.MarketID] = snap.Ts
	s.mu.Unlock()

	s.syncScale(snap.MarketID, ob)
	ob.Replace(snap.Buys, snap.Sells)
	s.pub.PublishBook(snap)
}

// OnTrade 记录最近成交并广播。
func (s *Service) OnTrade(t Trade) {
	s.mu.Lock()
	list := append(s.trades[t.MarketID], t)
	if len(list) > s.keep {
		list = list[len(list)-s.keep:]
	}
	s.trades[t.MarketID] = list
	s.mu.Unlock()
	s.pub.PublishTrade(t)
}

// Ladder 返回某市场一侧的快照；无数据时返回空 Ladder。
func (s *Service) Ladder(marketID string, side BookSide) Ladder {
	ob, ok := s.book(marketID)
	if !ok {
		return Ladder{Side: side}
	}
	return ob.Ladder(side, 0)
}

// Best 返回最优买/卖价（真实单位）。
func (s *Service) Best(marketID string) (bid, ask decimal.Decimal) {
	ob, ok := s.book(marketID)
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	return ob.Best()
}

// Mid 返回当前中间价；若缺失则返回 0。
func (s *Service) Mid(marketID string) decimal.Decimal {
	ob, ok := s.book(marketID)
	if !ok {
		return decimal.Zero
	}
	return ob.Mid()
}

// RecentTrades 返回最近成交（拷贝）。
func (s *Service) RecentTrades(marketID string) []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trade, len(s.trades[marketID]))
	copy(out, s.trades[marketID])
	return out
}

// Reset 清空某市场的簿与成交（切换市场时调用）。
func (s *Service) Reset(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, marketID)
	delete(s.last, marketID)
	delete(s.trades, marketID)
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(marketID string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.last[marketID]
	if !ok {
		return time.Hour * 24 * 365
	}
	return time.Since(ts)
}
