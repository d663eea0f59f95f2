package session

import (
	"go.uber.org/zap"

	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/stream"
)

// handler 按通道把事件路由到行情服务或仓位簿。
// 事件已经过注册表的过期闸门；这里再按市场过滤一次订阅范围更宽的通道。
func (s *Session) handler(ch stream.Channel, meta market.Meta) stream.Handler {
	switch ch {
	case stream.OrderBook:
		return func(ev stream.Event) { s.onOrderbook(ev, meta) }
	case stream.Trades:
		return func(ev stream.Event) { s.onTrade(ev, meta) }
	case stream.SubaccountTrades:
		return func(ev stream.Event) { s.onFill(ev, meta) }
	default:
		return func(ev stream.Event) { s.onOrder(ev, meta) }
	}
}

func (s *Session) onOrderbook(ev stream.Event, meta market.Meta) {
	snap, ok := ev.Payload.(market.Snapshot)
	if !ok {
		s.unexpected(ev)
		return
	}
	if snap.MarketID == "" {
		snap.MarketID = meta.MarketID
	}
	if snap.MarketID != meta.MarketID {
		return
	}
	if snap.Ts.IsZero() {
		snap.Ts = ev.Ts
	}
	s.deps.Market.OnOrderbook(snap)
	if s.deps.Recorder != nil {
		bid, ask := s.bestBidAsk(meta)
		s.deps.Recorder.UpdateBidAsk(meta.MarketID, bid, ask)
	}
}

func (s *Session) bestBidAsk(meta market.Meta) (float64, float64) {
	bid, ask := s.deps.Market.Best(meta.MarketID)
	return bid.InexactFloat64(), ask.InexactFloat64()
}

func (s *Session) onTrade(ev stream.Event, meta market.Meta) {
	t, ok := ev.Payload.(market.Trade)
	if !ok {
		s.unexpected(ev)
		return
	}
	if t.MarketID == "" {
		t.MarketID = meta.MarketID
	}
	if t.MarketID != meta.MarketID {
		return
	}
	if t.Ts.IsZero() {
		t.Ts = ev.Ts
	}
	s.deps.Market.OnTrade(t)
}

// onFill 子账户成交转换为真实单位后更新仓位。
func (s *Session) onFill(ev stream.Event, meta market.Meta) {
	t, ok := ev.Payload.(market.Trade)
	if !ok {
		s.unexpected(ev)
		return
	}
	if t.MarketID != "" && t.MarketID != meta.MarketID {
		return
	}
	scale := s.current(meta).Scale()
	s.deps.Inventory.ApplyFill(meta.MarketID, t.Side, scale.Quantity(t.Qty), scale.Price(t.Price))
	if s.deps.Recorder != nil {
		net, _ := s.deps.Inventory.Valuation(meta.MarketID, s.deps.Market.Mid(meta.MarketID))
		s.deps.Recorder.UpdatePosition(meta.MarketID, net.InexactFloat64())
	}
}

// onOrder 订单与订单历史都走同一路径：终态订单从只减仓占用中移除。
// 子账户订单通道覆盖所有市场，数量按订单所属市场换算。
func (s *Session) onOrder(ev stream.Event, _ market.Meta) {
	o, ok := ev.Payload.(inventory.OrderUpdate)
	if !ok {
		s.unexpected(ev)
		return
	}
	if m, ok := s.deps.Catalog.Get(o.MarketID); ok {
		scale := m.Scale()
		o.Quantity = scale.Quantity(o.Quantity)
		o.Filled = scale.Quantity(o.Filled)
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = ev.Ts
	}
	s.deps.Inventory.HandleOrderUpdate(o)
}

// current 返回目录中最新的元数据；订阅时捕获的 meta 在配置热加载后可能已过期。
func (s *Session) current(meta market.Meta) market.Meta {
	if m, ok := s.deps.Catalog.Get(meta.MarketID); ok {
		return m
	}
	return meta
}

func (s *Session) unexpected(ev stream.Event) {
	s.log.Warn("unexpected stream payload", zap.Stringer("key", ev.Key), zap.Any("payload", ev.Payload))
}
