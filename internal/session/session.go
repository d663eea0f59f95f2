// Package session wires live market streams into the order book, the
// inventory book and the price estimator for one trading view.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
	"dex-pricer-go/stream"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrNoMarket      = errors.New("no market selected")
	ErrClosed        = errors.New("session closed")
)

// ProducerSource 提供每个通道的 Producer（gateway.FeedClient 实现）。
type ProducerSource interface {
	Producer(key stream.Key) stream.Producer
}

// BookRecorder 行情与仓位指标，monitor 实现。
type BookRecorder interface {
	UpdateBidAsk(marketID string, bid, ask float64)
	UpdatePosition(marketID string, net float64)
}

// EventLogger 订阅与估价的业务日志，logger.Logger 实现。
type EventLogger interface {
	LogStream(event, key string, fields map[string]interface{})
	LogEstimate(marketID string, fields map[string]interface{})
}

// Deps 会话依赖，由 container 组装。
type Deps struct {
	Registry  *stream.Registry
	Feed      ProducerSource
	Market    *market.Service
	Catalog   *market.Catalog
	Inventory *inventory.Book
	Estimator *pricing.Estimator
	Recorder  BookRecorder
	Logger    *zap.Logger
	Events    EventLogger
}

// Session 一个交易视图：当前市场 + 当前子账户。
type Session struct {
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	marketID   string
	subaccount string
	tolerance  decimal.Decimal
	closed     bool
}

// New 创建会话；ctx 决定所有推送连接的生命周期上限。
func New(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Registry == nil || deps.Feed == nil || deps.Market == nil || deps.Catalog == nil {
		return nil, errors.New("session: registry, feed, market and catalog are required")
	}
	if deps.Inventory == nil {
		deps.Inventory = inventory.NewBook(deps.Logger)
	}
	if deps.Estimator == nil {
		deps.Estimator = &pricing.Estimator{}
	}
	if deps.Estimator.Positions == nil {
		deps.Estimator.Positions = deps.Inventory
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Session{deps: deps, log: log, ctx: ctx, cancel: cancel}, nil
}

// MarketID 当前市场。
func (s *Session) MarketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketID
}

// SubaccountID 当前子账户。
func (s *Session) SubaccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subaccount
}

// SetSlippageTolerance 设置默认滑点（小数形式）。
func (s *Session) SetSlippageTolerance(tol decimal.Decimal) error {
	if tol.IsNegative() {
		return fmt.Errorf("tolerance %s: %w", tol, pricing.ErrNegativeTolerance)
	}
	s.mu.Lock()
	s.tolerance = tol
	s.mu.Unlock()
	return nil
}

// InitMarketStreams subscribes every stream of marketID in bootstrap order:
// order book, trades, subaccount trades, subaccount orders, subaccount order
// history. Each subscribe replaces the stream of the previous market. Failures
// do not stop the remaining subscriptions; they are joined into the result.
func (s *Session) InitMarketStreams(marketID string) error {
	meta, ok := s.deps.Catalog.Get(marketID)
	if !ok {
		return fmt.Errorf("%s: %w", marketID, ErrUnknownMarket)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.marketID
	s.marketID = marketID
	subaccount := s.subaccount
	s.mu.Unlock()

	// 另一类市场的通道不会被替换，需要显式取消
	for _, key := range s.deps.Registry.Keys() {
		if key.Market != meta.Type {
			s.cancelKey(key)
		}
	}
	var errs []error
	for _, ch := range stream.Channels() {
		if ch.Subaccount() && subaccount == "" {
			continue
		}
		if err := s.subscribe(meta, ch, subaccount); err != nil {
			errs = append(errs, err)
		}
	}
	// 旧市场的推送已被替换，清理其缓存
	if prev != "" && prev != marketID {
		s.deps.Market.Reset(prev)
	}
	s.log.Info("market streams initialised",
		zap.String("market", marketID),
		zap.String("previous", prev),
		zap.String("subaccount", subaccount),
		zap.Int("active", s.deps.Registry.Len()),
	)
	return errors.Join(errs...)
}

// SetSubaccount 切换子账户：清空仓位记录并重建当前市场的子账户通道。
func (s *Session) SetSubaccount(subaccountID string) error {
	if subaccountID == "" {
		s.ResetSubaccount()
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	changed := s.subaccount != subaccountID
	s.subaccount = subaccountID
	marketID := s.marketID
	s.mu.Unlock()

	if changed {
		s.deps.Inventory.Reset()
	}
	if marketID == "" {
		return nil
	}
	meta, ok := s.deps.Catalog.Get(marketID)
	if !ok {
		return fmt.Errorf("%s: %w", marketID, ErrUnknownMarket)
	}
	var errs []error
	for _, ch := range stream.Channels() {
		if !ch.Subaccount() {
			continue
		}
		if err := s.subscribe(meta, ch, subaccountID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetSubaccount 取消所有子账户通道并清空仓位记录。
func (s *Session) ResetSubaccount() {
	s.mu.Lock()
	s.subaccount = ""
	s.mu.Unlock()
	for _, key := range s.deps.Registry.Keys() {
		if key.Channel.Subaccount() {
			s.cancelKey(key)
		}
	}
	s.deps.Inventory.Reset()
}

// SeedPosition 写入外部已知的持仓（启动时账户已有仓位），之后由成交推送增量更新。
// net 为 0 删除该市场仓位。
func (s *Session) SeedPosition(marketID string, net, avgCost decimal.Decimal) error {
	if _, ok := s.deps.Catalog.Get(marketID); !ok {
		return fmt.Errorf("%s: %w", marketID, ErrUnknownMarket)
	}
	s.deps.Inventory.SetPosition(marketID, net, avgCost)
	if s.deps.Recorder != nil {
		s.deps.Recorder.UpdatePosition(marketID, net.InexactFloat64())
	}
	s.log.Info("position seeded", zap.String("market", marketID), zap.String("net", net.String()))
	return nil
}

// BookAge 当前市场订单簿距上次快照的时间；未选择市场时 ok 为 false。
func (s *Session) BookAge() (age time.Duration, ok bool) {
	marketID := s.MarketID()
	if marketID == "" {
		return 0, false
	}
	return s.deps.Market.Staleness(marketID), true
}

// Close 取消全部订阅；之后的操作返回 ErrClosed。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.deps.Registry.Close()
	s.cancel()
	s.log.Info("session closed")
}

func scopeFor(ch stream.Channel, marketID, subaccount string) stream.Scope {
	switch ch {
	case stream.SubaccountTrades:
		return stream.SubaccountMarketScope{Subaccount: subaccount, Market: marketID}
	case stream.SubaccountOrders, stream.SubaccountOrderHistory:
		return stream.SubaccountScope{Subaccount: subaccount}
	default:
		return stream.MarketScope{Market: marketID}
	}
}

func (s *Session) subscribe(meta market.Meta, ch stream.Channel, subaccount string) error {
	key := stream.NewKey(meta.Type, ch)
	scope := scopeFor(ch, meta.MarketID, subaccount)
	sub, err := s.deps.Registry.Subscribe(s.ctx, key, scope, s.deps.Feed.Producer(key), s.handler(ch, meta))
	if s.deps.Events != nil {
		fields := map[string]interface{}{"scope": scope.String()}
		event := "subscribe"
		if err != nil {
			event = "subscribe_failed"
			fields["error"] = err.Error()
		} else {
			fields["id"] = sub.ID.String()
		}
		s.deps.Events.LogStream(event, key.String(), fields)
	}
	return err
}

func (s *Session) cancelKey(key stream.Key) {
	if s.deps.Registry.Cancel(key) && s.deps.Events != nil {
		s.deps.Events.LogStream("cancel", key.String(), nil)
	}
}
