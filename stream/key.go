package stream

import (
	"errors"
	"fmt"

	"dex-pricer-go/market"
)

var (
	ErrScopeNotAccepted = errors.New("scope not accepted by channel")
	ErrUnknownChannel   = errors.New("unknown stream channel")
)

// Channel 逻辑数据通道。
type Channel int

const (
	OrderBook Channel = iota
	Trades
	SubaccountTrades
	SubaccountOrders
	SubaccountOrderHistory
)

var channelNames = map[Channel]string{
	OrderBook:              "orderbook",
	Trades:                 "trades",
	SubaccountTrades:       "subaccount_trades",
	SubaccountOrders:       "subaccount_orders",
	SubaccountOrderHistory: "subaccount_order_history",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Channels 返回全部通道，顺序即市场初始化时的订阅顺序。
func Channels() []Channel {
	return []Channel{OrderBook, Trades, SubaccountTrades, SubaccountOrders, SubaccountOrderHistory}
}

// Subaccount 是否为子账户私有通道。
func (c Channel) Subaccount() bool {
	return c == SubaccountTrades || c == SubaccountOrders || c == SubaccountOrderHistory
}

// Key 注册表的键：市场类型 + 通道，例如 spot.orderbook。
type Key struct {
	Market  market.Type
	Channel Channel
}

func NewKey(mt market.Type, ch Channel) Key { return Key{Market: mt, Channel: ch} }

func (k Key) String() string {
	return string(k.Market) + "." + k.Channel.String()
}

// Accepts 校验该通道能否使用给定 scope。
// 公共通道只接受 MarketScope；子账户通道接受 SubaccountScope 与 SubaccountMarketScope。
func (k Key) Accepts(scope Scope) error {
	if scope == nil {
		return fmt.Errorf("%s: nil scope: %w", k, ErrScopeNotAccepted)
	}
	if _, ok := channelNames[k.Channel]; !ok {
		return fmt.Errorf("%s: %w", k, ErrUnknownChannel)
	}
	if err := scope.validate(); err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	var ok bool
	switch scope.(type) {
	case MarketScope:
		ok = !k.Channel.Subaccount()
	case SubaccountScope, SubaccountMarketScope:
		ok = k.Channel.Subaccount()
	}
	if !ok {
		return fmt.Errorf("%s does not accept %s: %w", k, scope, ErrScopeNotAccepted)
	}
	return nil
}
