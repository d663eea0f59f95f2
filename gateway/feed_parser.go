package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/stream"
)

var ErrChannelMismatch = errors.New("feed message channel mismatch")

// Envelope indexer 推送的统一外层。
type Envelope struct {
	Channel  string          `json:"channel"`
	MarketID string          `json:"marketId"`
	Ts       int64           `json:"ts"`
	Data     json.RawMessage `json:"data"`
}

// Time 毫秒时间戳转换；缺失时返回零值。
func (e Envelope) Time() time.Time {
	if e.Ts <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Ts).UTC()
}

type wireLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type wireOrderbook struct {
	Buys  []wireLevel `json:"buys"`
	Sells []wireLevel `json:"sells"`
}

type wireTrade struct {
	TradeID      string          `json:"tradeId"`
	MarketID     string          `json:"marketId"`
	SubaccountID string          `json:"subaccountId"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type wireOrder struct {
	OrderHash    string          `json:"orderHash"`
	MarketID     string          `json:"marketId"`
	SubaccountID string          `json:"subaccountId"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Filled       decimal.Decimal `json:"filled"`
	State        string          `json:"state"`
	ReduceOnly   bool            `json:"reduceOnly"`
}

// ParseEnvelope 解析外层。
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func toLevels(in []wireLevel) []market.Level {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		out = append(out, market.Level{Price: l.Price, Quantity: l.Quantity})
	}
	return out
}

// ParseOrderbook 解析订单簿推送，每次推送完整替换两侧。
func ParseOrderbook(env Envelope) (market.Snapshot, error) {
	var ob wireOrderbook
	if err := json.Unmarshal(env.Data, &ob); err != nil {
		return market.Snapshot{}, fmt.Errorf("decode orderbook %s: %w", env.MarketID, err)
	}
	return market.Snapshot{
		MarketID: env.MarketID,
		Buys:     toLevels(ob.Buys),
		Sells:    toLevels(ob.Sells),
		Ts:       env.Time(),
	}, nil
}

// ParseTrade 解析公共或子账户成交。
func ParseTrade(env Envelope) (market.Trade, error) {
	var w wireTrade
	if err := json.Unmarshal(env.Data, &w); err != nil {
		return market.Trade{}, fmt.Errorf("decode trade %s: %w", env.MarketID, err)
	}
	marketID := w.MarketID
	if marketID == "" {
		marketID = env.MarketID
	}
	return market.Trade{
		MarketID:     marketID,
		TradeID:      w.TradeID,
		SubaccountID: w.SubaccountID,
		Side:         w.Side,
		Price:        w.Price,
		Qty:          w.Quantity,
		Ts:           env.Time(),
	}, nil
}

// ParseOrder 解析子账户订单（含历史）推送。
func ParseOrder(env Envelope) (inventory.OrderUpdate, error) {
	var w wireOrder
	if err := json.Unmarshal(env.Data, &w); err != nil {
		return inventory.OrderUpdate{}, fmt.Errorf("decode order %s: %w", env.MarketID, err)
	}
	marketID := w.MarketID
	if marketID == "" {
		marketID = env.MarketID
	}
	return inventory.OrderUpdate{
		OrderHash:    w.OrderHash,
		MarketID:     marketID,
		SubaccountID: w.SubaccountID,
		Side:         w.Side,
		Quantity:     w.Quantity,
		Filled:       w.Filled,
		State:        inventory.OrderState(w.State),
		ReduceOnly:   w.ReduceOnly,
		UpdatedAt:    env.Time(),
	}, nil
}

// Decode 按 key 的通道把原始消息解析为对应的事件载荷。
func Decode(key stream.Key, raw []byte) (any, time.Time, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, time.Time{}, err
	}
	if env.Channel != "" && env.Channel != key.String() {
		return nil, time.Time{}, fmt.Errorf("got %q want %q: %w", env.Channel, key, ErrChannelMismatch)
	}
	var payload any
	switch key.Channel {
	case stream.OrderBook:
		payload, err = ParseOrderbook(env)
	case stream.Trades, stream.SubaccountTrades:
		payload, err = ParseTrade(env)
	case stream.SubaccountOrders, stream.SubaccountOrderHistory:
		payload, err = ParseOrder(env)
	default:
		err = stream.ErrUnknownChannel
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return payload, env.Time(), nil
}
