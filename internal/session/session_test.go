package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
	"dex-pricer-go/stream"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeFeed 记录每次建立/拆除的推送，并允许测试通过保存的 emit 注入事件。
type fakeFeed struct {
	mu    sync.Mutex
	log   []string
	emits map[string]stream.Handler
	fail  map[stream.Channel]error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{emits: make(map[string]stream.Handler), fail: make(map[stream.Channel]error)}
}

func (f *fakeFeed) Producer(key stream.Key) stream.Producer {
	return func(_ context.Context, scope stream.Scope, emit stream.Handler) (stream.Teardown, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.fail[key.Channel]; err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%s[%s]", key, scope)
		f.log = append(f.log, "+"+id)
		f.emits[id] = emit
		return func() {
			f.mu.Lock()
			f.log = append(f.log, "-"+id)
			f.mu.Unlock()
		}, nil
	}
}

func (f *fakeFeed) emit(t *testing.T, id string, payload any) {
	t.Helper()
	f.mu.Lock()
	e, ok := f.emits[id]
	f.mu.Unlock()
	require.True(t, ok, "no producer %s", id)
	e(stream.Event{Payload: payload, Ts: time.Now()})
}

func (f *fakeFeed) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.log))
	copy(out, f.log)
	f.log = nil
	return out
}

type fakeRecorder struct {
	mu        sync.Mutex
	bid, ask  float64
	positions map[string]float64
}

func (r *fakeRecorder) UpdateBidAsk(_ string, bid, ask float64) {
	r.mu.Lock()
	r.bid, r.ask = bid, ask
	r.mu.Unlock()
}

func (r *fakeRecorder) UpdatePosition(m string, net float64) {
	r.mu.Lock()
	if r.positions == nil {
		r.positions = make(map[string]float64)
	}
	r.positions[m] = net
	r.mu.Unlock()
}

type fakeEvents struct {
	mu        sync.Mutex
	streams   []string
	estimates []string
}

func (e *fakeEvents) LogStream(event, key string, _ map[string]interface{}) {
	e.mu.Lock()
	e.streams = append(e.streams, event+" "+key)
	e.mu.Unlock()
}

func (e *fakeEvents) LogEstimate(marketID string, _ map[string]interface{}) {
	e.mu.Lock()
	e.estimates = append(e.estimates, marketID)
	e.mu.Unlock()
}

type fixture struct {
	catalog *market.Catalog
	events  *fakeEvents
	feed    *fakeFeed
	reg     *stream.Registry
	svc     *market.Service
	inv     *inventory.Book
	rec     *fakeRecorder
	s       *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := market.NewCatalog(
		market.Meta{MarketID: "X", Type: market.Spot, PriceDecimals: 2, QuantityDecimals: 3},
		market.Meta{MarketID: "Y", Type: market.Spot, PriceDecimals: 2, QuantityDecimals: 3},
		market.Meta{MarketID: "P", Type: market.Derivative, PriceDecimals: 1, QuantityDecimals: 3},
	)
	f := &fixture{
		catalog: catalog,
		events:  &fakeEvents{},
		feed:    newFakeFeed(),
		reg:     stream.NewRegistry(),
		svc:     market.NewService(nil, catalog),
		inv:     inventory.NewBook(nil),
		rec:     &fakeRecorder{},
	}
	s, err := New(context.Background(), Deps{
		Registry:  f.reg,
		Feed:      f.feed,
		Market:    f.svc,
		Catalog:   catalog,
		Inventory: f.inv,
		Recorder:  f.rec,
		Events:    f.events,
	})
	require.NoError(t, err)
	f.s = s
	t.Cleanup(s.Close)
	return f
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(context.Background(), Deps{})
	assert.Error(t, err)
}

func TestInitMarketStreamsPublicOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.InitMarketStreams("X"))
	assert.Equal(t, []string{
		"+spot.orderbook[market=X]",
		"+spot.trades[market=X]",
	}, f.feed.events())
	assert.Equal(t, "X", f.s.MarketID())
}

func TestInitMarketStreamsBootstrapOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.SetSubaccount("S"))
	require.NoError(t, f.s.InitMarketStreams("X"))
	assert.Equal(t, []string{
		"+spot.orderbook[market=X]",
		"+spot.trades[market=X]",
		"+spot.subaccount_trades[subaccount=S market=X]",
		"+spot.subaccount_orders[subaccount=S]",
		"+spot.subaccount_order_history[subaccount=S]",
	}, f.feed.events())
	assert.Equal(t, 5, f.reg.Len())
}

func TestSwitchMarketReplacesEachStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.InitMarketStreams("X"))
	f.feed.events()

	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{MarketID: "X", Sells: market.LevelsOf([2]float64{10, 1})})
	require.False(t, f.svc.Ladder("X", market.Asks).Empty())

	require.NoError(t, f.s.InitMarketStreams("Y"))
	assert.Equal(t, []string{
		"-spot.orderbook[market=X]",
		"+spot.orderbook[market=Y]",
		"-spot.trades[market=X]",
		"+spot.trades[market=Y]",
	}, f.feed.events())
	assert.Equal(t, 2, f.reg.Len())
	assert.True(t, f.svc.Ladder("X", market.Asks).Empty(), "previous market cache cleared")

	// 旧推送的迟到事件被丢弃
	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{MarketID: "X", Sells: market.LevelsOf([2]float64{11, 1})})
	assert.True(t, f.svc.Ladder("X", market.Asks).Empty())

	f.feed.emit(t, "spot.orderbook[market=Y]", market.Snapshot{Sells: market.LevelsOf([2]float64{20, 1})})
	assert.True(t, f.svc.Ladder("Y", market.Asks).Best().Equal(d("20")))
	assert.Equal(t, 20.0, f.rec.ask)
}

func TestSwitchMarketTypeCancelsOtherFamily(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.InitMarketStreams("X"))
	f.feed.events()

	require.NoError(t, f.s.InitMarketStreams("P"))
	assert.Equal(t, []string{
		"-spot.orderbook[market=X]",
		"-spot.trades[market=X]",
		"+derivative.orderbook[market=P]",
		"+derivative.trades[market=P]",
	}, f.feed.events())
	assert.Equal(t, []stream.Key{
		stream.NewKey(market.Derivative, stream.OrderBook),
		stream.NewKey(market.Derivative, stream.Trades),
	}, f.reg.Keys())
}

func TestSubaccountSwitchAndReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.SetSubaccount("S1"))
	require.NoError(t, f.s.InitMarketStreams("X"))
	f.feed.events()
	f.inv.SetPosition("X", d("1"), d("1"))

	require.NoError(t, f.s.SetSubaccount("S2"))
	assert.Equal(t, []string{
		"-spot.subaccount_trades[subaccount=S1 market=X]",
		"+spot.subaccount_trades[subaccount=S2 market=X]",
		"-spot.subaccount_orders[subaccount=S1]",
		"+spot.subaccount_orders[subaccount=S2]",
		"-spot.subaccount_order_history[subaccount=S1]",
		"+spot.subaccount_order_history[subaccount=S2]",
	}, f.feed.events())
	_, ok := f.inv.Position("X")
	assert.False(t, ok, "inventory cleared on subaccount change")

	f.s.ResetSubaccount()
	assert.ElementsMatch(t, []string{
		"-spot.subaccount_trades[subaccount=S2 market=X]",
		"-spot.subaccount_orders[subaccount=S2]",
		"-spot.subaccount_order_history[subaccount=S2]",
	}, f.feed.events())
	assert.Equal(t, 2, f.reg.Len())
	assert.Empty(t, f.s.SubaccountID())
}

func TestInitMarketStreamsErrors(t *testing.T) {
	f := newFixture(t)
	assert.True(t, errors.Is(f.s.InitMarketStreams("nope"), ErrUnknownMarket))

	boom := errors.New("dial refused")
	f.feed.fail[stream.Trades] = boom
	err := f.s.InitMarketStreams("X")
	assert.True(t, errors.Is(err, boom))
	// 其余通道照常订阅
	_, ok := f.reg.Active(stream.NewKey(market.Spot, stream.OrderBook))
	assert.True(t, ok)
	_, ok = f.reg.Active(stream.NewKey(market.Spot, stream.Trades))
	assert.False(t, ok)
}

func TestEstimateFromLiveBook(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.InitMarketStreams("X"))
	require.NoError(t, f.s.SetSlippageTolerance(d("0.01")))

	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{
		MarketID: "X",
		Sells:    market.LevelsOf([2]float64{100, 2}, [2]float64{101, 3}, [2]float64{103, 5}),
		Buys:     market.LevelsOf([2]float64{99, 1}),
	})

	est, err := f.s.Estimate(f.s.Intent(pricing.Buy, pricing.Base, "4"))
	require.NoError(t, err)
	assert.True(t, est.Fill.FilledNotional.Equal(d("402")), "notional %s", est.Fill.FilledNotional)
	assert.True(t, est.WorstPrice.Equal(d("101")))
	assert.True(t, est.AveragePrice.Equal(d("100.5")))
	assert.True(t, est.WorstPriceWithSlippage.Equal(d("102.01")))
	assert.False(t, est.ReduceOnlyApplies)

	est, err = f.s.Estimate(f.s.Intent(pricing.Buy, pricing.Quote, "2000"))
	require.NoError(t, err)
	assert.True(t, est.Fill.Exhausted)
	assert.True(t, est.Fill.FilledNotional.Equal(d("1018")))
	assert.True(t, est.Fill.TotalFilledBaseQuantity.Equal(d("10")))

	est, err = f.s.Estimate(f.s.Intent(pricing.Buy, pricing.Base, "not a number"))
	require.NoError(t, err)
	assert.True(t, est.Fill.FilledNotional.IsZero())
}

func TestEstimateWithoutMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.Estimate(pricing.TradeIntent{Side: pricing.Buy, Amount: d("1")})
	assert.True(t, errors.Is(err, ErrNoMarket))

	est, err := f.s.EstimateFor("unknown", pricing.TradeIntent{Side: pricing.Buy, Amount: d("1")})
	require.NoError(t, err)
	assert.True(t, est.Fill.TotalFilledBaseQuantity.IsZero())
	assert.False(t, est.ReduceOnlyApplies)
}

func TestReduceOnlyFromSubaccountStreams(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.SetSubaccount("S"))
	require.NoError(t, f.s.InitMarketStreams("P"))

	f.feed.emit(t, "derivative.orderbook[market=P]", market.Snapshot{
		MarketID: "P",
		Buys:     market.LevelsOf([2]float64{50, 4}, [2]float64{49, 4}),
		Sells:    market.LevelsOf([2]float64{51, 1}),
	})
	f.feed.emit(t, "derivative.subaccount_trades[subaccount=S market=P]",
		market.Trade{MarketID: "P", Side: "buy", Price: d("50"), Qty: d("10")})
	f.feed.emit(t, "derivative.subaccount_orders[subaccount=S]", inventory.OrderUpdate{
		OrderHash: "0x1", MarketID: "P", Side: "sell", Quantity: d("3"), State: inventory.StateBooked, ReduceOnly: true,
	})

	net, pnl := f.s.Exposure("P")
	assert.True(t, net.Equal(d("10")))
	assert.True(t, pnl.Equal(d("5")), "mid 50.5 vs cost 50, got %s", pnl)
	assert.Equal(t, 10.0, f.rec.positions["P"])

	est, err := f.s.Estimate(f.s.Intent(pricing.Sell, pricing.Base, "1"))
	require.NoError(t, err)
	require.True(t, est.ReduceOnlyApplies)
	// min(10 - 3, 8)
	assert.True(t, est.MaxReduceOnly.Equal(d("7")), "got %s", est.MaxReduceOnly)

	f.feed.emit(t, "derivative.subaccount_order_history[subaccount=S]", inventory.OrderUpdate{
		OrderHash: "0x1", MarketID: "P", Side: "sell", Quantity: d("3"), Filled: d("3"), State: inventory.StateFilled, ReduceOnly: true,
		UpdatedAt: time.Now().Add(time.Minute),
	})
	est, _ = f.s.Estimate(f.s.Intent(pricing.Sell, pricing.Base, "1"))
	assert.True(t, est.MaxReduceOnly.Equal(d("8")), "capped by book liquidity, got %s", est.MaxReduceOnly)
}

func TestCloseCancelsEverything(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.SetSubaccount("S"))
	require.NoError(t, f.s.InitMarketStreams("X"))
	f.feed.events()

	f.s.Close()
	assert.Len(t, f.feed.events(), 5)
	assert.Equal(t, 0, f.reg.Len())
	assert.True(t, errors.Is(f.s.InitMarketStreams("X"), ErrClosed))
	assert.True(t, errors.Is(f.s.SetSubaccount("T"), ErrClosed))
	f.s.Close()
}

func TestNegativeToleranceRejected(t *testing.T) {
	f := newFixture(t)
	assert.True(t, errors.Is(f.s.SetSlippageTolerance(d("-0.1")), pricing.ErrNegativeTolerance))
}

func TestHandlersFollowCatalogReload(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.SetSubaccount("S"))
	require.NoError(t, f.s.InitMarketStreams("X"))

	// 热加载补上 X 的 base/quote 精度，推送仍走原来的订阅
	f.catalog.Replace([]market.Meta{
		{MarketID: "X", Type: market.Spot, PriceDecimals: 2, QuantityDecimals: 3, BaseDecimals: 18, QuoteDecimals: 6},
		{MarketID: "Y", Type: market.Spot, PriceDecimals: 2, QuantityDecimals: 3},
		{MarketID: "P", Type: market.Derivative, PriceDecimals: 1, QuantityDecimals: 3},
	})

	f.feed.emit(t, "spot.subaccount_trades[subaccount=S market=X]",
		market.Trade{MarketID: "X", Side: "buy", Price: d("0.00000002"), Qty: d("2000000000000000000")})
	p, ok := f.inv.Position("X")
	require.True(t, ok)
	assert.True(t, p.Net.Equal(d("2")), "got %s", p.Net)
	assert.True(t, p.AvgCost.Equal(d("20000")), "got %s", p.AvgCost)

	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{
		MarketID: "X",
		Sells:    []market.Level{{Price: d("0.00000002"), Quantity: d("1000000000000000000")}},
	})
	est, err := f.s.Estimate(f.s.Intent(pricing.Buy, pricing.Base, "1"))
	require.NoError(t, err)
	assert.True(t, est.WorstPrice.Equal(d("20000")), "got %s", est.WorstPrice)
}

func TestSeedPositionEnablesReduceOnlyCap(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.InitMarketStreams("X"))
	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{
		MarketID: "X",
		Buys:     market.LevelsOf([2]float64{99, 5}),
	})

	assert.True(t, errors.Is(f.s.SeedPosition("nope", d("1"), d("1")), ErrUnknownMarket))
	require.NoError(t, f.s.SeedPosition("X", d("3"), d("95")))
	assert.Equal(t, 3.0, f.rec.positions["X"])

	est, err := f.s.Estimate(f.s.Intent(pricing.Sell, pricing.Base, "1"))
	require.NoError(t, err)
	require.True(t, est.ReduceOnlyApplies)
	assert.True(t, est.MaxReduceOnly.Equal(d("3")), "got %s", est.MaxReduceOnly)

	require.NoError(t, f.s.SeedPosition("X", decimal.Zero, decimal.Zero))
	est, _ = f.s.Estimate(f.s.Intent(pricing.Sell, pricing.Base, "1"))
	assert.False(t, est.ReduceOnlyApplies)
}

func TestBookAge(t *testing.T) {
	f := newFixture(t)
	_, ok := f.s.BookAge()
	assert.False(t, ok)

	require.NoError(t, f.s.InitMarketStreams("X"))
	age, ok := f.s.BookAge()
	require.True(t, ok)
	assert.Greater(t, age, time.Hour, "no snapshot yet")

	f.feed.emit(t, "spot.orderbook[market=X]", market.Snapshot{MarketID: "X", Buys: market.LevelsOf([2]float64{1, 1})})
	age, _ = f.s.BookAge()
	assert.Less(t, age, time.Minute)
}

func TestStreamAndEstimateEventsLogged(t *testing.T) {
	f := newFixture(t)
	f.feed.fail[stream.Trades] = errors.New("dial refused")
	_ = f.s.InitMarketStreams("X")
	_ = f.s.InitMarketStreams("P")
	_, err := f.s.Estimate(f.s.Intent(pricing.Buy, pricing.Base, "1"))
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	assert.Equal(t, []string{
		"subscribe spot.orderbook",
		"subscribe_failed spot.trades",
		"cancel spot.orderbook",
		"subscribe derivative.orderbook",
		"subscribe_failed derivative.trades",
	}, f.events.streams)
	assert.Equal(t, []string{"P"}, f.events.estimates)
}
