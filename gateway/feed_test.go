package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-pricer-go/market"
	"dex-pricer-go/stream"
)

// createMockFeed 启动一个 websocket 测试服务，每个连接交给 handler 处理。
func createMockFeed(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func httpToWS(u string) string {
	return strings.Replace(u, "http://", "ws://", 1)
}

type countingFeedRecorder struct {
	connects, disconnects, messages, errs atomic.Int32
}

func (c *countingFeedRecorder) RecordFeedConnect(string)    { c.connects.Add(1) }
func (c *countingFeedRecorder) RecordFeedDisconnect(string) { c.disconnects.Add(1) }
func (c *countingFeedRecorder) RecordFeedMessage(string)    { c.messages.Add(1) }
func (c *countingFeedRecorder) RecordFeedError(string)      { c.errs.Add(1) }

func TestNewFeedClientRequiresEndpoint(t *testing.T) {
	_, err := NewFeedClient(FeedConfig{})
	assert.ErrorIs(t, err, ErrEndpointRequired)
}

func TestStreamURL(t *testing.T) {
	c, err := NewFeedClient(FeedConfig{Endpoint: "wss://indexer.example/ws/"})
	require.NoError(t, err)

	raw, err := c.StreamURL(stream.NewKey(market.Spot, stream.Trades), stream.MarketScope{Market: "0xm"})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/ws/stream", u.Path)
	assert.Equal(t, "spot.trades", u.Query().Get("channel"))
	assert.Equal(t, "0xm", u.Query().Get("marketId"))
	assert.Equal(t, "taker", u.Query().Get("executionSide"))

	raw, err = c.StreamURL(stream.NewKey(market.Derivative, stream.SubaccountTrades),
		stream.SubaccountMarketScope{Subaccount: "0xs", Market: "0xm"})
	require.NoError(t, err)
	u, _ = url.Parse(raw)
	assert.Equal(t, "0xs", u.Query().Get("subaccountId"))
	assert.Equal(t, "0xm", u.Query().Get("marketId"))
	assert.Empty(t, u.Query().Get("executionSide"))
}

func TestProducerDeliversEventsAndTearsDown(t *testing.T) {
	var gotQuery atomic.Value
	var gotKey atomic.Value
	serverDone := make(chan struct{})
	server := createMockFeed(t, func(conn *websocket.Conn, r *http.Request) {
		defer close(serverDone)
		gotQuery.Store(r.URL.RawQuery)
		gotKey.Store(r.Header.Get("X-Api-Key"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"spot.orderbook","marketId":"0xm","ts":5,
			"data":{"buys":[{"price":"9","quantity":"1"}],"sells":[{"price":"10","quantity":"2"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &countingFeedRecorder{}
	c, err := NewFeedClient(FeedConfig{Endpoint: httpToWS(server.URL), APIKey: "k"}, WithFeedRecorder(rec))
	require.NoError(t, err)

	events := make(chan stream.Event, 4)
	td, err := c.Producer(stream.NewKey(market.Spot, stream.OrderBook))(context.Background(),
		stream.MarketScope{Market: "0xm"}, func(ev stream.Event) { events <- ev })
	require.NoError(t, err)

	select {
	case ev := <-events:
		snap, ok := ev.Payload.(market.Snapshot)
		require.True(t, ok)
		assert.Equal(t, "0xm", snap.MarketID)
		assert.Equal(t, int64(5), ev.Ts.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	assert.Eventually(t, func() bool { return rec.errs.Load() == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		td()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not return")
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
	assert.Contains(t, gotQuery.Load().(string), "channel=spot.orderbook")
	assert.Equal(t, "k", gotKey.Load().(string))
	assert.Equal(t, int32(1), rec.connects.Load())
	assert.Equal(t, int32(0), rec.disconnects.Load(), "teardown is not a disconnect")
}

func TestProducerDialFailureIsReturned(t *testing.T) {
	c, err := NewFeedClient(FeedConfig{Endpoint: "ws://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Producer(stream.NewKey(market.Spot, stream.Trades))(context.Background(), stream.MarketScope{Market: "m"}, func(stream.Event) {})
	assert.Error(t, err)
}

func TestProducerReconnectsAfterServerClose(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	server := createMockFeed(t, func(conn *websocket.Conn, _ *http.Request) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		msg := `{"channel":"spot.trades","marketId":"m","data":{"tradeId":"t` + string(rune('0'+n)) + `","side":"buy","price":"1","quantity":"1"}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &countingFeedRecorder{}
	c, err := NewFeedClient(FeedConfig{Endpoint: httpToWS(server.URL), RetryBackoff: 10 * time.Millisecond}, WithFeedRecorder(rec))
	require.NoError(t, err)

	var ids sync.Map
	td, err := c.Producer(stream.NewKey(market.Spot, stream.Trades))(context.Background(), stream.MarketScope{Market: "m"},
		func(ev stream.Event) { ids.Store(ev.Payload.(market.Trade).TradeID, true) })
	require.NoError(t, err)
	defer td()

	assert.Eventually(t, func() bool {
		_, ok := ids.Load("t2")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	_, ok := ids.Load("t1")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, rec.disconnects.Load(), int32(1))
	assert.GreaterOrEqual(t, rec.connects.Load(), int32(2))
}

type fakeAlerter struct {
	mu     sync.Mutex
	fields []map[string]interface{}
}

func (a *fakeAlerter) SendError(_ string, fields map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fields = append(a.fields, fields)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fields)
}

func TestReconnectAbandonedRaisesAlert(t *testing.T) {
	var served atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	alerter := &fakeAlerter{}
	c, err := NewFeedClient(FeedConfig{
		Endpoint:     httpToWS(server.URL),
		RetryBackoff: 5 * time.Millisecond,
		MaxRetries:   2,
	}, WithFeedAlerter(alerter))
	require.NoError(t, err)

	td, err := c.Producer(stream.NewKey(market.Derivative, stream.OrderBook))(context.Background(), stream.MarketScope{Market: "m"}, func(stream.Event) {})
	require.NoError(t, err)
	defer td()

	assert.Eventually(t, func() bool { return alerter.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	alerter.mu.Lock()
	assert.Equal(t, "derivative.orderbook", alerter.fields[0]["key"])
	assert.Equal(t, 2, alerter.fields[0]["retries"])
	alerter.mu.Unlock()
	assert.Equal(t, int32(3), served.Load())
}
