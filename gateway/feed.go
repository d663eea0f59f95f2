package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-pricer-go/stream"
)

var ErrEndpointRequired = errors.New("feed endpoint required")

// FeedRecorder 连接统计，monitor 实现。
type FeedRecorder interface {
	RecordFeedConnect(channel string)
	RecordFeedDisconnect(channel string)
	RecordFeedMessage(channel string)
	RecordFeedError(channel string)
}

// FeedConfig indexer websocket 连接参数。
type FeedConfig struct {
	Endpoint     string
	APIKey       string
	ReadTimeout  time.Duration
	PingInterval time.Duration
	RetryBackoff time.Duration
	// MaxRetries 连续重连失败上限，0 表示不限。
	MaxRetries int
	// DialRate 每秒允许的拨号次数（所有通道共享）。
	DialRate  float64
	DialBurst int
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.ReadTimeout / 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 3 * time.Second
	}
	if c.DialRate <= 0 {
		c.DialRate = 5
	}
	if c.DialBurst <= 0 {
		c.DialBurst = 10
	}
	return c
}

// FeedClient 为每个 stream.Key 提供 Producer，一个订阅对应一条 websocket 连接。
type FeedClient struct {
	cfg     FeedConfig
	dialer  *websocket.Dialer
	limiter RateLimiter
	log     *zap.Logger
	rec     FeedRecorder
	alerter Alerter
}

// Alerter 重连放弃时通知运维，alert.Manager 实现。
type Alerter interface {
	SendError(message string, fields map[string]interface{}) error
}

// FeedOption 配置 FeedClient。
type FeedOption func(*FeedClient)

func WithFeedLogger(l *zap.Logger) FeedOption {
	return func(c *FeedClient) {
		if l != nil {
			c.log = l
		}
	}
}

func WithFeedRecorder(r FeedRecorder) FeedOption {
	return func(c *FeedClient) { c.rec = r }
}

func WithFeedAlerter(a Alerter) FeedOption {
	return func(c *FeedClient) { c.alerter = a }
}

func WithDialer(d *websocket.Dialer) FeedOption {
	return func(c *FeedClient) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithRateLimiter(l RateLimiter) FeedOption {
	return func(c *FeedClient) {
		if l != nil {
			c.limiter = l
		}
	}
}

func NewFeedClient(cfg FeedConfig, opts ...FeedOption) (*FeedClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}
	cfg = cfg.withDefaults()
	c := &FeedClient{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		limiter: NewTokenBucketLimiter(cfg.DialRate, cfg.DialBurst),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StreamURL 构造 {endpoint}/stream?channel=..&marketId=..&subaccountId=..
func (c *FeedClient) StreamURL(key stream.Key, scope stream.Scope) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.Endpoint, "/") + "/stream")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("channel", key.String())
	if id := scope.MarketID(); id != "" {
		q.Set("marketId", id)
	}
	if id := scope.SubaccountID(); id != "" {
		q.Set("subaccountId", id)
	}
	if key.Channel == stream.Trades {
		q.Set("executionSide", "taker")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Producer 返回 key 对应的 Producer：首次拨号同步进行，失败直接返回；
// 之后断线由读循环按线性退避重连，直到 teardown。
func (c *FeedClient) Producer(key stream.Key) stream.Producer {
	return func(ctx context.Context, scope stream.Scope, emit stream.Handler) (stream.Teardown, error) {
		target, err := c.StreamURL(key, scope)
		if err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		conn, err := c.dial(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", key, err)
		}

		ctx, cancel := context.WithCancel(ctx)
		s := &feedStream{
			client: c,
			key:    key,
			scope:  scope,
			target: target,
			emit:   emit,
			conn:   conn,
			cancel: cancel,
		}
		c.connected(key, scope)
		s.wg.Add(1)
		go s.run(ctx)
		return s.stop, nil
	}
}

func (c *FeedClient) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	header := make(http.Header)
	if c.cfg.APIKey != "" {
		header.Set("X-Api-Key", c.cfg.APIKey)
	}
	conn, _, err := c.dialer.DialContext(ctx, target, header)
	return conn, err
}

func (c *FeedClient) connected(key stream.Key, scope stream.Scope) {
	if c.rec != nil {
		c.rec.RecordFeedConnect(key.String())
	}
	c.log.Info("feed connected", zap.Stringer("key", key), zap.Stringer("scope", scope))
}

// feedStream 一条订阅的连接与读循环。
type feedStream struct {
	client *FeedClient
	key    stream.Key
	scope  stream.Scope
	target string
	emit   stream.Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// stop 取消上下文、关闭连接并等待读循环退出。
func (s *feedStream) stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *feedStream) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *feedStream) run(ctx context.Context) {
	defer s.wg.Done()
	c := s.client
	name := s.key.String()
	for {
		if conn := s.current(); conn != nil {
			s.readLoop(ctx, conn)
		}
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if c.rec != nil {
			c.rec.RecordFeedDisconnect(name)
		}
		c.log.Warn("feed disconnected, reconnecting", zap.Stringer("key", s.key), zap.Stringer("scope", s.scope))
		if !s.reconnect(ctx) {
			return
		}
	}
}

// reconnect 线性退避重连；ctx 取消或超过 MaxRetries 时返回 false。
func (s *feedStream) reconnect(ctx context.Context) bool {
	c := s.client
	retries := 0
	for {
		retries++
		if c.cfg.MaxRetries > 0 && retries > c.cfg.MaxRetries {
			c.log.Error("feed reconnection abandoned",
				zap.Stringer("key", s.key),
				zap.Int("retries", c.cfg.MaxRetries),
			)
			if c.alerter != nil {
				_ = c.alerter.SendError("feed reconnection abandoned", map[string]interface{}{
					"key":     s.key.String(),
					"scope":   s.scope.String(),
					"retries": c.cfg.MaxRetries,
				})
			}
			return false
		}
		backoff := time.Duration(retries) * c.cfg.RetryBackoff
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}
		conn, err := c.dial(ctx, s.target)
		if err != nil {
			if c.rec != nil {
				c.rec.RecordFeedError(s.key.String())
			}
			c.log.Warn("feed dial failed", zap.Stringer("key", s.key), zap.Int("retry", retries), zap.Duration("backoff", backoff), zap.Error(err))
			continue
		}
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()
		c.connected(s.key, s.scope)
		return true
	}
}

func (s *feedStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	c := s.client
	name := s.key.String()
	timeout := c.cfg.ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("feed read error", zap.Stringer("key", s.key), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		if c.rec != nil {
			c.rec.RecordFeedMessage(name)
		}
		payload, ts, err := Decode(s.key, msg)
		if err != nil {
			if c.rec != nil {
				c.rec.RecordFeedError(name)
			}
			c.log.Warn("feed decode error", zap.Stringer("key", s.key), zap.Error(err))
			continue
		}
		s.emit(stream.Event{Payload: payload, Ts: ts})
	}
}

// pingLoop 定期发送 ping；WriteControl 可与读并发调用。
func (s *feedStream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.client.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
