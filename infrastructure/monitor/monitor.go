package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 订阅指标
	activeSubscriptions prometheus.Gauge
	subscribes          *prometheus.CounterVec
	replaces            *prometheus.CounterVec
	cancels             *prometheus.CounterVec
	staleEvents         *prometheus.CounterVec
	producerErrors      *prometheus.CounterVec

	// 行情连接指标
	feedConnects    *prometheus.CounterVec
	feedDisconnects *prometheus.CounterVec
	feedMessages    *prometheus.CounterVec
	feedErrors      *prometheus.CounterVec

	// 估价指标
	estimates      *prometheus.CounterVec
	exhaustedFills prometheus.Counter

	// 市场/仓位指标
	bestBid  *prometheus.GaugeVec
	bestAsk  *prometheus.GaugeVec
	position *prometheus.GaugeVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "pricer",
		Subsystem: "feed",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		activeSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_subscriptions",
			Help:      "当前活跃订阅数",
		}),
		subscribes:     counterVec("subscribes_total", "订阅总数", "key"),
		replaces:       counterVec("replaces_total", "订阅替换总数", "key"),
		cancels:        counterVec("cancels_total", "订阅取消总数", "key"),
		staleEvents:    counterVec("stale_events_total", "取消后到达并被丢弃的事件数", "key"),
		producerErrors: counterVec("producer_errors_total", "建立订阅失败次数", "key"),

		feedConnects:    counterVec("connects_total", "websocket 连接次数", "key"),
		feedDisconnects: counterVec("disconnects_total", "websocket 意外断开次数", "key"),
		feedMessages:    counterVec("messages_total", "收到的消息数", "key"),
		feedErrors:      counterVec("errors_total", "解析或重连失败次数", "key"),

		estimates: counterVec("estimates_total", "估价次数", "basis"),
		exhaustedFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "exhausted_fills_total",
			Help:      "订单簿深度不足的估价次数",
		}),

		bestBid:  gaugeVec("best_bid", "最优买价", "market"),
		bestAsk:  gaugeVec("best_ask", "最优卖价", "market"),
		position: gaugeVec("position", "当前净仓位", "market"),
	}
}

// 订阅相关方法
func (m *Monitor) RecordSubscribe(key string, replaced bool) {
	m.subscribes.WithLabelValues(key).Inc()
	if replaced {
		m.replaces.WithLabelValues(key).Inc()
	}
}

func (m *Monitor) RecordCancel(key string) {
	m.cancels.WithLabelValues(key).Inc()
}

func (m *Monitor) RecordStaleEvent(key string) {
	m.staleEvents.WithLabelValues(key).Inc()
}

func (m *Monitor) RecordProducerError(key string) {
	m.producerErrors.WithLabelValues(key).Inc()
}

func (m *Monitor) SetActiveSubscriptions(n int) {
	m.activeSubscriptions.Set(float64(n))
}

// 行情连接相关方法
func (m *Monitor) RecordFeedConnect(key string) {
	m.feedConnects.WithLabelValues(key).Inc()
}

func (m *Monitor) RecordFeedDisconnect(key string) {
	m.feedDisconnects.WithLabelValues(key).Inc()
}

func (m *Monitor) RecordFeedMessage(key string) {
	m.feedMessages.WithLabelValues(key).Inc()
}

func (m *Monitor) RecordFeedError(key string) {
	m.feedErrors.WithLabelValues(key).Inc()
}

// 估价相关方法
func (m *Monitor) RecordEstimate(basis string, exhausted bool) {
	m.estimates.WithLabelValues(basis).Inc()
	if exhausted {
		m.exhaustedFills.Inc()
	}
}

// 市场/仓位相关方法
func (m *Monitor) UpdateBidAsk(marketID string, bid, ask float64) {
	m.bestBid.WithLabelValues(marketID).Set(bid)
	m.bestAsk.WithLabelValues(marketID).Set(ask)
}

func (m *Monitor) UpdatePosition(marketID string, net float64) {
	m.position.WithLabelValues(marketID).Set(net)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
