package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"dex-pricer-go/infrastructure/logger"
	"dex-pricer-go/market"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Feed    FeedConfig              `yaml:"feed"`
	Log     logger.Config           `yaml:"log"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Trading TradingConfig           `yaml:"trading"`
	Markets map[string]MarketConfig `yaml:"markets"`
}

// FeedConfig indexer websocket 设置。
type FeedConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"apiKey"`
	ReadTimeoutMs  int     `yaml:"readTimeoutMs"`
	PingIntervalMs int     `yaml:"pingIntervalMs"`
	RetryBackoffMs int     `yaml:"retryBackoffMs"`
	MaxRetries     int     `yaml:"maxRetries"`
	DialRate       float64 `yaml:"dialRate"`
	DialBurst      int     `yaml:"dialBurst"`
	// StaleAfterMs 当前市场订单簿超过该时长未更新则健康检查失败，0 表示不检查。
	StaleAfterMs int `yaml:"staleAfterMs"`
}

func (f FeedConfig) ReadTimeout() time.Duration {
	return time.Duration(f.ReadTimeoutMs) * time.Millisecond
}

func (f FeedConfig) PingInterval() time.Duration {
	return time.Duration(f.PingIntervalMs) * time.Millisecond
}

func (f FeedConfig) RetryBackoff() time.Duration {
	return time.Duration(f.RetryBackoffMs) * time.Millisecond
}

func (f FeedConfig) StaleAfter() time.Duration {
	return time.Duration(f.StaleAfterMs) * time.Millisecond
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// TradingConfig 会话默认值。
type TradingConfig struct {
	SubaccountID string `yaml:"subaccountId"`
	MarketID     string `yaml:"marketId"`
	// SlippagePct 百分比形式，"0.5" 表示 0.5%。
	SlippagePct string `yaml:"slippagePct"`
	// Positions 启动时已持有的仓位（按市场），之后由成交推送更新。
	Positions map[string]PositionSeed `yaml:"positions"`
}

// PositionSeed 真实单位的净仓位（空头为负）与均价。
type PositionSeed struct {
	Net     string `yaml:"net"`
	AvgCost string `yaml:"avgCost"`
}

// Values 解析种子；均价为空时视为 0。
func (p PositionSeed) Values() (net, avgCost decimal.Decimal, err error) {
	net, err = decimal.NewFromString(p.Net)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("net %q: %w", p.Net, err)
	}
	avgCost = decimal.Zero
	if p.AvgCost != "" {
		if avgCost, err = decimal.NewFromString(p.AvgCost); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("avgCost %q: %w", p.AvgCost, err)
		}
	}
	return net, avgCost, nil
}

// MarketConfig 市场精度元数据。
type MarketConfig struct {
	Type             string `yaml:"type"` // spot / derivative
	PriceDecimals    int32  `yaml:"priceDecimals"`
	QuantityDecimals int32  `yaml:"quantityDecimals"`
	BaseDecimals     int32  `yaml:"baseDecimals"`
	QuoteDecimals    int32  `yaml:"quoteDecimals"`
}

// Meta 转换为 market.Meta。
func (m MarketConfig) Meta(id string) market.Meta {
	t := market.Spot
	if m.Type == string(market.Derivative) {
		t = market.Derivative
	}
	return market.Meta{
		MarketID:         id,
		Type:             t,
		PriceDecimals:    m.PriceDecimals,
		QuantityDecimals: m.QuantityDecimals,
		BaseDecimals:     m.BaseDecimals,
		QuoteDecimals:    m.QuoteDecimals,
	}
}

// Metas 返回全部市场元数据，按 id 排序。
func (c AppConfig) Metas() []market.Meta {
	ids := make([]string, 0, len(c.Markets))
	for id := range c.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]market.Meta, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Markets[id].Meta(id))
	}
	return out
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides feed settings from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("PRICER_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("PRICER_FEED_API_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9100"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "pricer"
	}
}
