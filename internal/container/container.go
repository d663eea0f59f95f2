package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"dex-pricer-go/config"
	"dex-pricer-go/gateway"
	"dex-pricer-go/infrastructure/alert"
	"dex-pricer-go/infrastructure/logger"
	"dex-pricer-go/infrastructure/monitor"
	"dex-pricer-go/internal/session"
	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
	"dex-pricer-go/stream"
)

var (
	_ stream.Recorder        = (*monitor.Monitor)(nil)
	_ gateway.FeedRecorder   = (*monitor.Monitor)(nil)
	_ pricing.Recorder       = (*monitor.Monitor)(nil)
	_ session.BookRecorder   = (*monitor.Monitor)(nil)
	_ pricing.PositionSource = (*inventory.Book)(nil)
	_ gateway.Alerter        = (*alert.Manager)(nil)
	_ session.EventLogger    = (*logger.Logger)(nil)
)

// 同一告警一分钟内只发一次。
const alertThrottle = time.Minute

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg     *config.AppConfig
	cfgPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 行情网关
	feed *gateway.FeedClient

	// 核心服务
	catalog    *market.Catalog
	marketData *market.Service
	inventory  *inventory.Book
	estimator  *pricing.Estimator
	registry   *stream.Registry
	session    *session.Session

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return &Container{
		cfg:       &cfg,
		cfgPath:   configPath,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildCoreServices(ctx); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"env": c.cfg.Env})

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.Namespace = c.cfg.Metrics.Namespace
	c.monitor = monitor.New(monitorCfg)
	c.alerts = alert.NewManager(alertThrottle, alert.NewZapChannel("log", c.logger.Named("alert")))

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	fc := c.cfg.Feed
	var err error
	c.feed, err = gateway.NewFeedClient(gateway.FeedConfig{
		Endpoint:     fc.Endpoint,
		APIKey:       fc.APIKey,
		ReadTimeout:  fc.ReadTimeout(),
		PingInterval: fc.PingInterval(),
		RetryBackoff: fc.RetryBackoff(),
		MaxRetries:   fc.MaxRetries,
		DialRate:     fc.DialRate,
		DialBurst:    fc.DialBurst,
	}, gateway.WithFeedLogger(c.logger.Named("feed")), gateway.WithFeedRecorder(c.monitor), gateway.WithFeedAlerter(c.alerts))
	if err != nil {
		return err
	}
	c.logger.Info("gateway built")
	return nil
}

func (c *Container) buildCoreServices(ctx context.Context) error {
	c.catalog = market.NewCatalog(c.cfg.Metas()...)
	c.marketData = market.NewService(market.NewPublisher(), c.catalog)
	c.inventory = inventory.NewBook(c.logger.Named("inventory"))
	c.estimator = &pricing.Estimator{
		Positions: c.inventory,
		Recorder:  c.monitor,
		Logger:    c.logger.Named("pricing"),
	}
	c.registry = stream.NewRegistry(
		stream.WithLogger(c.logger.Named("stream")),
		stream.WithRecorder(c.monitor),
	)

	var err error
	c.session, err = session.New(ctx, session.Deps{
		Registry:  c.registry,
		Feed:      c.feed,
		Market:    c.marketData,
		Catalog:   c.catalog,
		Inventory: c.inventory,
		Estimator: c.estimator,
		Recorder:  c.monitor,
		Logger:    c.logger.Named("session"),
		Events:    c.logger,
	})
	if err != nil {
		return err
	}
	if err := c.session.SetSlippageTolerance(c.cfg.Trading.SlippageTolerance()); err != nil {
		return err
	}
	c.logger.Info("core services built", zap.Int("markets", c.catalog.Len()))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.monitor != nil && c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	c.lifecycle.Register(&sessionComponent{
		session:    c.session,
		marketID:   c.cfg.Trading.MarketID,
		subaccount: c.cfg.Trading.SubaccountID,
		positions:  c.cfg.Trading.Positions,
		staleAfter: c.cfg.Feed.StaleAfter(),
		logger:     c.logger,
	})
	c.lifecycle.Register(&watcherComponent{
		watcher: &config.Watcher{Path: c.cfgPath, Logger: c.logger.Named("config")},
		apply:   c.applyConfig,
	})
}

// applyConfig 热更新：替换市场元数据、默认滑点，必要时切换市场或子账户。
// 精度变化由 market.Service 与会话在读取时从目录获取；市场类型变化需要重建推送。
func (c *Container) applyConfig(next config.AppConfig) {
	current := c.session.MarketID()
	prev, hadPrev := c.catalog.Get(current)
	c.catalog.Replace(next.Metas())
	if err := c.session.SetSlippageTolerance(next.Trading.SlippageTolerance()); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "apply_slippage"})
	}
	if next.Trading.SubaccountID != c.session.SubaccountID() {
		if err := c.session.SetSubaccount(next.Trading.SubaccountID); err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "switch_subaccount"})
		}
	}
	target := next.Trading.MarketID
	if target == "" {
		target = current
	}
	reinit := target != "" && target != current
	if !reinit && hadPrev {
		if meta, ok := c.catalog.Get(current); ok && meta.Type != prev.Type {
			reinit = true
		}
	}
	if reinit {
		if err := c.session.InitMarketStreams(target); err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "switch_market", "market": target})
		}
	}
	c.cfg = &next
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件；会话关闭时取消全部订阅。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Session 返回当前交易会话。
func (c *Container) Session() *session.Session { return c.session }

// Registry 返回订阅注册表。
func (c *Container) Registry() *stream.Registry { return c.registry }

// Monitor 返回指标收集器。
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

// Logger 返回根日志器。
func (c *Container) Logger() *logger.Logger { return c.logger }
