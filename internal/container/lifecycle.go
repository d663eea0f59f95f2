package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-pricer-go/config"
	"dex-pricer-go/infrastructure/logger"
	"dex-pricer-go/internal/session"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start component %d failed: %w", i, err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %d unhealthy: %w", i, err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	started bool
	mu      sync.Mutex
}

// Start 同步监听端口，端口占用等错误直接返回。
func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}

	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	*h.server = srv

	go func() {
		h.logger.Logger.Info(fmt.Sprintf("%s listening on %s", h.name, ln.Addr()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "serve",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Logger.Info(fmt.Sprintf("%s stopped", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// sessionComponent 启动时选中子账户与默认市场，停止时取消全部订阅。
type sessionComponent struct {
	session    *session.Session
	marketID   string
	subaccount string
	positions  map[string]config.PositionSeed
	staleAfter time.Duration
	logger     *logger.Logger
}

func (s *sessionComponent) Start(ctx context.Context) error {
	if s.subaccount != "" {
		if err := s.session.SetSubaccount(s.subaccount); err != nil {
			return fmt.Errorf("set subaccount: %w", err)
		}
	}
	// 切换子账户会清空仓位，种子必须在其后写入
	if err := s.seedPositions(); err != nil {
		return err
	}
	if s.marketID == "" {
		s.logger.Info("no default market configured; waiting for selection")
		return nil
	}
	if err := s.session.InitMarketStreams(s.marketID); err != nil {
		return fmt.Errorf("init market streams: %w", err)
	}
	return nil
}

func (s *sessionComponent) seedPositions() error {
	ids := make([]string, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		net, avg, err := s.positions[id].Values()
		if err != nil {
			return fmt.Errorf("position %s: %w", id, err)
		}
		if err := s.session.SeedPosition(id, net, avg); err != nil {
			return fmt.Errorf("seed position: %w", err)
		}
	}
	return nil
}

func (s *sessionComponent) Stop() error {
	s.session.Close()
	return nil
}

func (s *sessionComponent) Health() error {
	if s.marketID != "" && s.session.MarketID() == "" {
		return errors.New("session has no market")
	}
	if s.staleAfter > 0 {
		if age, ok := s.session.BookAge(); ok && age > s.staleAfter {
			return fmt.Errorf("orderbook %s stale for %s", s.session.MarketID(), age.Truncate(time.Second))
		}
	}
	return nil
}

// watcherComponent 后台运行配置 watcher。
type watcherComponent struct {
	watcher *config.Watcher
	apply   func(config.AppConfig)

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (w *watcherComponent) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		if err := w.watcher.Start(ctx, w.apply); err != nil && !errors.Is(err, context.Canceled) {
			w.err = err
			if w.watcher.Logger != nil {
				w.watcher.Logger.Warn("config watcher stopped", zap.Error(err))
			}
		}
	}()
	return nil
}

func (w *watcherComponent) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}

func (w *watcherComponent) Health() error {
	if w.done == nil {
		return errors.New("config watcher not started")
	}
	select {
	case <-w.done:
		if w.err != nil {
			return fmt.Errorf("config watcher: %w", w.err)
		}
		return errors.New("config watcher exited")
	default:
		return nil
	}
}
