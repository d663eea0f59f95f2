package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"dex-pricer-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/pricer.yaml", "配置文件路径")
	statusEvery := flag.Duration("statusInterval", 30*time.Second, "状态日志与健康检查周期")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Build(ctx); err != nil {
		log.Fatalf("构建容器失败: %v", err)
	}
	lg := c.Logger()
	if err := c.Start(ctx); err != nil {
		lg.LogError(err, map[string]interface{}{"action": "start"})
		_ = c.Stop()
		os.Exit(1)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		lg.Info("systemd notified ready")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(*statusEvery)
	defer ticker.Stop()

	for {
		select {
		case sig := <-quit:
			lg.Info("shutdown signal received", zap.String("signal", sig.String()))
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			cancel()
			if err := c.Stop(); err != nil {
				os.Exit(1)
			}
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				lg.LogError(err, map[string]interface{}{"action": "health_check"})
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			logStatus(c)
		}
	}
}

// logStatus 输出当前市场、订阅数与仓位。
func logStatus(c *container.Container) {
	s := c.Session()
	marketID := s.MarketID()
	net, pnl := s.Exposure(marketID)
	c.Logger().Info("status",
		zap.String("market", marketID),
		zap.String("subaccount", s.SubaccountID()),
		zap.Int("subscriptions", c.Registry().Len()),
		zap.String("position", net.String()),
		zap.String("unrealized_pnl", pnl.String()),
	)
}
