package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherStopsOnCancel(t *testing.T) {
	w := &Watcher{Path: writeTempConfig(t, sampleConfig)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Start(ctx, nil); err == nil {
		t.Fatalf("expected context cancellation")
	}
}

func TestWatcherFailsOnMissingDir(t *testing.T) {
	w := &Watcher{Path: "/definitely/not/here/cfg.yaml"}
	if err := w.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected watch error")
	}
}

func TestWatcherReloadsValidChanges(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	w := &Watcher{Path: path}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan AppConfig, 4)
	go func() {
		_ = w.Start(ctx, func(cfg AppConfig) { updates <- cfg })
	}()

	// 等待 watcher 注册完成后再写入；无效配置被跳过
	deadline := time.After(3 * time.Second)
	invalid := strings.Replace(sampleConfig, "env: dev", "env: \"\"", 1)
	valid := strings.Replace(sampleConfig, "env: dev", "env: staging", 1)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-updates:
			if cfg.Env != "staging" {
				t.Fatalf("unexpected env after reload: %q", cfg.Env)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(invalid), 0o644)
			_ = os.WriteFile(path, []byte(valid), 0o644)
		case <-deadline:
			t.Fatalf("expected update callback")
		}
	}
}

func TestWatcherCooldown(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	w := &Watcher{Path: path, Cooldown: time.Hour}
	calls := 0
	w.reload(zap.NewNop(), func(AppConfig) { calls++ })
	w.reload(zap.NewNop(), func(AppConfig) { calls++ })
	if calls != 1 {
		t.Fatalf("expected cooldown to suppress second reload, got %d calls", calls)
	}
}
