package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化，重新加载并校验后回调。
// 监听所在目录，以兼容编辑器先写临时文件再 rename 的保存方式。
type Watcher struct {
	Path     string
	Cooldown time.Duration
	Logger   *zap.Logger

	lastReload time.Time
}

// Start blocks until ctx is cancelled; onUpdate receives each valid reload.
// Invalid files are logged and skipped so the previous config stays in effect.
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// 只处理写入和创建事件
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload(log, onUpdate)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(log *zap.Logger, onUpdate func(AppConfig)) {
	if w.Cooldown > 0 && time.Since(w.lastReload) < w.Cooldown {
		return
	}
	cfg, err := LoadWithEnvOverrides(w.Path)
	if err != nil {
		log.Warn("config reload rejected", zap.String("path", w.Path), zap.Error(err))
		return
	}
	w.lastReload = time.Now()
	log.Info("config reloaded", zap.String("path", w.Path), zap.Int("markets", len(cfg.Markets)))
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
