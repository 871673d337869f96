package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"packforge/internal/core"
	"packforge/pkg/domain"
)

// OverlayWatcher keeps the latest successfully parsed overlay config for a
// file. A file that fails to parse leaves the previous config in place.
type OverlayWatcher struct {
	path     string
	current  atomic.Pointer[domain.OverlayConfig]
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	reloads  atomic.Int64
	onReload func(domain.OverlayConfig)
}

// WatchOverlays loads path and starts watching it until ctx is done. The
// initial load must succeed.
func WatchOverlays(ctx context.Context, path string, logger *slog.Logger) (*OverlayWatcher, error) {
	w, err := NewOverlayWatcher(path, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// NewOverlayWatcher loads path once without watching.
func NewOverlayWatcher(path string, logger *slog.Logger) (*OverlayWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg, err := core.LoadOverlayConfig(abs)
	if err != nil {
		return nil, err
	}
	w := &OverlayWatcher{path: abs, logger: logger, debounce: 100 * time.Millisecond}
	w.current.Store(&cfg)
	return w, nil
}

// OnReload registers fn to run after each successful reload. Call before Start.
func (w *OverlayWatcher) OnReload(fn func(domain.OverlayConfig)) { w.onReload = fn }

// Current returns the active config.
func (w *OverlayWatcher) Current() domain.OverlayConfig { return *w.current.Load() }

// Reloads counts successful reloads since start.
func (w *OverlayWatcher) Reloads() int64 { return w.reloads.Load() }

// Start watches the file's directory so editor rename-over-write is seen.
func (w *OverlayWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fsw
	go w.loop(ctx)
	w.logger.Info("watching overlay config", slog.String("path", w.path))
	return nil
}

func (w *OverlayWatcher) loop(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("overlay watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *OverlayWatcher) reload() {
	cfg, err := core.LoadOverlayConfig(w.path)
	if err != nil {
		w.logger.Warn("overlay config reload rejected; keeping previous",
			slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	w.current.Store(&cfg)
	w.reloads.Add(1)
	w.logger.Info("overlay config reloaded",
		slog.String("path", w.path), slog.Int("overlays", len(cfg.Overlays)))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
