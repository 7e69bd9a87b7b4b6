package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a configuration file for changes and delivers freshly
// loaded configurations to a callback. Reload storms from editors that write
// in multiple steps are collapsed by a debounce interval.
//
// Only ceiling changes take effect at runtime; storage and directory settings
// require a restart and are intentionally not re-applied by consumers.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  fsw,
		logger:   slog.Default().With("component", "config.watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks, reloading the configuration on file changes and invoking
// onReload with each successfully loaded configuration. Invalid intermediate
// states are logged and skipped; the previous configuration stays in effect.
// Watch returns when the context is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("config watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped (context cancelled)")
			return nil

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}

			w.logger.Debug("config file event",
				"path", event.Name,
				"op", event.Op.String(),
			)
			w.trigger(onReload)

			// Some editors replace the file, which removes the watch.
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = w.watcher.Add(w.path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and waits for the Watch loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// trigger schedules a debounced reload.
func (w *Watcher) trigger(onReload func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Error("config reload failed, keeping previous configuration",
				"path", w.path,
				"error", err,
			)
			return
		}

		w.logger.Info("configuration reloaded", "path", w.path)
		onReload(cfg)
	})
}
