package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces the burst of events an editor produces
// for a single save.
const DefaultDebounceWindow = 250 * time.Millisecond

// Debouncer runs the most recently triggered callback once no trigger has
// arrived for the window.
type Debouncer struct {
	timer    *time.Timer
	duration time.Duration
	mu       sync.Mutex
}

func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{duration: duration}
}

func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, callback)
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Watch reloads path whenever it changes and passes every configuration
// that validates to onChange. Invalid edits are logged and skipped. The
// parent directory is watched so files replaced by rename are followed.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	debouncer := NewDebouncer(DefaultDebounceWindow)
	defer debouncer.Stop()

	reload := func() {
		cfg, err := Load(abs)
		if err != nil {
			logger.Warn("reload config", "path", abs, "error", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			logger.Warn("ignoring invalid config", "path", abs, "error", err)
			return
		}
		logger.Info("config reloaded", "path", abs, "senders", len(cfg.Mailer.Senders))
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debouncer.Trigger(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
