package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hotpool/internal/async"
	"hotpool/internal/logging"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher turns filesystem events in the pool directory into debounced
// nudges. It never reports what changed; the supervisor rescans.
type Watcher struct {
	layout   Layout
	logger   logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	notify   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes watcher behavior.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce window.
func WithWatchDebounce(debounce time.Duration) WatcherOption {
	return func(w *Watcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithWatchLogger sets the logger for watcher diagnostics.
func WithWatchLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logging.OrNop(logger)
	}
}

// NewWatcher constructs a watcher for the pool directory.
func NewWatcher(layout Layout, opts ...WatcherOption) *Watcher {
	layout = layout.WithDefaults()
	if abs, err := filepath.Abs(layout.Dir); err == nil {
		layout.Dir = abs
	}
	w := &Watcher{
		layout:   layout,
		logger:   logging.Nop(),
		debounce: defaultWatchDebounce,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The pool directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create pool watcher: %w", err)
	}
	if err := fsWatcher.Add(w.layout.Dir); err != nil {
		_ = fsWatcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.layout.Dir, err)
	}
	w.watcher = fsWatcher
	w.mu.Unlock()

	async.Go(w.logger, "pool.watch", func() { w.watchLoop(fsWatcher) })
	if ctx != nil {
		async.Go(w.logger, "pool.watch.ctx", func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.stopCh:
			}
		})
	}
	return nil
}

// Stop terminates the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

// Changes delivers at most one pending nudge at a time.
func (w *Watcher) Changes() <-chan struct{} {
	return w.notify
}

func (w *Watcher) watchLoop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Pool watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Dir(filepath.Clean(event.Name)) != w.layout.Dir {
		return
	}
	if _, ok := w.layout.Identifier(filepath.Base(event.Name)); !ok {
		return
	}
	w.scheduleNudge()
}

func (w *Watcher) scheduleNudge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
	})
}
