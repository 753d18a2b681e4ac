package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// WatchEvent is a debounced change of the watched config file.
type WatchEvent struct {
	Path string
	Op   fsnotify.Op
	At   time.Time
}

// ConfigWatcher reports changes to one config file.
//
// It watches the parent directory rather than the file, so editors that
// save by rename and files created after startup are both seen. Bursts of
// writes are folded into one event per debounce window.
type ConfigWatcher struct {
	path string
	dir  string

	watcher *fsnotify.Watcher
	logger  *log.Logger

	debounceWindow time.Duration
	events         chan WatchEvent
	errors         chan error

	mu      sync.Mutex
	pending fsnotify.Op
	dirty   bool
	timer   *time.Timer

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewConfigWatcher creates a watcher for path. The parent directory is
// created if it does not exist yet.
func NewConfigWatcher(path string, logger *log.Logger) (*ConfigWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &ConfigWatcher{
		path:           abs,
		dir:            dir,
		watcher:        fsw,
		logger:         logger.WithPrefix("watcher"),
		debounceWindow: 200 * time.Millisecond,
		events:         make(chan WatchEvent, 8),
		errors:         make(chan error, 8),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Events returns debounced change events. It is closed on Stop.
func (w *ConfigWatcher) Events() <-chan WatchEvent {
	if w == nil {
		ch := make(chan WatchEvent)
		close(ch)
		return ch
	}
	return w.events
}

// Errors returns watcher errors. It is closed on Stop.
func (w *ConfigWatcher) Errors() <-chan error {
	if w == nil {
		ch := make(chan error)
		close(ch)
		return ch
	}
	return w.errors
}

// Start runs the event loop in a goroutine.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if w == nil || w.watcher == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	w.startOnce.Do(func() {
		go w.loop(ctx)
	})
	return nil
}

// Stop stops the watcher and closes its channels.
func (w *ConfigWatcher) Stop() error {
	if w == nil {
		return nil
	}
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
		<-w.doneCh
	})
	return nil
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)
	defer close(w.errors)

	for {
		var timerC <-chan time.Time
		w.mu.Lock()
		if w.timer != nil {
			timerC = w.timer.C
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.record(ev.Op)
		case <-timerC:
			w.flush()
		}
	}
}

func (w *ConfigWatcher) record(op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending |= op
	w.dirty = true

	if w.timer == nil {
		w.timer = time.NewTimer(w.debounceWindow)
		return
	}
	if !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}
	w.timer.Reset(w.debounceWindow)
}

func (w *ConfigWatcher) flush() {
	w.mu.Lock()
	op, dirty := w.pending, w.dirty
	w.pending, w.dirty = 0, false
	w.timer = nil
	w.mu.Unlock()

	if !dirty {
		return
	}
	select {
	case w.events <- WatchEvent{Path: w.path, Op: op, At: time.Now().UTC()}:
	case <-w.stopCh:
	}
}

func (w *ConfigWatcher) sendError(err error) {
	if err == nil {
		return
	}
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error dropped", "error", err)
	}
}
