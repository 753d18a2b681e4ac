package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/testutil"
	"github.com/fsnotify/fsnotify"
)

func TestConfigWatcherDebounceAggregatesOps(t *testing.T) {
	w := &ConfigWatcher{
		path:           "/tmp/config.toml",
		logger:         testutil.TestLogger(t),
		debounceWindow: 100 * time.Millisecond,
		events:         make(chan WatchEvent, 10),
		errors:         make(chan error, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}

	w.record(fsnotify.Create)
	w.record(fsnotify.Write)
	w.record(fsnotify.Write)
	w.flush()

	if len(w.events) != 1 {
		t.Fatalf("expected one folded event, got %d", len(w.events))
	}
	ev := <-w.events
	if ev.Op&(fsnotify.Create|fsnotify.Write) != (fsnotify.Create | fsnotify.Write) {
		t.Fatalf("ops mismatch: got=%v", ev.Op)
	}

	// Nothing pending: no event.
	w.flush()
	if len(w.events) != 0 {
		t.Fatalf("expected no event after empty flush")
	}
}

func TestConfigWatcherEmitsOnWriteAndIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	w, err := NewConfigWatcher(path, testutil.TestLogger(t))
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile sibling: %v", err)
	}
	if err := os.WriteFile(path, []byte("[daemon]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("unexpected event path: got=%q want=%q", ev.Path, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for watcher event")
	}
}

func TestConfigWatcherStopClosesChannels(t *testing.T) {
	w, err := NewConfigWatcher(filepath.Join(t.TempDir(), "nested", "config.toml"), nil)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Fatalf("expected events channel to be closed")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	var nilWatcher *ConfigWatcher
	if _, ok := <-nilWatcher.Events(); ok {
		t.Fatalf("nil watcher events should be closed")
	}
	if err := nilWatcher.Start(context.Background()); err == nil {
		t.Fatalf("expected error starting nil watcher")
	}
}

func TestNewConfigWatcherRequiresPath(t *testing.T) {
	if _, err := NewConfigWatcher("  ", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
