package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/Dicklesworthstone/waynotify/internal/testutil"
)

type signal struct {
	name   string
	id     uint32
	key    string
	reason notification.CloseReason
}

// recordingEmitter captures signals in emission order.
type recordingEmitter struct {
	mu      sync.Mutex
	signals []signal
	notify  chan struct{}

	// block, when non-nil, holds EmitActionInvoked until closed.
	block chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{notify: make(chan struct{}, 64)}
}

func (r *recordingEmitter) EmitActionInvoked(id uint32, key string) error {
	if r.block != nil {
		<-r.block
	}
	r.add(signal{name: "ActionInvoked", id: id, key: key})
	return nil
}

func (r *recordingEmitter) EmitNotificationClosed(id uint32, reason notification.CloseReason) error {
	r.add(signal{name: "NotificationClosed", id: id, reason: reason})
	return nil
}

func (r *recordingEmitter) add(s signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingEmitter) snapshot() []signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// waitFor blocks until at least n signals were recorded.
func (r *recordingEmitter) waitFor(t *testing.T, n int) []signal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d signals, have %v", n, r.snapshot())
		}
	}
}

func newTestStore(t *testing.T) *notification.Store {
	t.Helper()
	s := notification.NewStore(notification.StoreOptions{
		DefaultTimeout: time.Hour,
		Logger:         testutil.TestLogger(t),
	})
	t.Cleanup(s.Shutdown)
	return s
}

func newTestDispatcher(t *testing.T, store *notification.Store, emitter SignalEmitter) *Dispatcher {
	t.Helper()
	d := NewDispatcher(store, emitter, 0, testutil.TestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})
	return d
}

func notifyWithActions(store *notification.Store, timeout int32, flat ...string) notification.Notification {
	n, _ := store.Upsert(notification.UpsertRequest{
		AppName:       "test-app",
		Summary:       "summary",
		Body:          "body",
		Actions:       notification.ParseActions(flat),
		ExpireTimeout: timeout,
	})
	return n
}
