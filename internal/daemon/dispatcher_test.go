package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/Dicklesworthstone/waynotify/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_ActionInvokedThenClosed(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 30000, "action1", "First", "action2", "Second")

	require.NoError(t, d.Dispatch(context.Background(), n.ID, "action1"))

	got := rec.waitFor(t, 2)
	require.Len(t, got, 2)
	assert.Equal(t, signal{name: "ActionInvoked", id: n.ID, key: "action1"}, got[0])
	assert.Equal(t, signal{name: "NotificationClosed", id: n.ID, reason: notification.ReasonClosed}, got[1])

	_, ok := store.Get(n.ID)
	assert.False(t, ok, "invoked notification should be closed")
	assert.Empty(t, store.GetAll())
}

func TestDispatcher_ExpiredNotificationStaysActionable(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 1, "default", "Open")
	require.Eventually(t, func() bool {
		cur, ok := store.Get(n.ID)
		return ok && cur.State == notification.StateExpired
	}, 2*time.Second, 5*time.Millisecond)

	// Expiry never signals.
	assert.Empty(t, rec.snapshot())

	require.NoError(t, d.Dispatch(context.Background(), n.ID, "default"))
	got := rec.waitFor(t, 2)
	assert.Equal(t, "ActionInvoked", got[0].name)
	assert.Equal(t, notification.ReasonClosed, got[1].reason)
}

func TestDispatcher_RejectedRequestsEmitNothing(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 30000, "action1", "First")
	bare := notifyWithActions(store, 30000)

	cases := []struct {
		name string
		id   uint32
		key  string
		want error
	}{
		{"unknown id", 99999, "action1", notification.ErrNotFound},
		{"zero id", 0, "action1", notification.ErrNotFound},
		{"unknown key", n.ID, "nonexistent_action", notification.ErrUnknownAction},
		{"no actions", bare.ID, "default", notification.ErrUnknownAction},
	}
	for _, tc := range cases {
		err := d.Dispatch(context.Background(), tc.id, tc.key)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}

	assert.Empty(t, rec.snapshot())
	cur, ok := store.Get(n.ID)
	require.True(t, ok, "rejected action must not close")
	assert.Empty(t, cur.LastActionKey)
	assert.Len(t, store.GetAll(), 2)
}

func TestDispatcher_SecondInvokeFails(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 30000, "action1", "First")
	require.NoError(t, d.Dispatch(context.Background(), n.ID, "action1"))
	assert.ErrorIs(t, d.Dispatch(context.Background(), n.ID, "action1"), notification.ErrNotFound)

	rec.waitFor(t, 2)
	assert.Len(t, rec.snapshot(), 2, "exactly one ActionInvoked and one NotificationClosed")
}

func TestDispatcher_Dismiss(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 30000)
	require.NoError(t, d.Dismiss(context.Background(), n.ID))
	got := rec.waitFor(t, 1)
	assert.Equal(t, signal{name: "NotificationClosed", id: n.ID, reason: notification.ReasonDismissed}, got[0])

	assert.ErrorIs(t, d.Dismiss(context.Background(), n.ID), notification.ErrNotFound)
	assert.Len(t, rec.snapshot(), 1)
}

func TestDispatcher_ReturnsBeforeSignalDelivery(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	rec.block = make(chan struct{})
	d := newTestDispatcher(t, store, rec)

	n := notifyWithActions(store, 30000, "action1", "First")

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), n.ID, "action1") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch waited for signal delivery")
	}
	assert.Empty(t, rec.snapshot())

	close(rec.block)
	rec.waitFor(t, 2)
}

func TestDispatcher_SlowEmitDoesNotStallLaterJobs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	rec.block = make(chan struct{})
	d := newTestDispatcher(t, store, rec)

	first := notifyWithActions(store, 30000, "open", "Open")
	second := notifyWithActions(store, 30000, "reply", "Reply")
	third := notifyWithActions(store, 30000)

	require.NoError(t, d.Dispatch(context.Background(), first.ID, "open"))

	// The emitter is now stuck on the first ActionInvoked.
	done := make(chan error, 2)
	go func() {
		done <- d.Dispatch(context.Background(), second.ID, "reply")
		done <- d.Dismiss(context.Background(), third.ID)
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker stalled behind a blocked signal emission")
		}
	}
	assert.Empty(t, store.GetAll())
	assert.Empty(t, rec.snapshot())

	close(rec.block)
	got := rec.waitFor(t, 5)
	assert.Equal(t, []signal{
		{name: "ActionInvoked", id: first.ID, key: "open"},
		{name: "NotificationClosed", id: first.ID, reason: notification.ReasonClosed},
		{name: "ActionInvoked", id: second.ID, key: "reply"},
		{name: "NotificationClosed", id: second.ID, reason: notification.ReasonClosed},
		{name: "NotificationClosed", id: third.ID, reason: notification.ReasonDismissed},
	}, got)
}

func TestDispatcher_StoppedAndCancelled(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	d := NewDispatcher(store, nil, 1, testutil.TestLogger(t))
	d.Stop()
	assert.ErrorIs(t, d.Dispatch(context.Background(), 1, "x"), ErrDispatcherStopped)

	// Never started: the queue fills and the context ends the wait.
	idle := NewDispatcher(store, nil, 1, testutil.TestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, idle.Dispatch(ctx, 1, "x"), context.DeadlineExceeded)
	idle.Stop()
}
