package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/Dicklesworthstone/waynotify/internal/testutil"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBusService(t *testing.T, store *notification.Store, emitter SignalEmitter) *DBusService {
	t.Helper()
	s := NewDBusService(store, ServerInfo{Name: "WayNotify", Vendor: "waynotify", Version: "test"}, testutil.TestLogger(t))
	s.emitter = emitter
	return s
}

func TestDBusService_NotifyAssignsAndReplacesIDs(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	s := newTestDBusService(t, store, newRecordingEmitter())

	id, derr := s.Notify("app", 0, "", "S1", "B1", []string{"a", "A"}, nil, 30000)
	require.Nil(t, derr)
	require.NotZero(t, id)

	other, _ := s.Notify("app", 0, "", "Other", "", nil, nil, 30000)
	assert.NotEqual(t, id, other)

	replaced, _ := s.Notify("app", id, "dialog-information", "S2", "B2", []string{"k", "L"}, map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(2)),
	}, 30000)
	assert.Equal(t, id, replaced)

	all := store.GetAll()
	require.Len(t, all, 2)
	n, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "S2", n.Summary)
	assert.Equal(t, "B2", n.Body)
	assert.Equal(t, "dialog-information", n.AppIcon)
	assert.Equal(t, []notification.Action{{Key: "k", Label: "L"}}, n.Actions)
	assert.Equal(t, notification.UrgencyCritical, n.Urgency)
	assert.Equal(t, byte(2), n.Hints["urgency"])
}

func TestDBusService_CloseNotification(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	s := newTestDBusService(t, store, rec)

	id, _ := s.Notify("app", 0, "", "S", "", nil, nil, 0)

	require.Nil(t, s.CloseNotification(id))
	require.Nil(t, s.CloseNotification(id))
	require.Nil(t, s.CloseNotification(0))
	require.Nil(t, s.CloseNotification(424242))

	assert.Equal(t, []signal{{name: "NotificationClosed", id: id, reason: notification.ReasonClosed}}, rec.snapshot())
	assert.Empty(t, store.GetAll())

	// A closed id is never resurrected by replaces_id.
	fresh, _ := s.Notify("app", id, "", "again", "", nil, nil, 0)
	assert.NotEqual(t, id, fresh)
}

func TestDBusService_CapabilitiesAndServerInformation(t *testing.T) {
	t.Parallel()
	s := newTestDBusService(t, newTestStore(t), NopEmitter{})

	caps, derr := s.GetCapabilities()
	require.Nil(t, derr)
	for _, want := range []string{"actions", "body", "body-markup"} {
		assert.Contains(t, caps, want)
	}

	name, vendor, version, specVersion, derr := s.GetServerInformation()
	require.Nil(t, derr)
	assert.Equal(t, "WayNotify", name)
	assert.Equal(t, "waynotify", vendor)
	assert.Equal(t, "test", version)
	assert.Equal(t, "1.2", specVersion)
}

func TestDBusService_AnswersWhileActionInFlight(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec := newRecordingEmitter()
	rec.block = make(chan struct{})

	d := newTestDispatcher(t, store, rec)
	// Runs before the dispatcher cleanup so the worker can exit.
	t.Cleanup(func() { close(rec.block) })
	s := newTestDBusService(t, store, rec)

	id, _ := s.Notify("app", 0, "", "S", "", []string{"default", "Open"}, nil, 30000)
	require.NoError(t, d.Dispatch(context.Background(), id, "default"))

	// The dispatcher worker is stuck delivering ActionInvoked.
	done := make(chan string, 1)
	go func() {
		name, _, _, _, _ := s.GetServerInformation()
		other, _ := s.Notify("app", 0, "", "next", "", nil, nil, 30000)
		if other == 0 {
			name = ""
		}
		done <- name
	}()

	select {
	case name := <-done:
		assert.Equal(t, "WayNotify", name)
	case <-time.After(5 * time.Second):
		t.Fatal("bus methods stalled behind action dispatch")
	}
}

func TestHintsFromVariants(t *testing.T) {
	t.Parallel()
	assert.Nil(t, hintsFromVariants(nil))

	h := hintsFromVariants(map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(byte(0)),
		"desktop-entry": dbus.MakeVariant("waves"),
		"transient":     dbus.MakeVariant(true),
	})
	assert.Equal(t, byte(0), h["urgency"])
	assert.Equal(t, "waves", h["desktop-entry"])
	assert.Equal(t, true, h["transient"])
}

func TestDBusService_SessionBus(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no session bus")
	}
	store := newTestStore(t)
	s := NewDBusService(store, ServerInfo{Name: "WayNotify"}, testutil.TestLogger(t))
	if err := s.Connect(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			t.Skip("another notification server owns the bus name")
		}
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	conn, err := dbus.ConnectSessionBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	obj := conn.Object(dbusName, dbusPath)
	var name, vendor, version, specVersion string
	require.NoError(t, obj.Call(dbusInterface+".GetServerInformation", 0).Store(&name, &vendor, &version, &specVersion))
	assert.Equal(t, "WayNotify", name)
	assert.Equal(t, SpecVersion, specVersion)

	var id uint32
	require.NoError(t, obj.Call(dbusInterface+".Notify", 0,
		"test-app", uint32(0), "", "Summary", "Body",
		[]string{"default", "Open"}, map[string]dbus.Variant{}, int32(30000),
	).Store(&id))
	assert.NotZero(t, id)
	_, ok := store.Get(id)
	assert.True(t, ok)

	require.NoError(t, obj.Call(dbusInterface+".CloseNotification", 0, id).Err)
	_, ok = store.Get(id)
	assert.False(t, ok)
}
