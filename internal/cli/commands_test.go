package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/waynotify/internal/daemon"
	"github.com/Dicklesworthstone/waynotify/internal/notification"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	for _, bad := range []string{"0", "-1", "abc", "4294967296"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseActionFlags(t *testing.T) {
	got, err := parseActionFlags([]string{"default=Open", "reply", "x=a=b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "Open", "reply", "reply", "x", "a=b"}, got)

	_, err = parseActionFlags([]string{"=Label"})
	assert.Error(t, err)
}

func TestHistoryLine(t *testing.T) {
	v := daemon.NotificationView{
		ID:      7,
		AppName: "mail",
		Summary: "New mail",
		Body:    "<b>Alice</b> &amp; Bob\nsay hi",
		Actions: []string{"default", "Open", "archive", "Archive"},
		Urgency: "critical",
		State:   "active",
	}
	line := historyLine(v, 0)
	assert.Contains(t, line, "#7")
	assert.Contains(t, line, "New mail: Alice & Bob say hi")
	assert.Contains(t, line, "[default,archive]")
	assert.NotContains(t, line, "\n")

	short := historyLine(v, 20)
	assert.Equal(t, 20, len([]rune(short)))
	assert.True(t, strings.HasSuffix(short, "…"))
}

func TestHistoryEventText(t *testing.T) {
	v := daemon.NotificationView{ID: 3, Summary: "hi", Urgency: "normal", State: "active"}
	e := historyEvent{Push: daemon.Push{Type: daemon.TypeNewNotification, Notification: &v}}
	assert.True(t, strings.HasPrefix(e.Text(), "+ #3"))

	e = historyEvent{Push: daemon.Push{Type: daemon.TypeNotificationClosed, ID: 3, Reason: 2}}
	assert.Equal(t, "- #3 closed ("+notification.ReasonDismissed.String()+")", e.Text())
}

func TestHistoryCommand(t *testing.T) {
	socket, store := startDaemon(t)

	stdout, _, err := executeCommand(t, "history", "--socket", socket)
	require.NoError(t, err)
	assert.Equal(t, "no notifications\n", stdout)

	store.Upsert(notification.UpsertRequest{AppName: "a", Summary: "first", ExpireTimeout: -1})
	store.Upsert(notification.UpsertRequest{AppName: "b", Summary: "second", ExpireTimeout: -1})

	stdout, _, err = executeCommand(t, "history", "--socket", socket, "--json")
	require.NoError(t, err)
	var views []daemon.NotificationView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "first", views[0].Summary)
	assert.Equal(t, "second", views[1].Summary)
}

func TestHistoryCommand_NoDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")
	_, _, err := executeCommand(t, "history", "--socket", socket)
	assert.Error(t, err)
}

func TestInvokeAndDismissCommands(t *testing.T) {
	socket, store := startDaemon(t)
	n, _ := store.Upsert(notification.UpsertRequest{
		Summary:       "with actions",
		Actions:       notification.ParseActions([]string{"default", "Open", "later", "Later"}),
		ExpireTimeout: -1,
	})
	plain, _ := store.Upsert(notification.UpsertRequest{Summary: "plain", ExpireTimeout: -1})
	id := func(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

	stdout, _, err := executeCommand(t, "invoke", id(n.ID), "later", "--socket", socket, "--json")
	require.NoError(t, err)
	var res actionResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "later", res.Action)

	require.Eventually(t, func() bool {
		_, ok := store.Get(n.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err = executeCommand(t, "invoke", id(n.ID), "--socket", socket)
	assert.Error(t, err)

	stdout, _, err = executeCommand(t, "dismiss", id(plain.ID), "--socket", socket)
	require.NoError(t, err)
	assert.Equal(t, "dismissed #"+id(plain.ID)+"\n", stdout)
	assert.Zero(t, store.Len())

	_, _, err = executeCommand(t, "dismiss", id(plain.ID), "--socket", socket)
	assert.Error(t, err)
}

func TestDaemonStatus_NotRunning(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[daemon]\npid_file = \""+filepath.Join(dir, "pid")+"\"\n"), 0o600))

	stdout, _, err := executeCommand(t, "daemon", "status", "-c", cfgPath, "--socket", filepath.Join(dir, "sock"), "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "not running", info["status"])
	assert.Equal(t, false, info["socket_alive"])
}

func TestDaemonStatus_Running(t *testing.T) {
	socket, store := startDaemon(t)
	store.Upsert(notification.UpsertRequest{Summary: "one", ExpireTimeout: -1})

	stdout, _, err := executeCommand(t, "daemon", "status", "--socket", socket)
	require.NoError(t, err)
	assert.Contains(t, stdout, "daemon: running")
	assert.Contains(t, stdout, "notifications: 1")
}

func TestConfigCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")

	stdout, _, err := executeCommand(t, "config", "path", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", stdout)

	_, _, err = executeCommand(t, "config", "set", "notifications.default_timeout_ms", "1500", "-c", cfgPath)
	require.NoError(t, err)

	stdout, _, err = executeCommand(t, "config", "get", "notifications.default_timeout_ms", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "1500\n", stdout)

	stdout, _, err = executeCommand(t, "config", "get", "notifications", "-c", cfgPath, "--json")
	require.NoError(t, err)
	var kv struct {
		Key   string         `json:"key"`
		Value map[string]any `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &kv))
	assert.Equal(t, float64(1500), kv.Value["default_timeout_ms"])

	stdout, _, err = executeCommand(t, "config", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[notifications]")
	assert.Contains(t, stdout, "default_timeout_ms = 1500")

	_, _, err = executeCommand(t, "config", "set", "notifications.default_timeout_ms", "soon", "-c", cfgPath)
	assert.Error(t, err)
	_, _, err = executeCommand(t, "config", "set", "no.such_key", "1", "-c", cfgPath)
	assert.Error(t, err)
	_, _, err = executeCommand(t, "config", "get", "no.such_key", "-c", cfgPath)
	assert.Error(t, err)

	stdout, _, err = executeCommand(t, "config", "keys")
	require.NoError(t, err)
	assert.Contains(t, stdout, "daemon.socket_path\n")
}
