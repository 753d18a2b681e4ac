package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// isolateXDG points the XDG base directories at a temp dir for one test.
func isolateXDG(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(home, "run"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	return home
}

func TestDefaultConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate(DefaultConfig) unexpected error: %v", err)
	}
	if cfg.Server.Name != "WayNotify" {
		t.Fatalf("server name = %q", cfg.Server.Name)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.SocketPath = " "
	cfg.Daemon.LogLevel = "loud"
	cfg.Daemon.LogFormat = "xml"
	cfg.Notifications.DefaultTimeoutMs = -1
	cfg.Notifications.DispatchQueue = 0
	cfg.Notifications.ClientQueue = -3
	cfg.Server.Name = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "config validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"socket_path", "log_level", "log_format", "default_timeout_ms", "dispatch_queue", "client_queue", "server.name"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestDefaultPathsUseRuntimeDir(t *testing.T) {
	home := isolateXDG(t)

	if got, want := DefaultSocketPath(), filepath.Join(home, "run", "waynotify", "socket"); got != want {
		t.Fatalf("DefaultSocketPath = %q, want %q", got, want)
	}
	if got, want := DefaultPIDFile(), filepath.Join(home, "run", "waynotify", "daemon.pid"); got != want {
		t.Fatalf("DefaultPIDFile = %q, want %q", got, want)
	}
	if got, want := UserConfigPath(), filepath.Join(home, ".config", "waynotify", "config.toml"); got != want {
		t.Fatalf("UserConfigPath = %q, want %q", got, want)
	}
}

func TestLoad_Precedence_DefaultsUserExplicitEnvFlags(t *testing.T) {
	isolateXDG(t)

	if err := WriteValue(UserConfigPath(), "notifications.default_timeout_ms", 1000); err != nil {
		t.Fatalf("WriteValue user: %v", err)
	}
	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.DefaultTimeoutMs != 1000 {
		t.Fatalf("user file: default_timeout_ms=%d want 1000", cfg.Notifications.DefaultTimeoutMs)
	}

	explicit := filepath.Join(t.TempDir(), "explicit.toml")
	if err := WriteValue(explicit, "notifications.default_timeout_ms", 2000); err != nil {
		t.Fatalf("WriteValue explicit: %v", err)
	}
	cfg, err = Load(LoadOptions{ConfigPath: explicit})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.DefaultTimeoutMs != 2000 {
		t.Fatalf("explicit file: default_timeout_ms=%d want 2000", cfg.Notifications.DefaultTimeoutMs)
	}

	t.Setenv("WAYNOTIFY_DEFAULT_TIMEOUT_MS", "3000")
	cfg, err = Load(LoadOptions{ConfigPath: explicit})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.DefaultTimeoutMs != 3000 {
		t.Fatalf("env: default_timeout_ms=%d want 3000", cfg.Notifications.DefaultTimeoutMs)
	}

	cfg, err = Load(LoadOptions{
		ConfigPath: explicit,
		FlagOverrides: map[string]any{
			"notifications.default_timeout_ms": 4000,
		},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifications.DefaultTimeoutMs != 4000 {
		t.Fatalf("flags: default_timeout_ms=%d want 4000", cfg.Notifications.DefaultTimeoutMs)
	}
}

func TestLoad_InvalidEnvValueErrors(t *testing.T) {
	isolateXDG(t)
	t.Setenv("WAYNOTIFY_DEFAULT_TIMEOUT_MS", "soon")
	if _, err := Load(LoadOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_MissingExplicitConfigErrors(t *testing.T) {
	isolateXDG(t)
	if _, err := Load(LoadOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")}); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoad_InvalidValuesFailValidation(t *testing.T) {
	isolateXDG(t)
	_, err := Load(LoadOptions{FlagOverrides: map[string]any{"daemon.log_level": "shouting"}})
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMergeConfigFile(t *testing.T) {
	v := newTestViper()

	if err := mergeConfigFile(v, ""); err != nil {
		t.Fatalf("mergeConfigFile(empty): %v", err)
	}
	if err := mergeConfigFile(v, filepath.Join(t.TempDir(), "missing.toml")); err != nil {
		t.Fatalf("mergeConfigFile(missing): %v", err)
	}
	if err := mergeConfigFile(v, t.TempDir()); err == nil {
		t.Fatalf("expected error for directory path")
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("daemon = [\n"), 0o644); err != nil {
		t.Fatalf("write invalid toml: %v", err)
	}
	if err := mergeConfigFile(v, path); err == nil {
		t.Fatalf("expected error for invalid toml")
	}
}

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("notifications.client_queue", "7")
	if err != nil {
		t.Fatalf("ParseValue int: %v", err)
	}
	if v.(int) != 7 {
		t.Fatalf("unexpected value: %#v", v)
	}

	v, err = ParseValue("daemon.enable_dbus", "false")
	if err != nil {
		t.Fatalf("ParseValue bool: %v", err)
	}
	if v.(bool) != false {
		t.Fatalf("unexpected value: %#v", v)
	}

	v, err = ParseValue("daemon.socket_path", " /tmp/wn.sock ")
	if err != nil {
		t.Fatalf("ParseValue string: %v", err)
	}
	if v.(string) != "/tmp/wn.sock" {
		t.Fatalf("unexpected value: %#v", v)
	}

	if _, err := ParseValue("notifications.client_queue", "many"); err == nil {
		t.Fatalf("expected int parse error")
	}
	if _, err := parseValueByKind("x", valueKind(123)); err == nil {
		t.Fatalf("expected error for unsupported value kind")
	}
	if _, err := ParseValue("nope.nope", "x"); err == nil {
		t.Fatalf("expected unsupported key error")
	}
}

func TestGetValue(t *testing.T) {
	cfg := DefaultConfig()

	for _, key := range Keys() {
		if _, ok := GetValue(cfg, key); !ok {
			t.Errorf("GetValue(%q) not found", key)
		}
	}

	cases := []struct {
		key  string
		want any
	}{
		{"daemon.log_level", cfg.Daemon.LogLevel},
		{"notifications.default_timeout_ms", cfg.Notifications.DefaultTimeoutMs},
		{"server.name", cfg.Server.Name},
		{"daemon", cfg.Daemon},
		{"notifications", cfg.Notifications},
		{"server", cfg.Server},
	}
	for _, tc := range cases {
		got, ok := GetValue(cfg, tc.key)
		if !ok {
			t.Fatalf("GetValue(%q) not found", tc.key)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("GetValue(%q)=%#v want %#v", tc.key, got, tc.want)
		}
	}

	for _, key := range []string{"", "nope", "daemon.nope", "server.nope"} {
		if _, ok := GetValue(cfg, key); ok {
			t.Fatalf("expected %q to be not found", key)
		}
	}
}

func TestWriteValue(t *testing.T) {
	if err := WriteValue("", "daemon.log_level", "debug"); err == nil {
		t.Fatalf("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteValue(path, "daemon.log_level", "debug"); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	if err := WriteValue(path, "notifications.client_queue", 32); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{"[daemon]", `log_level = "debug"`, "[notifications]", "client_queue = 32"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in toml: %q", want, text)
		}
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("daemon = \"oops\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteValue(bad, "daemon.log_level", "debug"); err == nil {
		t.Fatalf("expected error when daemon is not a table")
	}
}

func TestWriteValue_DecodeExistingInvalidTOMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("daemon = [\n"), 0o644); err != nil {
		t.Fatalf("write invalid toml: %v", err)
	}
	if err := WriteValue(path, "daemon.log_level", "debug"); err == nil {
		t.Fatalf("expected decode error")
	} else if !strings.Contains(err.Error(), "decode config") {
		t.Fatalf("unexpected error: %v", err)
	}
}
