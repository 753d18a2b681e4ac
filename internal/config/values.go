package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

var keyKinds = map[string]valueKind{
	"daemon.socket_path":               kindString,
	"daemon.pid_file":                  kindString,
	"daemon.log_level":                 kindString,
	"daemon.log_format":                kindString,
	"daemon.log_file":                  kindString,
	"daemon.enable_dbus":               kindBool,
	"daemon.watch_config":              kindBool,
	"notifications.default_timeout_ms": kindInt,
	"notifications.dispatch_queue":     kindInt,
	"notifications.client_queue":       kindInt,
	"server.name":                      kindString,
	"server.vendor":                    kindString,
	"server.version":                   kindString,
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseValue converts a raw string into the type expected for key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue returns the value of a dotted key, or a whole section.
func GetValue(cfg Config, key string) (any, bool) {
	switch key {
	case "daemon":
		return cfg.Daemon, true
	case "notifications":
		return cfg.Notifications, true
	case "server":
		return cfg.Server, true

	case "daemon.socket_path":
		return cfg.Daemon.SocketPath, true
	case "daemon.pid_file":
		return cfg.Daemon.PIDFile, true
	case "daemon.log_level":
		return cfg.Daemon.LogLevel, true
	case "daemon.log_format":
		return cfg.Daemon.LogFormat, true
	case "daemon.log_file":
		return cfg.Daemon.LogFile, true
	case "daemon.enable_dbus":
		return cfg.Daemon.EnableDBus, true
	case "daemon.watch_config":
		return cfg.Daemon.WatchConfig, true

	case "notifications.default_timeout_ms":
		return cfg.Notifications.DefaultTimeoutMs, true
	case "notifications.dispatch_queue":
		return cfg.Notifications.DispatchQueue, true
	case "notifications.client_queue":
		return cfg.Notifications.ClientQueue, true

	case "server.name":
		return cfg.Server.Name, true
	case "server.vendor":
		return cfg.Server.Vendor, true
	case "server.version":
		return cfg.Server.Version, true
	}
	return nil, false
}

// WriteValue sets key in the TOML file at path, creating the file if needed
// and keeping every other value intact.
func WriteValue(path, key string, value any) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	segments := strings.Split(key, ".")
	if len(segments) < 2 {
		return fmt.Errorf("key %q must be section.name", key)
	}

	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read config %s: %w", path, err)
	}

	table := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := table[seg]
		if !ok {
			child := map[string]any{}
			table[seg] = child
			table = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q is not a table", seg)
		}
		table = child
	}
	table[segments[len(segments)-1]] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
