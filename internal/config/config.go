// Package config loads waynotify configuration.
//
// Precedence, lowest to highest: built-in defaults, the user config file
// ($XDG_CONFIG_HOME/waynotify/config.toml), an explicit --config file,
// WAYNOTIFY_* environment variables, then command-line flag overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName is used for every per-user directory.
const AppName = "waynotify"

// Config is the full daemon configuration.
type Config struct {
	Daemon        DaemonConfig        `toml:"daemon" mapstructure:"daemon"`
	Notifications NotificationsConfig `toml:"notifications" mapstructure:"notifications"`
	Server        ServerConfig        `toml:"server" mapstructure:"server"`
}

// DaemonConfig controls process-level behaviour.
type DaemonConfig struct {
	SocketPath  string `toml:"socket_path" mapstructure:"socket_path"`
	PIDFile     string `toml:"pid_file" mapstructure:"pid_file"`
	LogLevel    string `toml:"log_level" mapstructure:"log_level"`
	LogFormat   string `toml:"log_format" mapstructure:"log_format"`
	LogFile     string `toml:"log_file" mapstructure:"log_file"`
	EnableDBus  bool   `toml:"enable_dbus" mapstructure:"enable_dbus"`
	WatchConfig bool   `toml:"watch_config" mapstructure:"watch_config"`
}

// NotificationsConfig controls store and transport tuning.
type NotificationsConfig struct {
	// DefaultTimeoutMs is the popup lifetime for expire_timeout == -1.
	// Zero means such notifications never expire.
	DefaultTimeoutMs int `toml:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	// DispatchQueue bounds pending action invocations.
	DispatchQueue int `toml:"dispatch_queue" mapstructure:"dispatch_queue"`
	// ClientQueue bounds outbound messages per socket client. A client that
	// falls further behind is disconnected.
	ClientQueue int `toml:"client_queue" mapstructure:"client_queue"`
}

// ServerConfig is reported by GetServerInformation.
type ServerConfig struct {
	Name    string `toml:"name" mapstructure:"name"`
	Vendor  string `toml:"vendor" mapstructure:"vendor"`
	Version string `toml:"version" mapstructure:"version"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			SocketPath:  DefaultSocketPath(),
			PIDFile:     DefaultPIDFile(),
			LogLevel:    "info",
			LogFormat:   "text",
			LogFile:     "",
			EnableDBus:  true,
			WatchConfig: true,
		},
		Notifications: NotificationsConfig{
			DefaultTimeoutMs: 5000,
			DispatchQueue:    64,
			ClientQueue:      256,
		},
		Server: ServerConfig{
			Name:    "WayNotify",
			Vendor:  AppName,
			Version: "",
		},
	}
}

// RuntimeDir returns $XDG_RUNTIME_DIR/waynotify.
func RuntimeDir() string {
	return filepath.Join(xdg.RuntimeDir, AppName)
}

// DefaultSocketPath returns the well-known socket path.
func DefaultSocketPath() string {
	return filepath.Join(RuntimeDir(), "socket")
}

// DefaultPIDFile returns the default PID file path.
func DefaultPIDFile() string {
	return filepath.Join(RuntimeDir(), "daemon.pid")
}

// UserConfigPath returns $XDG_CONFIG_HOME/waynotify/config.toml.
func UserConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigPath is an explicit config file. Unlike the user file it must exist.
	ConfigPath string
	// FlagOverrides maps dotted keys to values from command-line flags.
	FlagOverrides map[string]any
}

// Load resolves the effective configuration.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, UserConfigPath()); err != nil {
		return Config{}, err
	}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := mergeConfigFile(v, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(v); err != nil {
		return Config{}, err
	}
	for key, value := range opts.FlagOverrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg as a single error.
func Validate(cfg Config) error {
	var problems []string

	if strings.TrimSpace(cfg.Daemon.SocketPath) == "" {
		problems = append(problems, "daemon.socket_path must not be empty")
	}
	switch strings.ToLower(cfg.Daemon.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("daemon.log_level %q is not one of debug, info, warn, error", cfg.Daemon.LogLevel))
	}
	switch cfg.Daemon.LogFormat {
	case "text", "json", "logfmt":
	default:
		problems = append(problems, fmt.Sprintf("daemon.log_format %q is not one of text, json, logfmt", cfg.Daemon.LogFormat))
	}
	if cfg.Notifications.DefaultTimeoutMs < 0 {
		problems = append(problems, "notifications.default_timeout_ms must be >= 0")
	}
	if cfg.Notifications.DispatchQueue <= 0 {
		problems = append(problems, "notifications.dispatch_queue must be > 0")
	}
	if cfg.Notifications.ClientQueue <= 0 {
		problems = append(problems, "notifications.client_queue must be > 0")
	}
	if strings.TrimSpace(cfg.Server.Name) == "" {
		problems = append(problems, "server.name must not be empty")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("config validation failed: " + strings.Join(problems, "; "))
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("daemon.socket_path", d.Daemon.SocketPath)
	v.SetDefault("daemon.pid_file", d.Daemon.PIDFile)
	v.SetDefault("daemon.log_level", d.Daemon.LogLevel)
	v.SetDefault("daemon.log_format", d.Daemon.LogFormat)
	v.SetDefault("daemon.log_file", d.Daemon.LogFile)
	v.SetDefault("daemon.enable_dbus", d.Daemon.EnableDBus)
	v.SetDefault("daemon.watch_config", d.Daemon.WatchConfig)

	v.SetDefault("notifications.default_timeout_ms", d.Notifications.DefaultTimeoutMs)
	v.SetDefault("notifications.dispatch_queue", d.Notifications.DispatchQueue)
	v.SetDefault("notifications.client_queue", d.Notifications.ClientQueue)

	v.SetDefault("server.name", d.Server.Name)
	v.SetDefault("server.vendor", d.Server.Vendor)
	v.SetDefault("server.version", d.Server.Version)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// envBindings maps environment variables to config keys.
var envBindings = map[string]string{
	"WAYNOTIFY_SOCKET":             "daemon.socket_path",
	"WAYNOTIFY_PID_FILE":           "daemon.pid_file",
	"WAYNOTIFY_LOG_LEVEL":          "daemon.log_level",
	"WAYNOTIFY_LOG_FORMAT":         "daemon.log_format",
	"WAYNOTIFY_LOG_FILE":           "daemon.log_file",
	"WAYNOTIFY_ENABLE_DBUS":        "daemon.enable_dbus",
	"WAYNOTIFY_DEFAULT_TIMEOUT_MS": "notifications.default_timeout_ms",
}

func applyEnv(v *viper.Viper) error {
	for env, key := range envBindings {
		raw, ok := os.LookupEnv(env)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		value, err := ParseValue(key, raw)
		if err != nil {
			return fmt.Errorf("env %s: %w", env, err)
		}
		v.Set(key, value)
	}
	return nil
}
