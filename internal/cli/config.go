package cli

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/waynotify/internal/config"
)

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify waynotify configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(newConfigView(cfg))
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file that set writes and the daemon watches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newWriter(cmd).Write(pathResult{Path: targetConfigPath()})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value or section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		key := args[0]
		if _, ok := config.GetValue(cfg, key); !ok {
			return fmt.Errorf("unknown key %q (see 'waynotify config keys')", key)
		}
		view := newConfigView(cfg)
		if section, ok := view[key]; ok {
			return newWriter(cmd).Write(keyValue{Key: key, Value: section})
		}
		val, _ := config.GetValue(cfg, key)
		return newWriter(cmd).Write(keyValue{Key: key, Value: val})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Long: `Set a configuration value in the --config file, or the user config file
when --config is not given. A running daemon picks up
notifications.default_timeout_ms immediately; other keys need a restart.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value, err := config.ParseValue(key, args[1])
		if err != nil {
			return err
		}
		target := targetConfigPath()
		if err := config.WriteValue(target, key, value); err != nil {
			return err
		}
		// Reject writes that leave the file unloadable.
		if _, err := config.Load(config.LoadOptions{ConfigPath: target}); err != nil {
			return fmt.Errorf("%s now fails to load: %w", target, err)
		}
		return newWriter(cmd).Write(keyValue{Path: target, Key: key, Value: value})
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newWriter(cmd).Write(keyList(config.Keys()))
	},
}

func targetConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.UserConfigPath()
}

// configView is the effective configuration keyed like the TOML file.
type configView map[string]map[string]any

func newConfigView(cfg config.Config) configView {
	view := configView{}
	for _, key := range config.Keys() {
		section, name, _ := strings.Cut(key, ".")
		val, _ := config.GetValue(cfg, key)
		if view[section] == nil {
			view[section] = map[string]any{}
		}
		view[section][name] = val
	}
	return view
}

func (v configView) Text() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(map[string]map[string]any(v)); err != nil {
		return err.Error()
	}
	return strings.TrimRight(buf.String(), "\n")
}

type keyValue struct {
	Path  string `json:"path,omitempty"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (kv keyValue) Text() string {
	if section, ok := kv.Value.(map[string]any); ok {
		return configView{kv.Key: section}.Text()
	}
	if kv.Path != "" {
		return fmt.Sprintf("%s = %v (%s)", kv.Key, kv.Value, kv.Path)
	}
	return fmt.Sprint(kv.Value)
}

type pathResult struct {
	Path string `json:"path"`
}

func (p pathResult) Text() string { return p.Path }

type keyList []string

func (k keyList) Text() string { return strings.Join(k, "\n") }
