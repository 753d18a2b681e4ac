// Package cli implements the Cobra command-line interface for waynotify.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/waynotify/internal/config"
	"github.com/Dicklesworthstone/waynotify/internal/output"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig  string
	flagOutput  string
	flagJSON    bool
	flagSocket  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "waynotify",
	Short: "Desktop notification daemon with a scriptable history socket",
	Long: `waynotify owns org.freedesktop.Notifications on the session bus and keeps
every notification it receives in memory. Clients on the local socket can
list the history, invoke actions and dismiss notifications; the daemon
delivers the matching ActionInvoked and NotificationClosed signals to the
application that sent them.

  waynotify daemon run        start the daemon in the foreground
  waynotify history --watch   stream notifications as they arrive
  waynotify invoke 12         invoke the default action of #12`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := flagConfig
		if configPath == "" {
			configPath = config.UserConfigPath()
		}
		payload := versionInfo{
			Version:    version,
			Commit:     commit,
			BuildDate:  date,
			GoVersion:  runtime.Version(),
			ConfigPath: configPath,
			SocketPath: resolveSocket(config.DefaultSocketPath()),
		}
		return newWriter(cmd).Write(payload)
	},
}

type versionInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	ConfigPath string `json:"config_path"`
	SocketPath string `json:"socket_path"`
}

func (v versionInfo) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "waynotify %s\n", v.Version)
	fmt.Fprintf(&b, "  commit:  %s\n", v.Commit)
	fmt.Fprintf(&b, "  built:   %s\n", v.BuildDate)
	fmt.Fprintf(&b, "  go:      %s\n", v.GoVersion)
	fmt.Fprintf(&b, "  config:  %s\n", v.ConfigPath)
	fmt.Fprintf(&b, "  socket:  %s", v.SocketPath)
	return b.String()
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > WAYNOTIFY_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "" && flagOutput != "text" {
		return flagOutput
	}
	if env := os.Getenv("WAYNOTIFY_OUTPUT_FORMAT"); env != "" {
		switch env {
		case "json", "yaml", "text":
			return env
		}
	}
	return "text"
}

func newWriter(cmd *cobra.Command) *output.Writer {
	return output.New(output.Format(GetOutput()),
		output.WithOutput(cmd.OutOrStdout()),
		output.WithErrorOutput(cmd.ErrOrStderr()))
}

func validateOutput(cmd *cobra.Command, args []string) error {
	_, err := output.ParseFormat(GetOutput())
	return err
}

// loadConfig resolves configuration with --socket as a flag override.
func loadConfig() (config.Config, error) {
	overrides := map[string]any{}
	if flagSocket != "" {
		overrides["daemon.socket_path"] = flagSocket
	}
	if flagVerbose {
		overrides["daemon.log_level"] = "debug"
	}
	return config.Load(config.LoadOptions{
		ConfigPath:    flagConfig,
		FlagOverrides: overrides,
	})
}

// resolveSocket returns --socket when set, else fallback.
func resolveSocket(fallback string) string {
	if flagSocket != "" {
		return flagSocket
	}
	return fallback
}

// socketPath is the socket used by client commands. A broken config file
// must not stop a client from reaching a running daemon.
func socketPath() string {
	if flagSocket != "" {
		return flagSocket
	}
	cfg, err := loadConfig()
	if err != nil {
		return config.DefaultSocketPath()
	}
	return cfg.Daemon.SocketPath
}

// newLogger builds the process logger from the daemon settings. The
// returned closer releases the log file, if any.
func newLogger(cfg config.DaemonConfig, fallback io.Writer) (*log.Logger, io.Closer, error) {
	name := strings.ToLower(cfg.LogLevel)
	if name == "warning" {
		name = "warn"
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var (
		out    = fallback
		closer io.Closer
	)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "waynotify",
	})
	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger, closer, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: WAYNOTIFY_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "daemon socket path")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentPreRunE = validateOutput

	rootCmd.AddCommand(versionCmd)
}
