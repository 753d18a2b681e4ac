package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/waynotify/internal/config"
	"github.com/Dicklesworthstone/waynotify/internal/daemon"
)

var (
	flagDaemonNoDBus          bool
	flagDaemonStopTimeoutSecs int
)

func init() {
	daemonRunCmd.Flags().BoolVar(&flagDaemonNoDBus, "no-dbus", false, "serve the socket only, without claiming the bus name")
	daemonStopCmd.Flags().IntVar(&flagDaemonStopTimeoutSecs, "timeout", 10, "seconds to wait for the daemon to exit")

	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or control the notification daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground until SIGINT or SIGTERM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, closer, err := newLogger(cfg.Daemon, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := serverOptions(cfg)
		opts.Logger = logger
		if flagDaemonNoDBus {
			opts.EnableDBus = false
		}
		if cfg.Daemon.WatchConfig {
			opts.ConfigPath = flagConfig
			if opts.ConfigPath == "" {
				opts.ConfigPath = config.UserConfigPath()
			}
			opts.Reload = reloadSettings
		}

		err = daemon.RunDaemon(ctx, opts)
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w (socket %s)", err, opts.SocketPath)
		}
		return err
	},
}

func serverOptions(cfg config.Config) daemon.ServerOptions {
	return daemon.ServerOptions{
		SocketPath: cfg.Daemon.SocketPath,
		PIDFile:    cfg.Daemon.PIDFile,
		EnableDBus: cfg.Daemon.EnableDBus,
		Server: daemon.ServerInfo{
			Name:    cfg.Server.Name,
			Vendor:  cfg.Server.Vendor,
			Version: serverVersion(cfg.Server.Version),
		},
		DefaultTimeout: time.Duration(cfg.Notifications.DefaultTimeoutMs) * time.Millisecond,
		DispatchQueue:  cfg.Notifications.DispatchQueue,
		ClientQueue:    cfg.Notifications.ClientQueue,
	}
}

func serverVersion(v string) string {
	if v != "" {
		return v
	}
	return version
}

func reloadSettings() (daemon.LiveSettings, error) {
	cfg, err := loadConfig()
	if err != nil {
		return daemon.LiveSettings{}, err
	}
	return daemon.LiveSettings{
		DefaultTimeout: time.Duration(cfg.Notifications.DefaultTimeoutMs) * time.Millisecond,
	}, nil
}

func daemonClient() (*daemon.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(
		daemon.WithSocketPath(cfg.Daemon.SocketPath),
		daemon.WithPIDFile(cfg.Daemon.PIDFile),
	), nil
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := daemonClient()
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(statusView(client.GetStatusInfo()))
	},
}

type statusView daemon.StatusInfo

func (s statusView) Text() string {
	text := fmt.Sprintf("daemon: %s\n  socket: %s", s.State, s.SocketPath)
	if s.SocketAlive {
		text += fmt.Sprintf("\n  notifications: %d", s.Notifications)
	}
	if s.PID > 0 {
		text += fmt.Sprintf("\n  pid: %d", s.PID)
	}
	return text + "\n  " + s.Message
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := daemonClient()
		if err != nil {
			return err
		}
		timeout := time.Duration(flagDaemonStopTimeoutSecs) * time.Second
		if err := client.Stop(timeout); err != nil {
			return err
		}
		newWriter(cmd).Success("daemon stopped")
		return nil
	},
}

// withTimeout bounds a single client round trip.
func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 5*time.Second)
}
