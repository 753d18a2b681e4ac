// Package daemon implements the waynotify notification broker: the
// org.freedesktop.Notifications bus service, the history socket server and
// the action dispatcher that sits between them and the notification store.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/charmbracelet/log"
)

// ErrAlreadyRunning is returned when another daemon owns the socket or the
// bus name.
var ErrAlreadyRunning = errors.New("notification daemon already running")

// LiveSettings are the values a config reload may change at runtime.
// Everything else needs a restart.
type LiveSettings struct {
	DefaultTimeout time.Duration
}

// ServerOptions configures RunDaemon.
type ServerOptions struct {
	SocketPath string
	PIDFile    string
	Logger     *log.Logger

	EnableDBus     bool
	Server         ServerInfo
	DefaultTimeout time.Duration
	DispatchQueue  int
	ClientQueue    int

	// ConfigPath, when set together with Reload, is watched for changes and
	// Reload's result is applied live.
	ConfigPath string
	Reload     func() (LiveSettings, error)
}

// Daemon wires the store, dispatcher and both transports together.
type Daemon struct {
	opts   ServerOptions
	logger *log.Logger

	store      *notification.Store
	dispatcher *Dispatcher
	ipc        *IPCServer
	bus        *DBusService
	watcher    *ConfigWatcher

	mu      sync.Mutex
	running bool
}

// New creates a daemon. Nothing is bound until Start.
func New(opts ServerOptions) *Daemon {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Server.Name == "" {
		opts.Server.Name = "WayNotify"
	}
	return &Daemon{opts: opts, logger: opts.Logger}
}

// Store returns the notification store.
func (d *Daemon) Store() *notification.Store {
	return d.store
}

// Start binds the socket, claims the bus name (if enabled) and starts every
// worker. It returns once the daemon is serving.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already started")
	}

	d.store = notification.NewStore(notification.StoreOptions{
		DefaultTimeout: d.opts.DefaultTimeout,
		Logger:         d.logger,
	})
	d.dispatcher = NewDispatcher(d.store, nil, d.opts.DispatchQueue, d.logger)

	ipc, err := NewIPCServer(d.opts.SocketPath, d.store, d.dispatcher, d.logger, WithClientQueue(d.opts.ClientQueue))
	if err != nil {
		d.store.Shutdown()
		return err
	}
	d.ipc = ipc
	d.store.OnChange(func(ev notification.Event) {
		switch ev.Type {
		case notification.EventAdded, notification.EventReplaced:
			ipc.BroadcastNotification(ev.Notification)
		case notification.EventClosed:
			ipc.BroadcastClosed(ev.Notification.ID, ev.Reason)
		}
	})

	if d.opts.EnableDBus {
		bus := NewDBusService(d.store, d.opts.Server, d.logger)
		if err := bus.Connect(); err != nil {
			_ = ipc.Stop()
			d.store.Shutdown()
			return err
		}
		d.bus = bus
		d.dispatcher.SetEmitter(bus.Emitter())
	}

	if err := writePIDFile(d.opts.PIDFile); err != nil {
		d.logger.Warn("pid file not written", "path", d.opts.PIDFile, "error", err)
	}

	d.dispatcher.Start(ctx)
	go func() {
		if err := ipc.Start(ctx); err != nil {
			d.logger.Error("socket server stopped", "error", err)
		}
	}()
	d.startConfigWatcher(ctx)

	d.running = true
	d.logger.Info("daemon started", "socket", d.opts.SocketPath, "dbus", d.bus != nil, "pid", os.Getpid())
	return nil
}

func (d *Daemon) startConfigWatcher(ctx context.Context) {
	if d.opts.ConfigPath == "" || d.opts.Reload == nil {
		return
	}
	w, err := NewConfigWatcher(d.opts.ConfigPath, d.logger)
	if err != nil {
		d.logger.Warn("config watcher disabled", "path", d.opts.ConfigPath, "error", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		d.logger.Warn("config watcher disabled", "error", err)
		return
	}
	d.watcher = w

	go func() {
		for range w.Events() {
			d.reload()
		}
	}()
}

func (d *Daemon) reload() {
	settings, err := d.opts.Reload()
	if err != nil {
		d.logger.Warn("config reload failed", "error", err)
		return
	}
	d.store.SetDefaultTimeout(settings.DefaultTimeout)
	d.logger.Info("config reloaded", "default_timeout", settings.DefaultTimeout)
}

// Stop shuts everything down and removes the PID file.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false

	var errs []error
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
	}
	errs = append(errs, d.ipc.Stop())
	// Queued signals still go out on the bus before it closes.
	d.dispatcher.Stop()
	if d.bus != nil {
		errs = append(errs, d.bus.Close())
	}
	d.store.Shutdown()

	if err := removePIDFile(d.opts.PIDFile); err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}

// RunDaemon starts a daemon and blocks until ctx is cancelled.
func RunDaemon(ctx context.Context, opts ServerOptions) error {
	d := New(opts)
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

func writePIDFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

func removePIDFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}
