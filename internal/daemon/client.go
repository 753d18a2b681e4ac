package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DaemonStatus represents the current state of the daemon.
type DaemonStatus int

const (
	// DaemonRunning indicates the daemon is running and answers on its socket.
	DaemonRunning DaemonStatus = iota
	// DaemonNotRunning indicates no daemon process was found.
	DaemonNotRunning
	// DaemonUnresponsive indicates a process exists but the socket does not answer.
	DaemonUnresponsive
)

// String returns a human-readable status description.
func (s DaemonStatus) String() string {
	switch s {
	case DaemonRunning:
		return "running"
	case DaemonNotRunning:
		return "not running"
	case DaemonUnresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// Client inspects and controls a daemon process from the command line.
type Client struct {
	socketPath string
	pidFile    string
	logger     *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSocketPath sets the socket path.
func WithSocketPath(path string) ClientOption {
	return func(c *Client) {
		c.socketPath = path
	}
}

// WithPIDFile sets the PID file path.
func WithPIDFile(path string) ClientOption {
	return func(c *Client) {
		c.pidFile = path
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a daemon client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusInfo describes whether a daemon is reachable and who it is.
type StatusInfo struct {
	Status        DaemonStatus `json:"-"`
	State         string       `json:"status" yaml:"status"`
	PID           int          `json:"pid,omitempty" yaml:"pid,omitempty"`
	PIDFile       string       `json:"pid_file" yaml:"pid_file"`
	SocketPath    string       `json:"socket_path" yaml:"socket_path"`
	SocketAlive   bool         `json:"socket_alive" yaml:"socket_alive"`
	Notifications int          `json:"notifications" yaml:"notifications"`
	Message       string       `json:"message" yaml:"message"`
}

// IsDaemonRunning reports whether the daemon answers on its socket.
func (c *Client) IsDaemonRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := c.ping(ctx)
	return err == nil
}

// GetStatus returns the daemon status.
func (c *Client) GetStatus() DaemonStatus {
	return c.GetStatusInfo().Status
}

// GetStatusInfo checks the socket and the PID file.
func (c *Client) GetStatusInfo() (info StatusInfo) {
	info = StatusInfo{
		PIDFile:    c.pidFile,
		SocketPath: c.socketPath,
	}
	defer func() { info.State = info.Status.String() }()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	count, pingErr := c.ping(ctx)
	info.SocketAlive = pingErr == nil
	info.Notifications = count

	pid, err := c.readPID()
	if err != nil {
		if info.SocketAlive {
			info.Status = DaemonRunning
			info.Message = "Daemon running (PID file missing)"
		} else {
			info.Status = DaemonNotRunning
			info.Message = fmt.Sprintf("PID file not found or invalid: %v", err)
		}
		return info
	}
	info.PID = pid

	if !isProcessAlive(pid) {
		info.Status = DaemonNotRunning
		info.Message = fmt.Sprintf("Process %d is not running (stale PID file)", pid)
		return info
	}
	if !info.SocketAlive {
		info.Status = DaemonUnresponsive
		info.Message = fmt.Sprintf("Process %d exists but socket connection failed: %v", pid, pingErr)
		return info
	}

	info.Status = DaemonRunning
	info.Message = fmt.Sprintf("Daemon running with PID %d", pid)
	return info
}

// Stop sends SIGTERM to the daemon and waits up to timeout for it to exit.
func (c *Client) Stop(timeout time.Duration) error {
	pid, err := c.readPID()
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	if !isProcessAlive(pid) {
		_ = os.Remove(c.pidFile)
		return fmt.Errorf("daemon not running (stale PID %d)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	c.logger.Debug("sent SIGTERM", "pid", pid)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within %s", pid, timeout)
}

func (c *Client) ping(ctx context.Context) (int, error) {
	if strings.TrimSpace(c.socketPath) == "" {
		return 0, errors.New("socket path is empty")
	}
	ipc := NewIPCClient(c.socketPath)
	defer ipc.Close()
	list, err := ipc.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (c *Client) readPID() (int, error) {
	if strings.TrimSpace(c.pidFile) == "" {
		return 0, errors.New("pid file path is empty")
	}
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// isProcessAlive checks if a process is alive using kill -0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
