package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNotConnected is returned by calls on a closed client.
var ErrNotConnected = errors.New("not connected to daemon")

// RemoteError is an "error" reply from the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// Push is an unsolicited message from the daemon.
type Push struct {
	Type         string            `json:"type"`
	Notification *NotificationView `json:"notification,omitempty"`
	ID           uint32            `json:"id,omitempty"`
	Reason       uint32            `json:"reason,omitempty"`
}

// IPCClient talks to the daemon socket. Calls may be issued concurrently;
// replies are matched by _request_id, starting at 0.
type IPCClient struct {
	socketPath string
	logger     *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
	done   chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan json.RawMessage
	readErr   error

	pushes chan Push
}

// NewIPCClient creates a client for socketPath. It connects lazily.
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{
		socketPath: socketPath,
		logger:     log.Default().WithPrefix("ipc-client"),
		pending:    make(map[uint64]chan json.RawMessage),
		pushes:     make(chan Push, 64),
	}
}

// Connect dials the daemon. Connecting twice is a no-op.
func (c *IPCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if c.done != nil {
		return ErrNotConnected
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	return nil
}

// Close closes the connection. Pending calls fail with ErrNotConnected.
func (c *IPCClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	done := c.done
	if done == nil {
		c.done = make(chan struct{})
		close(c.done)
		close(c.pushes)
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// Pushes returns new_notification and notification_closed messages. The
// channel is closed when the connection ends. Pushes are dropped if the
// channel is not drained.
func (c *IPCClient) Pushes() <-chan Push {
	return c.pushes
}

// Subscribe connects if needed and returns Pushes.
func (c *IPCClient) Subscribe(ctx context.Context) (<-chan Push, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.pushes, nil
}

// GetAll returns every live notification in creation order.
func (c *IPCClient) GetAll(ctx context.Context) ([]NotificationView, error) {
	var reply NotificationListReply
	if err := c.call(ctx, map[string]any{"type": TypeGetAll}, TypeNotificationList, &reply); err != nil {
		return nil, err
	}
	return reply.Notifications, nil
}

// InvokeAction invokes action key on notification id.
func (c *IPCClient) InvokeAction(ctx context.Context, id uint32, key string) (bool, error) {
	var reply ActionResultReply
	req := map[string]any{"type": TypeInvokeAction, "id": id, "action": key}
	if err := c.call(ctx, req, TypeActionResult, &reply); err != nil {
		return false, err
	}
	return reply.Success, nil
}

// Dismiss closes notification id as dismissed by the user.
func (c *IPCClient) Dismiss(ctx context.Context, id uint32) (bool, error) {
	var reply DismissResultReply
	req := map[string]any{"type": TypeDismiss, "id": id}
	if err := c.call(ctx, req, TypeDismissResult, &reply); err != nil {
		return false, err
	}
	return reply.Success, nil
}

// Ping reports whether the daemon answers a get_all.
func (c *IPCClient) Ping(ctx context.Context) error {
	_, err := c.GetAll(ctx)
	return err
}

func (c *IPCClient) call(ctx context.Context, req map[string]any, wantType string, out any) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	conn, done := c.conn, c.done
	id := c.nextID
	c.nextID++
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.pendingMu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req[RequestIDKey] = id
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	_, err = conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	select {
	case raw := <-ch:
		return decodeReply(raw, wantType, out)
	case <-done:
		select {
		case raw := <-ch:
			return decodeReply(raw, wantType, out)
		default:
		}
		c.pendingMu.Lock()
		err := c.readErr
		c.pendingMu.Unlock()
		if err == nil {
			err = ErrNotConnected
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeReply(raw json.RawMessage, wantType string, out any) error {
	var head struct {
		Type  string `json:"type"`
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	if head.Type == TypeError {
		return &RemoteError{Code: head.Code, Message: head.Error}
	}
	if head.Type != wantType {
		return fmt.Errorf("unexpected reply type %q, want %q", head.Type, wantType)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", wantType, err)
	}
	return nil
}

func (c *IPCClient) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer close(c.pushes)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			c.logger.Debug("ignoring malformed line", "error", err)
			continue
		}

		if rawID, ok := fields[RequestIDKey]; ok {
			var id uint64
			if err := json.Unmarshal(rawID, &id); err != nil {
				c.logger.Debug("ignoring reply with foreign request id", "id", string(rawID))
				continue
			}
			c.pendingMu.Lock()
			ch := c.pending[id]
			c.pendingMu.Unlock()
			if ch != nil {
				select {
				case ch <- append(json.RawMessage(nil), line...):
				default:
				}
			}
			continue
		}

		var push Push
		if err := json.Unmarshal(line, &push); err != nil {
			continue
		}
		select {
		case c.pushes <- push:
		default:
			c.logger.Debug("push dropped", "type", push.Type)
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrNotConnected
	}
	c.pendingMu.Lock()
	c.readErr = err
	c.pendingMu.Unlock()
}
