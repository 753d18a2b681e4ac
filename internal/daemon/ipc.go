package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// DefaultClientQueue bounds the outbound messages buffered per client.
	DefaultClientQueue = 256

	maxLineBytes     = 1 << 20
	writeTimeout     = 5 * time.Second
	staleDialTimeout = 250 * time.Millisecond
)

// IPCServer serves the history protocol over a Unix domain socket.
//
// Every connection gets a reader goroutine, one goroutine per request and a
// writer goroutine draining a bounded queue. Replies wait for queue space;
// pushes never do, and a client whose queue is full is disconnected.
type IPCServer struct {
	socketPath string
	listener   net.Listener
	store      *notification.Store
	dispatcher *Dispatcher
	logger     *log.Logger

	clientQueue int

	mu      sync.Mutex
	clients map[string]*ipcConn
	wg      sync.WaitGroup

	started  time.Time
	stopped  atomic.Bool
	stopOnce sync.Once
}

// IPCOption configures an IPCServer.
type IPCOption func(*IPCServer)

// WithClientQueue sets the per-client outbound queue length.
func WithClientQueue(n int) IPCOption {
	return func(s *IPCServer) {
		if n > 0 {
			s.clientQueue = n
		}
	}
}

// NewIPCServer binds socketPath. A stale socket file left by a dead daemon is
// removed; a live one yields ErrAlreadyRunning.
func NewIPCServer(socketPath string, store *notification.Store, dispatcher *Dispatcher, logger *log.Logger, opts ...IPCOption) (*IPCServer, error) {
	if strings.TrimSpace(socketPath) == "" {
		return nil, errors.New("socket path is required")
	}
	if store == nil || dispatcher == nil {
		return nil, errors.New("store and dispatcher are required")
	}
	if logger == nil {
		logger = log.Default()
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &IPCServer{
		socketPath:  socketPath,
		listener:    ln,
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger.WithPrefix("ipc"),
		clientQueue: DefaultClientQueue,
		clients:     make(map[string]*ipcConn),
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func removeStaleSocket(socketPath string) error {
	if _, err := os.Lstat(socketPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat socket: %w", err)
	}
	conn, err := net.DialTimeout("unix", socketPath, staleDialTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: socket %s is in use", ErrAlreadyRunning, socketPath)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

// SocketPath returns the bound path.
func (s *IPCServer) SocketPath() string {
	return s.socketPath
}

// Start accepts connections until ctx is cancelled or Stop is called.
func (s *IPCServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.Info("listening", "socket", s.socketPath)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		c := s.register(ctx, conn)
		if c == nil {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serve(c)
	}
}

// Stop closes the listener and every client, then removes the socket file.
func (s *IPCServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		err = s.listener.Close()

		s.mu.Lock()
		clients := make([]*ipcConn, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			c.close()
		}
		s.wg.Wait()

		if rmErr := os.Remove(s.socketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("remove socket failed", "error", rmErr)
		}
		s.logger.Info("stopped")
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// ClientCount returns the number of connected clients.
func (s *IPCServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Uptime reports how long the server has been up.
func (s *IPCServer) Uptime() time.Duration {
	return time.Since(s.started)
}

// BroadcastNotification pushes new_notification to every client.
func (s *IPCServer) BroadcastNotification(n notification.Notification) {
	s.broadcast(NewNotificationPush{Type: TypeNewNotification, Notification: ViewOf(n)})
}

// BroadcastClosed pushes notification_closed to every client.
func (s *IPCServer) BroadcastClosed(id uint32, reason notification.CloseReason) {
	s.broadcast(NotificationClosedPush{Type: TypeNotificationClosed, ID: id, Reason: uint32(reason)})
}

func (s *IPCServer) broadcast(push any) {
	data, err := json.Marshal(push)
	if err != nil {
		s.logger.Error("marshal push", "error", err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	clients := make([]*ipcConn, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if !c.push(data) {
			s.logger.Warn("client too slow, disconnecting", "client", c.id)
		}
	}
}

func (s *IPCServer) register(ctx context.Context, conn net.Conn) *ipcConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return nil
	}
	c := newIPCConn(ctx, uuid.NewString(), conn, s.clientQueue)
	s.clients[c.id] = c
	s.logger.Debug("client connected", "client", c.id, "clients", len(s.clients))
	return c
}

func (s *IPCServer) unregister(c *ipcConn) {
	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("client disconnected", "client", c.id, "clients", n)
}

func (s *IPCServer) serve(c *ipcConn) {
	defer s.wg.Done()
	defer s.unregister(c)

	var handlers sync.WaitGroup
	go c.writeLoop()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		req := make([]byte, len(line))
		copy(req, line)

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleLine(c, req)
		}()
	}
	if err := scanner.Err(); err != nil {
		if !c.isClosed() {
			s.logger.Debug("read failed", "client", c.id, "error", err)
		}
		// Pending requests of this connection are abandoned.
		c.close()
		handlers.Wait()
		return
	}

	// EOF: the client may only have shut down its write side, so answer
	// everything it sent before hanging up.
	handlers.Wait()
	c.flush(writeTimeout)
}

func (s *IPCServer) handleLine(c *ipcConn, line []byte) {
	if !json.Valid(line) {
		s.replyError(c, nil, false, ErrCodeParse, "parse error: invalid JSON")
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		s.replyError(c, nil, false, ErrCodeInvalidRequest, "invalid request: expected a JSON object")
		return
	}
	reqID, hasID := fields[RequestIDKey]

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			s.replyError(c, reqID, hasID, ErrCodeInvalidRequest, "invalid request: type must be a string")
			return
		}
	}

	switch typ {
	case "":
		s.replyError(c, reqID, hasID, ErrCodeInvalidRequest, "invalid request: missing type")

	case TypeGetAll:
		s.reply(c, reqID, hasID, NotificationListReply{
			Type:          TypeNotificationList,
			Notifications: ViewsOf(s.store.GetAll()),
		})

	case TypeInvokeAction:
		id, err := uint32Field(fields, "id")
		if err != nil {
			s.replyError(c, reqID, hasID, ErrCodeInvalidParams, err.Error())
			return
		}
		action, err := stringField(fields, "action")
		if err != nil {
			s.replyError(c, reqID, hasID, ErrCodeInvalidParams, err.Error())
			return
		}
		err = s.dispatcher.Dispatch(c.ctx, id, action)
		if !s.userResult(c, reqID, hasID, err) {
			return
		}
		s.reply(c, reqID, hasID, ActionResultReply{Type: TypeActionResult, Success: err == nil})

	case TypeDismiss:
		id, err := uint32Field(fields, "id")
		if err != nil {
			s.replyError(c, reqID, hasID, ErrCodeInvalidParams, err.Error())
			return
		}
		err = s.dispatcher.Dismiss(c.ctx, id)
		if !s.userResult(c, reqID, hasID, err) {
			return
		}
		s.reply(c, reqID, hasID, DismissResultReply{Type: TypeDismissResult, Success: err == nil})

	default:
		s.replyError(c, reqID, hasID, ErrCodeMethodNotFound, fmt.Sprintf("unknown request type %q", typ))
	}
}

// userResult reports whether err is an answer for the client (nil or a
// rejected request). Anything else has already been handled.
func (s *IPCServer) userResult(c *ipcConn, reqID json.RawMessage, hasID bool, err error) bool {
	switch {
	case err == nil,
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, notification.ErrUnknownAction):
		return true
	case c.ctx.Err() != nil:
		return false
	default:
		s.logger.Error("request failed", "client", c.id, "error", err)
		s.replyError(c, reqID, hasID, ErrCodeInternal, err.Error())
		return false
	}
}

func (s *IPCServer) reply(c *ipcConn, reqID json.RawMessage, hasID bool, reply any) {
	data, err := encodeReply(reply, reqID, hasID)
	if err != nil {
		s.logger.Error("marshal reply", "client", c.id, "error", err)
		return
	}
	c.send(append(data, '\n'))
}

func (s *IPCServer) replyError(c *ipcConn, reqID json.RawMessage, hasID bool, code int, msg string) {
	s.logger.Debug("request error", "client", c.id, "code", code, "error", msg)
	s.reply(c, reqID, hasID, ErrorReply{Type: TypeError, Code: code, Error: msg})
}

func uint32Field(fields map[string]json.RawMessage, name string) (uint32, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("missing %q", name)
	}
	var v uint32
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%q must be an unsigned 32-bit integer", name)
	}
	return v, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing %q", name)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%q must be a string", name)
	}
	return v, nil
}

// ipcConn is one client connection. ctx is cancelled when it closes.
type ipcConn struct {
	id   string
	conn net.Conn
	out  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	drainOnce  sync.Once
	drain      chan struct{}
	writerDone chan struct{}
}

func newIPCConn(parent context.Context, id string, conn net.Conn, queue int) *ipcConn {
	ctx, cancel := context.WithCancel(parent)
	return &ipcConn{
		id:     id,
		conn:   conn,
		out:    make(chan []byte, queue),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),

		drain:      make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// send queues a reply, waiting for space while the connection is open.
func (c *ipcConn) send(msg []byte) bool {
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	}
}

// push queues a message without waiting. A full queue closes the connection.
func (c *ipcConn) push(msg []byte) bool {
	if c.isClosed() {
		return true
	}
	select {
	case c.out <- msg:
		return true
	default:
		c.close()
		return false
	}
}

func (c *ipcConn) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if !c.write(msg) {
				return
			}
		case <-c.drain:
			for {
				select {
				case msg := <-c.out:
					if !c.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *ipcConn) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(msg); err != nil {
		c.close()
		return false
	}
	return true
}

// flush lets the writer empty the queue, waiting at most timeout, and then
// closes the connection.
func (c *ipcConn) flush(timeout time.Duration) {
	c.drainOnce.Do(func() { close(c.drain) })
	select {
	case <-c.writerDone:
	case <-time.After(timeout):
	}
	c.close()
}

func (c *ipcConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *ipcConn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		_ = c.conn.Close()
	})
}
