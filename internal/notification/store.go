package notification

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultServerTimeout is used for ExpireTimeout == -1 unless configured.
const DefaultServerTimeout = 5 * time.Second

var capabilities = []string{
	"actions",
	"body",
	"body-hyperlinks",
	"body-markup",
	"icon-static",
	"persistence",
}

// Capabilities returns the fixed capability set advertised over D-Bus.
func Capabilities() []string {
	return slices.Clone(capabilities)
}

// UpsertRequest carries the arguments of a Notify call.
type UpsertRequest struct {
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []Action
	Hints         Hints
	ExpireTimeout int32
}

// EventType identifies a store change.
type EventType int

const (
	EventAdded EventType = iota
	EventReplaced
	EventClosed
)

// Event describes an accepted change. Listeners receive it after the store
// lock has been released.
type Event struct {
	Type         EventType
	Notification Notification
	Reason       CloseReason
}

// Listener observes store changes. It must not block for long; it runs on
// the goroutine that performed the mutation.
type Listener func(Event)

// StoreOptions configures a Store.
type StoreOptions struct {
	// DefaultTimeout applies to notifications sent with ExpireTimeout -1.
	// Zero or negative disables expiry for them.
	DefaultTimeout time.Duration
	Logger         *log.Logger
	Now            func() time.Time
}

type record struct {
	Notification
	expiryGen uint64
}

// Store is the single shared mutable notification table. Every mutation is
// serialized on mu; reads take the read lock and return copies.
type Store struct {
	mu      sync.RWMutex
	records map[uint32]*record
	order   []uint32

	ids            *IDAllocator
	expiry         *ExpiryScheduler
	defaultTimeout atomic.Int64
	logger         *log.Logger
	now            func() time.Time

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore creates an empty store with its own id allocator and expiry
// scheduler.
func NewStore(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		records: make(map[uint32]*record),
		ids:     NewIDAllocator(),
		logger:  logger.WithPrefix("store"),
		now:     now,
	}
	s.defaultTimeout.Store(int64(opts.DefaultTimeout))
	s.expiry = NewExpiryScheduler(s.expire, logger)
	return s
}

// OnChange registers a listener for added, replaced and closed notifications.
func (s *Store) OnChange(l Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// SetDefaultTimeout changes the server default timeout for future arming.
func (s *Store) SetDefaultTimeout(d time.Duration) {
	s.defaultTimeout.Store(int64(d))
}

// DefaultTimeout returns the current server default timeout.
func (s *Store) DefaultTimeout() time.Duration {
	return time.Duration(s.defaultTimeout.Load())
}

// Upsert creates a notification, or replaces the Active/Expired record named
// by req.ReplacesID in place. An unknown ReplacesID gets a fresh id. The
// returned bool reports whether an existing record was replaced.
func (s *Store) Upsert(req UpsertRequest) (Notification, bool) {
	now := s.now()

	s.mu.Lock()
	rec, replaced := s.records[req.ReplacesID]
	if req.ReplacesID == 0 {
		replaced = false
	}
	if !replaced {
		rec = &record{Notification: Notification{
			ID:        s.ids.Next(),
			CreatedAt: now,
		}}
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}

	rec.AppName = req.AppName
	rec.AppIcon = req.AppIcon
	rec.Summary = req.Summary
	rec.Body = req.Body
	rec.Actions = slices.Clone(req.Actions)
	rec.Hints = cloneHints(req.Hints)
	rec.Urgency = UrgencyFromHints(req.Hints)
	rec.ExpireTimeout = req.ExpireTimeout
	rec.UpdatedAt = now
	rec.State = StateActive
	rec.LastActionKey = ""

	if d, ok := s.expiryFor(req.ExpireTimeout); ok {
		rec.expiryGen = s.expiry.Arm(rec.ID, d)
	} else {
		s.expiry.Cancel(rec.ID)
		rec.expiryGen = 0
	}
	snapshot := rec.clone()
	s.mu.Unlock()

	ev := Event{Type: EventAdded, Notification: snapshot}
	if replaced {
		ev.Type = EventReplaced
	}
	s.logger.Debug("notification accepted", "id", snapshot.ID, "app", snapshot.AppName, "replaced", replaced)
	s.publish(ev)
	return snapshot, replaced
}

// Close transitions id to Closed. It returns false, without error, when the
// id is unknown or already closed.
func (s *Store) Close(id uint32, reason CloseReason) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	snapshot := s.closeLocked(rec)
	s.mu.Unlock()

	s.logger.Debug("notification closed", "id", id, "reason", reason)
	s.publish(Event{Type: EventClosed, Notification: snapshot, Reason: reason})
	return true
}

// InvokeAction records that action key was activated on id without closing
// it. The dispatcher uses Activate instead.
func (s *Store) InvokeAction(id uint32, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.invokeLocked(id, key)
	return err
}

// Activate invokes action key on id and closes it with ReasonClosed as one
// step, so a concurrent replace either lands before (and is validated) or
// after (and creates a fresh record). It returns the closed record.
func (s *Store) Activate(id uint32, key string) (Notification, error) {
	s.mu.Lock()
	rec, err := s.invokeLocked(id, key)
	if err != nil {
		s.mu.Unlock()
		return Notification{}, err
	}
	snapshot := s.closeLocked(rec)
	s.mu.Unlock()

	s.logger.Debug("notification activated", "id", id, "action", key)
	s.publish(Event{Type: EventClosed, Notification: snapshot, Reason: ReasonClosed})
	return snapshot, nil
}

// invokeLocked validates key against id and records it. s.mu must be held.
func (s *Store) invokeLocked(id uint32, key string) (*record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.HasAction(key) {
		return nil, ErrUnknownAction
	}
	rec.LastActionKey = key
	return rec, nil
}

// closeLocked removes rec. s.mu must be held.
func (s *Store) closeLocked(rec *record) Notification {
	s.expiry.Cancel(rec.ID)
	rec.State = StateClosed
	delete(s.records, rec.ID)
	if i := slices.Index(s.order, rec.ID); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return rec.clone()
}

// Get returns a copy of the live record for id.
func (s *Store) Get(id uint32) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Notification{}, false
	}
	return rec.clone(), true
}

// GetAll returns Active and Expired notifications in creation order.
func (s *Store) GetAll() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].clone())
	}
	return out
}

// Len returns the number of live notifications.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capabilities returns the fixed capability set.
func (s *Store) Capabilities() []string {
	return Capabilities()
}

// Shutdown cancels all pending expiry timers.
func (s *Store) Shutdown() {
	s.expiry.Stop()
}

// expire is the ExpiryScheduler callback. It only moves a record that is
// still Active under the same arming; anything else is a stale fire.
func (s *Store) expire(id uint32, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.State != StateActive || rec.expiryGen != generation {
		return
	}
	rec.State = StateExpired
	s.logger.Debug("notification expired", "id", id)
}

func (s *Store) expiryFor(timeout int32) (time.Duration, bool) {
	switch {
	case timeout == TimeoutNever:
		return 0, false
	case timeout > 0:
		return time.Duration(timeout) * time.Millisecond, true
	default:
		d := s.DefaultTimeout()
		return d, d > 0
	}
}

func (s *Store) publish(ev Event) {
	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func cloneHints(h Hints) Hints {
	if h == nil {
		return Hints{}
	}
	out := make(Hints, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
