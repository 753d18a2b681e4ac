// Package notification owns the authoritative notification table and every
// lifecycle transition a notification goes through.
//
// A notification is created Active by Upsert, may become Expired when its
// popup timer fires, and becomes Closed only through an explicit close or a
// completed action. Expired notifications stay listed and actionable; Closed
// ones are gone for good.
package notification

import (
	"errors"
	"time"
)

// State is the lifecycle state of a notification.
type State int

const (
	// StateActive is a live notification whose popup may still be showing.
	StateActive State = iota
	// StateExpired is a notification whose popup timed out. It is still
	// listed and its actions can still be invoked.
	StateExpired
	// StateClosed is terminal.
	StateClosed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason is the reason code carried by the NotificationClosed signal.
type CloseReason uint32

const (
	// ReasonExpired is defined by the Desktop Notifications spec. The daemon
	// never emits it: expiry only hides the popup, it does not close.
	ReasonExpired CloseReason = 1
	// ReasonDismissed means the user dismissed the notification.
	ReasonDismissed CloseReason = 2
	// ReasonClosed means CloseNotification was called or an action completed.
	ReasonClosed CloseReason = 3
	// ReasonUndefined is reserved.
	ReasonUndefined CloseReason = 4
)

// String returns a human-readable reason.
func (r CloseReason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonDismissed:
		return "dismissed"
	case ReasonClosed:
		return "closed"
	case ReasonUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// Urgency classifies notification priority.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// String returns the wire name of the urgency.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Timeout sentinels for ExpireTimeout.
const (
	TimeoutServerDefault int32 = -1
	TimeoutNever         int32 = 0
)

// DefaultActionKey is the key activated when the notification itself is clicked.
const DefaultActionKey = "default"

// Sentinel errors returned by Store.InvokeAction and Store.Activate.
var (
	ErrNotFound      = errors.New("notification not found")
	ErrUnknownAction = errors.New("unknown action")
)

// Action is one (key, label) pair registered by the sending application.
type Action struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Hints holds the decoded hint map sent with a notification.
type Hints map[string]any

// Notification is a value snapshot of one record. Callers outside the store
// only ever hold copies.
type Notification struct {
	ID            uint32
	AppName       string
	AppIcon       string
	Summary       string
	Body          string
	Actions       []Action
	Hints         Hints
	Urgency       Urgency
	ExpireTimeout int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
	State         State
	LastActionKey string
}

// HasAction reports whether key is registered on the notification.
func (n Notification) HasAction(key string) bool {
	for _, a := range n.Actions {
		if a.Key == key {
			return true
		}
	}
	return false
}

// clone returns a deep enough copy that the caller cannot reach store memory.
func (n Notification) clone() Notification {
	out := n
	if n.Actions != nil {
		out.Actions = append([]Action(nil), n.Actions...)
	}
	if n.Hints != nil {
		out.Hints = make(Hints, len(n.Hints))
		for k, v := range n.Hints {
			out.Hints[k] = v
		}
	}
	return out
}

// ParseActions converts the flat D-Bus action list [key, label, key, label...]
// into pairs. A trailing key without a label gets the key as its label.
func ParseActions(flat []string) []Action {
	if len(flat) == 0 {
		return nil
	}
	actions := make([]Action, 0, (len(flat)+1)/2)
	for i := 0; i < len(flat); i += 2 {
		label := flat[i]
		if i+1 < len(flat) {
			label = flat[i+1]
		}
		actions = append(actions, Action{Key: flat[i], Label: label})
	}
	return actions
}

// FlattenActions is the inverse of ParseActions.
func FlattenActions(actions []Action) []string {
	flat := make([]string, 0, len(actions)*2)
	for _, a := range actions {
		flat = append(flat, a.Key, a.Label)
	}
	return flat
}

// UrgencyFromHints reads the "urgency" hint. Senders disagree on the integer
// width, so any integer type is accepted; anything else is normal.
func UrgencyFromHints(h Hints) Urgency {
	raw, ok := h["urgency"]
	if !ok {
		return UrgencyNormal
	}
	var v int64
	switch x := raw.(type) {
	case byte:
		v = int64(x)
	case int8:
		v = int64(x)
	case int16:
		v = int64(x)
	case uint16:
		v = int64(x)
	case int32:
		v = int64(x)
	case uint32:
		v = int64(x)
	case int:
		v = int64(x)
	case int64:
		v = x
	case uint64:
		v = int64(x)
	case float64:
		v = int64(x)
	default:
		return UrgencyNormal
	}
	switch v {
	case 0:
		return UrgencyLow
	case 2:
		return UrgencyCritical
	default:
		return UrgencyNormal
	}
}
