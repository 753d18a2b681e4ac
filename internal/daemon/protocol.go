package daemon

import (
	"encoding/json"
	"time"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
)

// Socket message types. Requests and replies are newline-delimited JSON
// objects discriminated by "type".
const (
	TypeGetAll           = "get_all"
	TypeInvokeAction     = "invoke_action"
	TypeDismiss          = "dismiss"
	TypeNotificationList = "notification_list"
	TypeActionResult     = "action_result"
	TypeDismissResult    = "dismiss_result"
	TypeError            = "error"

	// Pushes carry no _request_id.
	TypeNewNotification    = "new_notification"
	TypeNotificationClosed = "notification_closed"
)

// RequestIDKey is the correlation field. Its presence is decided by key
// lookup, never by value: 0 is a valid id.
const RequestIDKey = "_request_id"

// Error codes carried by "error" replies.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// NotificationView is the read-only wire projection of a notification.
type NotificationView struct {
	ID            uint32         `json:"id"`
	AppName       string         `json:"app_name"`
	AppIcon       string         `json:"app_icon"`
	Summary       string         `json:"summary"`
	Body          string         `json:"body"`
	Actions       []string       `json:"actions"`
	Hints         map[string]any `json:"hints"`
	Urgency       string         `json:"urgency"`
	ExpireTimeout int32          `json:"expire_timeout"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	State         string         `json:"state"`
	LastActionKey string         `json:"last_action_key,omitempty"`
}

// ViewOf projects n for the wire. Hints that have no sensible JSON form
// (image data, byte arrays) are left out.
func ViewOf(n notification.Notification) NotificationView {
	return NotificationView{
		ID:            n.ID,
		AppName:       n.AppName,
		AppIcon:       n.AppIcon,
		Summary:       n.Summary,
		Body:          n.Body,
		Actions:       notification.FlattenActions(n.Actions),
		Hints:         jsonHints(n.Hints),
		Urgency:       n.Urgency.String(),
		ExpireTimeout: n.ExpireTimeout,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
		State:         n.State.String(),
		LastActionKey: n.LastActionKey,
	}
}

// ViewsOf projects a list.
func ViewsOf(ns []notification.Notification) []NotificationView {
	out := make([]NotificationView, 0, len(ns))
	for _, n := range ns {
		out = append(out, ViewOf(n))
	}
	return out
}

// ActionPairs regroups the flat action list.
func (v NotificationView) ActionPairs() []notification.Action {
	return notification.ParseActions(v.Actions)
}

func jsonHints(h notification.Hints) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		switch v.(type) {
		case string, bool,
			int8, int16, int32, int64, int,
			uint8, uint16, uint32, uint64, uint,
			float32, float64:
			out[k] = v
		}
	}
	return out
}

// NotificationListReply answers get_all.
type NotificationListReply struct {
	Type          string             `json:"type"`
	Notifications []NotificationView `json:"notifications"`
}

// ActionResultReply answers invoke_action.
type ActionResultReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// DismissResultReply answers dismiss.
type DismissResultReply struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// ErrorReply answers anything the server could not handle.
type ErrorReply struct {
	Type  string `json:"type"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// NewNotificationPush is broadcast for every accepted new or replaced
// notification.
type NewNotificationPush struct {
	Type         string           `json:"type"`
	Notification NotificationView `json:"notification"`
}

// NotificationClosedPush is broadcast when a notification closes.
type NotificationClosedPush struct {
	Type   string `json:"type"`
	ID     uint32 `json:"id"`
	Reason uint32 `json:"reason"`
}

// encodeReply marshals reply and, if the request carried one, splices the
// raw _request_id back in verbatim.
func encodeReply(reply any, requestID json.RawMessage, hasRequestID bool) ([]byte, error) {
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	if !hasRequestID {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[RequestIDKey] = requestID
	return json.Marshal(fields)
}
