// Package notify is a small org.freedesktop.Notifications client used by
// the send and close subcommands. It talks to whichever server owns the
// bus name, which is normally the waynotify daemon itself.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	dbusNotifyDest      = "org.freedesktop.Notifications"
	dbusNotifyPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusNotifyInterface = "org.freedesktop.Notifications"
)

// Urgency represents notification priority levels per freedesktop spec.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// ParseUrgency maps low/normal/critical to an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "low":
		return UrgencyLow, nil
	case "", "normal":
		return UrgencyNormal, nil
	case "critical":
		return UrgencyCritical, nil
	default:
		return UrgencyNormal, fmt.Errorf("unknown urgency %q (low, normal, critical)", s)
	}
}

// Notification contains data for a desktop notification.
type Notification struct {
	AppName    string
	Title      string   // Summary text (required)
	Body       string   // Body text, may contain basic markup
	Icon       string   // Path to image file or icon name
	Actions    []string // Flat key, label pairs
	Timeout    int32    // ms, -1 = server default, 0 = never expire
	ReplacesID uint32   // 0 = new notification, >0 = replace existing
	Urgency    Urgency
	Category   string
}

// ServerInfo is the GetServerInformation reply.
type ServerInfo struct {
	Name        string `json:"name"`
	Vendor      string `json:"vendor"`
	Version     string `json:"version"`
	SpecVersion string `json:"spec_version"`
}

// Outcome is what happened to a notification sent with Wait.
type Outcome struct {
	ID        uint32 `json:"id"`
	ActionKey string `json:"action_key,omitempty"`
	Closed    bool   `json:"closed"`
	Reason    uint32 `json:"reason,omitempty"`
}

// Client is a private session bus connection to the notification server.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial opens a private session bus connection.
func Dial() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(dbusNotifyDest, dbusNotifyPath)}, nil
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Notify sends a notification and returns its id.
func (c *Client) Notify(ctx context.Context, n Notification) (uint32, error) {
	if n.Title == "" {
		return 0, errors.New("notification title is required")
	}
	call := c.obj.CallWithContext(ctx,
		dbusNotifyInterface+".Notify",
		0,
		n.AppName,
		n.ReplacesID,
		n.Icon,
		n.Title,
		n.Body,
		nonNil(n.Actions),
		hintsFor(n),
		n.Timeout,
	)
	if call.Err != nil {
		return 0, call.Err
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// CloseNotification closes a notification by id.
func (c *Client) CloseNotification(ctx context.Context, id uint32) error {
	return c.obj.CallWithContext(ctx, dbusNotifyInterface+".CloseNotification", 0, id).Err
}

// ServerInformation queries the server identity.
func (c *Client) ServerInformation(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := c.obj.CallWithContext(ctx, dbusNotifyInterface+".GetServerInformation", 0).
		Store(&info.Name, &info.Vendor, &info.Version, &info.SpecVersion)
	return info, err
}

// Capabilities lists the server capabilities.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	var caps []string
	err := c.obj.CallWithContext(ctx, dbusNotifyInterface+".GetCapabilities", 0).Store(&caps)
	return caps, err
}

// Watch subscribes to the server signals. Call it before Notify so no
// signal for the new id can be missed, then pass the channel to Wait.
func (c *Client) Watch() (<-chan *dbus.Signal, error) {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbusNotifyPath),
		dbus.WithMatchInterface(dbusNotifyInterface),
	); err != nil {
		return nil, fmt.Errorf("add match: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	c.conn.Signal(ch)
	return ch, nil
}

// Wait blocks until notification id is closed, collecting the action that
// closed it if any.
func Wait(ctx context.Context, signals <-chan *dbus.Signal, id uint32) (Outcome, error) {
	out := Outcome{ID: id}
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return out, errors.New("bus connection closed")
			}
			if len(sig.Body) < 2 {
				continue
			}
			sigID, ok := sig.Body[0].(uint32)
			if !ok || sigID != id {
				continue
			}
			switch sig.Name {
			case dbusNotifyInterface + ".ActionInvoked":
				out.ActionKey, _ = sig.Body[1].(string)
			case dbusNotifyInterface + ".NotificationClosed":
				out.Closed = true
				out.Reason, _ = sig.Body[1].(uint32)
				return out, nil
			}
		}
	}
}

func hintsFor(n Notification) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	if n.AppName != "" {
		hints["desktop-entry"] = dbus.MakeVariant(n.AppName)
	}
	if n.Category != "" {
		hints["category"] = dbus.MakeVariant(n.Category)
	}
	return hints
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
