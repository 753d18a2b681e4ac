package daemon

import (
	"fmt"

	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	dbusName      = "org.freedesktop.Notifications"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusInterface = "org.freedesktop.Notifications"

	// SpecVersion is the Desktop Notifications specification version served.
	SpecVersion = "1.2"
)

// ServerInfo is returned by GetServerInformation.
type ServerInfo struct {
	Name    string
	Vendor  string
	Version string
}

// DBusService serves org.freedesktop.Notifications on the session bus.
//
// It holds no notification state of its own: Notify and CloseNotification
// go straight to the store, and signal delivery goes through the emitter
// that Connect installs. The exported methods returning *dbus.Error are the
// bus methods; godbus ignores everything else.
type DBusService struct {
	store   *notification.Store
	info    ServerInfo
	emitter SignalEmitter
	logger  *log.Logger

	conn *dbus.Conn
}

// NewDBusService creates an unconnected service. Until Connect is called,
// signals are discarded.
func NewDBusService(store *notification.Store, info ServerInfo, logger *log.Logger) *DBusService {
	if logger == nil {
		logger = log.Default()
	}
	return &DBusService{
		store:   store,
		info:    info,
		emitter: NopEmitter{},
		logger:  logger.WithPrefix("dbus"),
	}
}

// Connect claims the well-known name on the session bus and exports the
// service. It returns ErrAlreadyRunning if another server owns the name.
func (s *DBusService) Connect() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	s.emitter = &busEmitter{conn: conn}
	if err := s.export(conn); err != nil {
		_ = conn.Close()
		return err
	}

	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("request name %s: %w", dbusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return fmt.Errorf("%w: %s is owned by another process", ErrAlreadyRunning, dbusName)
	}

	s.conn = conn
	s.logger.Info("registered on session bus", "name", dbusName)
	return nil
}

func (s *DBusService) export(conn *dbus.Conn) error {
	if err := conn.Export(s, dbusPath, dbusInterface); err != nil {
		return fmt.Errorf("export %s: %w", dbusInterface, err)
	}
	node := &introspect.Node{
		Name: string(dbusPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    dbusInterface,
				Methods: introspect.Methods(s),
				Signals: []introspect.Signal{
					{
						Name: "NotificationClosed",
						Args: []introspect.Arg{
							{Name: "id", Type: "u"},
							{Name: "reason", Type: "u"},
						},
					},
					{
						Name: "ActionInvoked",
						Args: []introspect.Arg{
							{Name: "id", Type: "u"},
							{Name: "action_key", Type: "s"},
						},
					},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), dbusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// Emitter returns the signal sink for the dispatcher.
func (s *DBusService) Emitter() SignalEmitter {
	return s.emitter
}

// Close releases the bus name and the connection.
func (s *DBusService) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if _, err := conn.ReleaseName(dbusName); err != nil {
		s.logger.Debug("release name failed", "error", err)
	}
	return conn.Close()
}

// Notify implements org.freedesktop.Notifications.Notify.
func (s *DBusService) Notify(appName string, replacesID uint32, appIcon, summary, body string, actions []string, hints map[string]dbus.Variant, expireTimeout int32) (uint32, *dbus.Error) {
	n, replaced := s.store.Upsert(notification.UpsertRequest{
		AppName:       appName,
		ReplacesID:    replacesID,
		AppIcon:       appIcon,
		Summary:       summary,
		Body:          body,
		Actions:       notification.ParseActions(actions),
		Hints:         hintsFromVariants(hints),
		ExpireTimeout: expireTimeout,
	})
	s.logger.Debug("notify", "id", n.ID, "app", appName, "replaced", replaced, "timeout", expireTimeout)
	return n.ID, nil
}

// CloseNotification implements org.freedesktop.Notifications.CloseNotification.
// Unknown and already closed ids are ignored.
func (s *DBusService) CloseNotification(id uint32) *dbus.Error {
	if !s.store.Close(id, notification.ReasonClosed) {
		return nil
	}
	if err := s.emitter.EmitNotificationClosed(id, notification.ReasonClosed); err != nil {
		s.logger.Warn("emit NotificationClosed failed", "id", id, "error", err)
	}
	return nil
}

// GetCapabilities implements org.freedesktop.Notifications.GetCapabilities.
func (s *DBusService) GetCapabilities() ([]string, *dbus.Error) {
	return s.store.Capabilities(), nil
}

// GetServerInformation implements
// org.freedesktop.Notifications.GetServerInformation.
func (s *DBusService) GetServerInformation() (string, string, string, string, *dbus.Error) {
	return s.info.Name, s.info.Vendor, s.info.Version, SpecVersion, nil
}

func hintsFromVariants(in map[string]dbus.Variant) notification.Hints {
	if len(in) == 0 {
		return nil
	}
	out := make(notification.Hints, len(in))
	for k, v := range in {
		out[k] = v.Value()
	}
	return out
}

// busEmitter emits signals from the exported object path.
type busEmitter struct {
	conn *dbus.Conn
}

func (e *busEmitter) EmitActionInvoked(id uint32, actionKey string) error {
	return e.conn.Emit(dbusPath, dbusInterface+".ActionInvoked", id, actionKey)
}

func (e *busEmitter) EmitNotificationClosed(id uint32, reason notification.CloseReason) error {
	return e.conn.Emit(dbusPath, dbusInterface+".NotificationClosed", id, uint32(reason))
}
