package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface = "org.freedesktop.Notifications"
)

// Notification urgency hint values.
const (
	urgencyLow      byte = 0
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// DBusNotifier talks to the freedesktop notification server. The slot is the
// id returned by the last Notify, passed back as replaces_id.
type DBusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string

	mu      sync.Mutex
	id      uint32
	current Notification

	signals chan *dbus.Signal
	actions chan ActionEvent
	done    chan struct{}
	once    sync.Once
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	n, err := newDBusNotifier(conn, appName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return n, nil
}

func newDBusNotifier(conn *dbus.Conn, appName string) (*DBusNotifier, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notifyPath),
		dbus.WithMatchInterface(notifyIface),
	); err != nil {
		return nil, fmt.Errorf("subscribe to notification signals: %w", err)
	}
	n := &DBusNotifier{
		conn:    conn,
		obj:     conn.Object(notifyDest, notifyPath),
		appName: appName,
		signals: make(chan *dbus.Signal, 16),
		actions: make(chan ActionEvent, 8),
		done:    make(chan struct{}),
	}
	conn.Signal(n.signals)
	go n.loop()
	return n, nil
}

func (n *DBusNotifier) Post(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	actions := make([]string, 0, 2*len(note.Actions)+2)
	if note.DefaultAction != "" {
		actions = append(actions, "default", "")
	}
	for _, b := range note.Actions {
		actions = append(actions, string(b.Action), b.Label)
	}
	hints, timeout := dbusHints(note)

	var id uint32
	call := n.obj.CallWithContext(ctx, notifyIface+".Notify", 0,
		n.appName, n.id, note.Icon, note.Title, note.Body, actions, hints, timeout)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	n.id = id
	n.current = note
	return nil
}

func (n *DBusNotifier) Cancel(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id == 0 {
		return nil
	}
	id := n.id
	n.id = 0
	n.current = Notification{}
	if call := n.obj.CallWithContext(ctx, notifyIface+".CloseNotification", 0, id); call.Err != nil {
		return fmt.Errorf("close notification: %w", call.Err)
	}
	return nil
}

func (n *DBusNotifier) Actions() <-chan ActionEvent { return n.actions }

func (n *DBusNotifier) Close() error {
	n.once.Do(func() {
		close(n.done)
		n.conn.RemoveSignal(n.signals)
	})
	return n.conn.Close()
}

func (n *DBusNotifier) loop() {
	for {
		select {
		case <-n.done:
			return
		case sig, ok := <-n.signals:
			if !ok {
				return
			}
			if ev, ok := n.translate(sig); ok {
				select {
				case n.actions <- ev:
				case <-n.done:
					return
				}
			}
		}
	}
}

// translate maps a signal on our slot to an ActionEvent.
func (n *DBusNotifier) translate(sig *dbus.Signal) (ActionEvent, bool) {
	if len(sig.Body) < 2 {
		return ActionEvent{}, false
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return ActionEvent{}, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if id == 0 || id != n.id {
		return ActionEvent{}, false
	}

	switch sig.Name {
	case notifyIface + ".ActionInvoked":
		key, _ := sig.Body[1].(string)
		return resolveAction(n.current, key)
	case notifyIface + ".NotificationClosed":
		n.id = 0
	}
	return ActionEvent{}, false
}

// resolveAction maps a button key of note to an event.
func resolveAction(note Notification, key string) (ActionEvent, bool) {
	action := Action(key)
	if key == "default" {
		action = note.DefaultAction
	}
	if action == "" {
		return ActionEvent{}, false
	}
	for _, b := range note.Actions {
		if b.Action == action {
			return ActionEvent{Action: action, Path: note.Path}, true
		}
	}
	return ActionEvent{}, false
}

// dbusHints expresses ongoing and dismissible with the resident and urgency
// hints; ongoing notifications never expire.
func dbusHints(note Notification) (map[string]dbus.Variant, int32) {
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(urgencyNormal),
		"desktop-entry": dbus.MakeVariant("screenrec"),
	}
	timeout := int32(-1)
	switch {
	case note.Ongoing:
		hints["resident"] = dbus.MakeVariant(true)
		timeout = 0
	case note.Kind == KindError:
		hints["urgency"] = dbus.MakeVariant(urgencyCritical)
	case note.Kind == KindProcessing:
		hints["urgency"] = dbus.MakeVariant(urgencyLow)
		hints["transient"] = dbus.MakeVariant(true)
	}
	if !note.Dismissible {
		timeout = 0
	}
	return hints, timeout
}
