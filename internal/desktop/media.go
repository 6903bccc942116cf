package desktop

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Media index signal emitted on the session bus after a recording is removed.
const (
	MediaObjectPath = dbus.ObjectPath("/io/github/screenrec/Media")
	MediaInterface  = "io.github.screenrec.Media"
	ScanFileSignal  = MediaInterface + ".ScanFile"
)

// MediaIndexer asks media indexers to rescan a path.
type MediaIndexer interface {
	Rescan(path string) error
}

// Emitter is the part of *dbus.Conn used to broadcast signals.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBusIndexer broadcasts ScanFile(path).
type DBusIndexer struct {
	conn Emitter
}

// NewDBusIndexer emits on the shared session bus connection.
func NewDBusIndexer() (*DBusIndexer, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusIndexer{conn: conn}, nil
}

// NewIndexerWithEmitter is used when a bus connection already exists.
func NewIndexerWithEmitter(conn Emitter) *DBusIndexer {
	return &DBusIndexer{conn: conn}
}

func (d *DBusIndexer) Rescan(path string) error {
	if err := d.conn.Emit(MediaObjectPath, ScanFileSignal, path); err != nil {
		return fmt.Errorf("emit %s: %w", ScanFileSignal, err)
	}
	return nil
}

// NopIndexer drops rescan requests.
type NopIndexer struct{}

func (NopIndexer) Rescan(string) error { return nil }
