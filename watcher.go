package sntray

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog"
)

const (
	StatusNotifierWatcherInterface = "org.kde.StatusNotifierWatcher"
	StatusNotifierWatcherPath      = "/StatusNotifierWatcher"
)

// Watcher implements [StatusNotifierWatcher]. A tray host normally relies on
// the watcher provided by the desktop; Watcher lets the host run on desktops
// that have none.
//
// [StatusNotifierWatcher]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierWatcher/
type Watcher struct {
	closed  bool
	conn    *dbus.Conn
	props   *prop.Properties
	log     zerolog.Logger
	mu      sync.Mutex
	signals chan *dbus.Signal
	state   watcherState
}

// watcherState is the bookkeeping of a [Watcher], independent of the bus.
type watcherState struct {
	hosts []string

	// Item identifiers in registration order and the unique connection name
	// that registered each of them.
	items  []string
	owners map[string]string
}

// addItem records an item registered by sender. name is either a bus name
// or an object path on sender. It returns the identifier in the
// "<service>/<path>" form and false if it was already registered.
func (s *watcherState) addItem(name, sender string) (string, bool) {
	identifier := name + StatusNotifierItemPath
	if strings.HasPrefix(name, "/") {
		identifier = sender + name
	}

	if slices.Contains(s.items, identifier) {
		return identifier, false
	}

	if s.owners == nil {
		s.owners = make(map[string]string)
	}

	s.items = append(s.items, identifier)
	s.owners[identifier] = sender

	return identifier, true
}

func (s *watcherState) addHost(name string) bool {
	if slices.Contains(s.hosts, name) {
		return false
	}

	s.hosts = append(s.hosts, name)
	return true
}

// removeOwner forgets every item and host owned by name and returns the
// removed item identifiers.
func (s *watcherState) removeOwner(name string) (removedItems []string, removedHost bool) {
	s.items = slices.DeleteFunc(s.items, func(identifier string) bool {
		service, _, _ := strings.Cut(identifier, "/")
		if s.owners[identifier] == name || service == name {
			removedItems = append(removedItems, identifier)
			delete(s.owners, identifier)
			return true
		}

		return false
	})

	hosts := len(s.hosts)
	s.hosts = slices.DeleteFunc(s.hosts, func(host string) bool {
		return host == name
	})

	return removedItems, len(s.hosts) != hosts
}

func NewWatcher(conn *dbus.Conn, log zerolog.Logger) *Watcher {
	return &Watcher{
		closed:  false,
		conn:    conn,
		log:     log.With().Str("component", "watcher").Logger(),
		signals: make(chan *dbus.Signal, 64),
	}
}

// Listen requests the watcher name and exports the watcher object. It returns
// an error wrapping [ErrNameTaken] if another watcher is running.
func (w *Watcher) Listen() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("listen: watcher is closed")
	}

	reply, err := w.conn.RequestName(StatusNotifierWatcherInterface, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", StatusNotifierWatcherInterface, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: %s: %w", StatusNotifierWatcherInterface, ErrNameTaken)
	}

	if err := w.conn.Export(w, StatusNotifierWatcherPath, StatusNotifierWatcherInterface); err != nil {
		return fmt.Errorf("listen: failed to export %s: %w", StatusNotifierWatcherInterface, err)
	}

	w.props, err = prop.Export(w.conn, StatusNotifierWatcherPath, prop.Map{
		StatusNotifierWatcherInterface: map[string]*prop.Prop{
			"RegisteredStatusNotifierItems": {
				Value:    []string{},
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"IsStatusNotifierHostRegistered": {
				Value:    false,
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"ProtocolVersion": {
				Value:    int32(0),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("listen: failed to export properties: %w", err)
	}

	w.conn.Signal(w.signals)
	go w.watchOwners()

	w.log.Info().Msg("StatusNotifierWatcher started")

	return nil
}

// Close releases the watcher name and stops watching registered names.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if _, err := w.conn.ReleaseName(StatusNotifierWatcherInterface); err != nil {
		return err
	}

	for _, host := range w.state.hosts {
		w.conn.RemoveMatchSignal(nameOwnerChangedMatch(host)...)
	}

	for _, owner := range w.state.owners {
		w.conn.RemoveMatchSignal(nameOwnerChangedMatch(owner)...)
	}

	w.conn.RemoveSignal(w.signals)
	close(w.signals)

	w.closed = true

	return nil
}

// RegisterStatusNotifierItem is the D-Bus method called by items.
func (w *Watcher) RegisterStatusNotifierItem(name string, sender dbus.Sender) *dbus.Error {
	w.mu.Lock()
	defer w.mu.Unlock()

	identifier, added := w.state.addItem(name, string(sender))
	if !added {
		return nil
	}

	// Whenever the item disconnects, D-Bus sends NameOwnerChanged with an
	// empty new owner for its unique name.
	w.conn.AddMatchSignal(nameOwnerChangedMatch(string(sender))...)

	w.log.Debug().Str("item", identifier).Msg("item registered")

	w.conn.Emit(StatusNotifierWatcherPath, StatusNotifierWatcherInterface+".StatusNotifierItemRegistered", identifier)
	w.updateProperties()

	return nil
}

// RegisterStatusNotifierHost is the D-Bus method called by hosts.
func (w *Watcher) RegisterStatusNotifierHost(name string) *dbus.Error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.addHost(name) {
		return nil
	}

	w.conn.AddMatchSignal(nameOwnerChangedMatch(name)...)

	w.log.Debug().Str("host", name).Msg("host registered")

	w.conn.Emit(StatusNotifierWatcherPath, StatusNotifierWatcherInterface+".StatusNotifierHostRegistered")
	w.updateProperties()

	return nil
}

func (w *Watcher) watchOwners() {
	for signal := range w.signals {
		if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(signal.Body) < 3 {
			continue
		}

		name, ok := signal.Body[0].(string)
		if !ok {
			continue
		}

		newOwner, ok := signal.Body[2].(string)
		if !ok || newOwner != "" {
			continue
		}

		w.unregister(name)
	}
}

func (w *Watcher) unregister(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	items, host := w.state.removeOwner(name)
	if len(items) == 0 && !host {
		return
	}

	w.conn.RemoveMatchSignal(nameOwnerChangedMatch(name)...)

	for _, identifier := range items {
		w.log.Debug().Str("item", identifier).Msg("item unregistered")
		w.conn.Emit(StatusNotifierWatcherPath, StatusNotifierWatcherInterface+".StatusNotifierItemUnregistered", identifier)
	}

	if host {
		w.conn.Emit(StatusNotifierWatcherPath, StatusNotifierWatcherInterface+".StatusNotifierHostUnregistered")
	}

	w.updateProperties()
}

func (w *Watcher) updateProperties() {
	if w.props == nil {
		return
	}

	w.props.SetMust(StatusNotifierWatcherInterface, "RegisteredStatusNotifierItems", slices.Clone(w.state.items))
	w.props.SetMust(StatusNotifierWatcherInterface, "IsStatusNotifierHostRegistered", len(w.state.hosts) > 0)
}
