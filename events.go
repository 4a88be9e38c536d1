package sntray

import "github.com/godbus/dbus/v5"

// Event is processed by the host's dispatcher. Implementations are
// [ItemRegistered], [ItemUnregistered], [PropertyChanged], [InputEvent], [Expose],
// [WatcherAppeared], [WatcherVanished], [NameLost] and results produced by
// the host's worker.
type Event interface {
	event()
}

// ItemRegistered reports a new item announced by the watcher.
type ItemRegistered struct {
	Service string
	Path    dbus.ObjectPath
}

// ItemUnregistered reports that an item left, either announced by the
// watcher or because its bus name lost its owner.
type ItemUnregistered struct {
	Service string
}

// PropertyChanged reports a change signal (e.g. NewIcon) emitted by an item.
type PropertyChanged struct {
	// Unique connection name of the emitting item.
	Sender string
	Path   dbus.ObjectPath
	Signal string
}

// InputEvent is a pointer button press on the tray window.
type InputEvent struct {
	// Coordinates relative to the tray window.
	EventX, EventY int

	// Coordinates relative to the root window.
	RootX, RootY int

	Button uint8
}

// Expose requests a repaint without any state change.
type Expose struct{}

type (
	WatcherAppeared struct{}
	WatcherVanished struct{}
	NameLost        struct{}
)

// Worker results.
type (
	bootstrapped struct {
		entries []string
		err     error
	}

	itemResolved struct {
		service string
		gen     uint64
		proxy   *ItemProxy
		item    *Item
		err     error
	}

	propertiesFetched struct {
		proxy  *ItemProxy
		update *Update
	}
)

func (ItemRegistered) event()    {}
func (ItemUnregistered) event()  {}
func (PropertyChanged) event()   {}
func (InputEvent) event()        {}
func (Expose) event()            {}
func (WatcherAppeared) event()   {}
func (WatcherVanished) event()   {}
func (NameLost) event()          {}
func (bootstrapped) event()      {}
func (itemResolved) event()      {}
func (propertiesFetched) event() {}
