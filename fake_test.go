package sntray

import (
	"context"
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

// fakeBus is an in-memory session bus implementing [Conn].
type fakeBus struct {
	mu sync.Mutex

	// Properties keyed by destination and path, then by "<iface>.<name>".
	props map[string]map[string]any

	// Introspection data keyed by destination and path.
	xml map[string]string

	// Objects whose Introspect blocks until the call context is done.
	stuck map[string]bool

	// Unique connection names of well-known names.
	owners map[string]string

	reply   dbus.RequestNameReply
	calls   []fakeCall
	matches int
	signals chan<- *dbus.Signal
}

type fakeCall struct {
	dest   string
	path   dbus.ObjectPath
	method string
	args   []any
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		props:  make(map[string]map[string]any),
		xml:    make(map[string]string),
		stuck:  make(map[string]bool),
		owners: make(map[string]string),
		reply:  dbus.RequestNameReplyPrimaryOwner,
	}
}

func (b *fakeBus) setProps(dest string, path dbus.ObjectPath, iface string, props map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := dest + string(path)
	if b.props[key] == nil {
		b.props[key] = make(map[string]any)
	}

	for name, value := range props {
		if value == nil {
			delete(b.props[key], iface+"."+name)
			continue
		}

		b.props[key][iface+"."+name] = value
	}
}

func (b *fakeBus) setXML(dest string, path dbus.ObjectPath, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.xml[dest+string(path)] = data
}

func (b *fakeBus) setStuck(dest string, path dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stuck[dest+string(path)] = true
}

func (b *fakeBus) callsTo(method string) []fakeCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	var calls []fakeCall
	for _, c := range b.calls {
		if c.method == method {
			calls = append(calls, c)
		}
	}

	return calls
}

func (b *fakeBus) matchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.matches
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, dest: dest, path: path}
}

func (b *fakeBus) BusObject() dbus.BusObject {
	return b.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
}

func (b *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matches++
	return nil
}

func (b *fakeBus) RemoveMatchSignal(options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matches--
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.signals = ch
}

func (b *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.signals = nil
}

func (b *fakeBus) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return b.reply, nil
}

func (b *fakeBus) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	return dbus.ReleaseNameReplyReleased, nil
}

// fakeObject implements the parts of [dbus.BusObject] used by the package.
// Calling any other method panics.
type fakeObject struct {
	dbus.BusObject

	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) Path() dbus.ObjectPath {
	return o.path
}

func (o *fakeObject) Destination() string {
	return o.dest
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()

	o.bus.calls = append(o.bus.calls, fakeCall{dest: o.dest, path: o.path, method: method, args: args})

	call := &dbus.Call{Destination: o.dest, Path: o.path, Method: method, Args: args}

	switch method {
	case "org.freedesktop.DBus.NameHasOwner":
		_, ok := o.bus.owners[args[0].(string)]
		call.Body = []any{ok}

	case "org.freedesktop.DBus.GetNameOwner":
		owner, ok := o.bus.owners[args[0].(string)]
		if !ok {
			call.Err = errors.New("org.freedesktop.DBus.Error.NameHasNoOwner")
		}
		call.Body = []any{owner}

	case "org.freedesktop.DBus.Introspectable.Introspect":
		if o.bus.stuck[o.dest+string(o.path)] {
			o.bus.mu.Unlock()
			<-ctx.Done()
			o.bus.mu.Lock()

			call.Err = ctx.Err()
			break
		}

		data, ok := o.bus.xml[o.dest+string(o.path)]
		if !ok {
			call.Err = errors.New("org.freedesktop.DBus.Error.UnknownObject")
		}
		call.Body = []any{data}
	}

	return call
}

func (o *fakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	o.bus.mu.Lock()
	o.bus.calls = append(o.bus.calls, fakeCall{dest: o.dest, path: o.path, method: method, args: args})
	o.bus.mu.Unlock()

	call := &dbus.Call{Destination: o.dest, Path: o.path, Method: method, Args: args, Done: ch}
	ch <- call

	return call
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()

	value, ok := o.bus.props[o.dest+string(o.path)][p]
	if !ok {
		return dbus.Variant{}, errors.New("org.freedesktop.DBus.Error.UnknownProperty")
	}

	return dbus.MakeVariant(value), nil
}
