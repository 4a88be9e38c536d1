package sntray

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Fatal host errors. Host.Run returns them wrapped or as is; the host cannot
// be restarted after any of them.
var (
	ErrNameTaken       = errors.New("name already taken")
	ErrNameLost        = errors.New("host name lost")
	ErrWatcherVanished = errors.New("StatusNotifierWatcher vanished")
	ErrConnClosed      = errors.New("bus connection closed")
)

// Conn is the subset of [dbus.Conn] used by the host.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	BusObject() dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
}

// State is the lifecycle state of a [Host].
type State int

const (
	StateDisconnected State = iota
	StateNameAcquired
	StateWatcherBootstrapped
	StateRunning
	StateNameLost
	StateWatcherVanished
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateNameAcquired:
		return "NameAcquired"
	case StateWatcherBootstrapped:
		return "WatcherBootstrapped"
	case StateRunning:
		return "Running"
	case StateNameLost:
		return "NameLost"
	case StateWatcherVanished:
		return "WatcherVanished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure a [Host].
type Options struct {
	// Size of one icon slot in pixels. Defaults to 24.
	IconSize int

	// Color the tray is cleared with before icons are drawn.
	Background color.Color

	// Surface to draw on. Rendering is disabled when nil.
	Surface Surface

	Resolver IconResolver
	Loader   IconLoader

	// Deadline of each Introspect call made while searching for an item
	// object. Defaults to 3 seconds.
	IntrospectTimeout time.Duration

	// Capacity of event and job queues. Defaults to 64.
	QueueSize int

	// Defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Host implements [StatusNotifierHost]. It keeps track of StatusNotifierItem
// instances via [StatusNotifierWatcher] and renders them on a [Surface].
//
// All state is owned by the goroutine running [Host.Run]. Blocking bus calls
// are executed by a single worker goroutine whose results are fed back to
// Run as events, so a slow item never delays input handling.
//
// [StatusNotifierHost]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierHost/
// [StatusNotifierWatcher]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierWatcher/
type Host struct {
	name string
	conn Conn
	opts Options
	log  zerolog.Logger

	state    State
	registry *Registry
	proxies  map[string]*ItemProxy
	owners   map[string]string
	pending  map[string]uint64
	gen      uint64
	early    []PropertyChanged
	booting  bool
	renderer *Renderer
	router   *InputRouter

	signals chan *dbus.Signal
	events  chan Event
	results chan Event
	jobs    chan func(context.Context)
	backlog []func(context.Context)
	done    chan struct{}
}

// NewHost returns a new [Host].
//
// Parameter id is used as a unique identifier for host name, such as PID.
func NewHost(conn Conn, id any, opts Options) *Host {
	if opts.IconSize <= 0 {
		opts.IconSize = 24
	}

	if opts.Background == nil {
		opts.Background = color.NRGBA{A: 0xaa}
	}

	if opts.IntrospectTimeout <= 0 {
		opts.IntrospectTimeout = 3 * time.Second
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	h := &Host{
		name:     fmt.Sprintf("org.freedesktop.StatusNotifierHost-%v", id),
		conn:     conn,
		opts:     opts,
		log:      log,
		state:    StateDisconnected,
		registry: NewRegistry(),
		proxies:  make(map[string]*ItemProxy),
		owners:   make(map[string]string),
		pending:  make(map[string]uint64),
		router:   NewInputRouter(opts.IconSize),
		signals:  make(chan *dbus.Signal, opts.QueueSize),
		events:   make(chan Event, opts.QueueSize),
		results:  make(chan Event, opts.QueueSize),
		jobs:     make(chan func(context.Context), 1),
		done:     make(chan struct{}),
	}

	if opts.Surface != nil {
		h.renderer = NewRenderer(opts.Surface, opts.Loader, opts.IconSize, opts.Background, log)
	}

	return h
}

// Name returns name of the host service.
func (h *Host) Name() string {
	return h.name
}

// State returns the lifecycle state. It must not be called concurrently with
// [Host.Run].
func (h *Host) State() State {
	return h.state
}

// Items returns copies of registered items in render order. It must not be
// called concurrently with [Host.Run].
func (h *Host) Items() []*Item {
	items := h.registry.Snapshot()
	for i, item := range items {
		items[i] = item.Clone()
	}

	return items
}

// Post queues an event for the dispatcher, typically an [InputEvent] or
// [Expose] from the window system. It reports false once the host stopped.
func (h *Host) Post(ev Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Run requests the host name, registers the host in the watcher and processes
// events until ctx is cancelled or a fatal error occurs.
//
// Run always returns a non-nil error. [ErrWatcherVanished] is returned when
// no watcher owns its name at startup or the watcher goes away later, and
// [ErrNameLost] when the host loses its name.
func (h *Host) Run(ctx context.Context) error {
	defer close(h.done)

	if err := h.acquireName(); err != nil {
		return err
	}

	if err := h.subscribe(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !h.nameHasOwner(StatusNotifierWatcherInterface) {
		h.state = StateWatcherVanished
		h.log.Error().Msg("StatusNotifierWatcher is nowhere to be found")
		return ErrWatcherVanished
	}

	go h.work(ctx)

	h.bootstrap()

	return h.loop(ctx)
}

// Close releases name of the host, unsubscribes from signals and closes all
// item proxies. It must be called after [Host.Run] returned.
func (h *Host) Close() error {
	errs := []error{}

	if h.state != StateDisconnected && h.state != StateNameLost {
		if _, err := h.conn.ReleaseName(h.name); err != nil {
			errs = append(errs, err)
		}
	}

	for _, match := range h.matches() {
		if err := h.conn.RemoveMatchSignal(match...); err != nil {
			errs = append(errs, err)
		}
	}

	h.conn.RemoveSignal(h.signals)

	for service, proxy := range h.proxies {
		if err := proxy.Close(); err != nil {
			errs = append(errs, err)
		}

		delete(h.proxies, service)
	}

	return errors.Join(errs...)
}

func (h *Host) acquireName() error {
	reply, err := h.conn.RequestName(h.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", h.name, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		h.state = StateNameLost
		return fmt.Errorf("listen: %s: %w", h.name, ErrNameTaken)
	}

	h.state = StateNameAcquired
	h.log.Info().Str("name", h.name).Msg("acquired host name")

	return nil
}

func (h *Host) matches() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(StatusNotifierWatcherInterface),
			dbus.WithMatchMember("StatusNotifierItemRegistered"),
		},
		{
			dbus.WithMatchInterface(StatusNotifierWatcherInterface),
			dbus.WithMatchMember("StatusNotifierItemUnregistered"),
		},
		nameOwnerChangedMatch(StatusNotifierWatcherInterface),
	}
}

// subscribe subscribes to signals
//   - org.kde.StatusNotifierWatcher.StatusNotifierItemRegistered
//   - org.kde.StatusNotifierWatcher.StatusNotifierItemUnregistered
//   - org.freedesktop.DBus.NameOwnerChanged for the watcher name
func (h *Host) subscribe() error {
	for _, match := range h.matches() {
		if err := h.conn.AddMatchSignal(match...); err != nil {
			return err
		}
	}

	h.conn.Signal(h.signals)

	return nil
}

func (h *Host) nameHasOwner(name string) bool {
	var hasOwner bool

	err := h.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, name).Store(&hasOwner)
	if err != nil {
		h.log.Warn().Err(err).Str("name", name).Msg("failed to query name owner")
		return false
	}

	return hasOwner
}

func (h *Host) loop(ctx context.Context) error {
	for {
		var (
			jobs chan func(context.Context)
			next func(context.Context)
			ev   Event
		)

		if len(h.backlog) > 0 {
			jobs = h.jobs
			next = h.backlog[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobs <- next:
			h.backlog = h.backlog[1:]
			continue
		case signal, ok := <-h.signals:
			if !ok {
				return ErrConnClosed
			}

			ev = h.translate(signal)
			if ev == nil {
				continue
			}
		case ev = <-h.events:
		case ev = <-h.results:
		}

		if err := h.handle(ev); err != nil {
			return err
		}
	}
}

// work executes blocking bus calls in submission order.
func (h *Host) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.jobs:
			job(ctx)
		}
	}
}

// submit queues job for the worker. The backlog is drained by the loop.
func (h *Host) submit(job func(context.Context)) {
	h.backlog = append(h.backlog, job)
}

// result delivers a worker result to the dispatcher.
func (h *Host) result(ctx context.Context, ev Event) {
	select {
	case h.results <- ev:
	case <-ctx.Done():
	}
}

// translate converts a bus signal to an event. Nil is returned for signals
// the host is not interested in.
func (h *Host) translate(signal *dbus.Signal) Event {
	switch signal.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(signal.Body) < 3 {
			return nil
		}

		name, _ := signal.Body[0].(string)
		newOwner, _ := signal.Body[2].(string)

		if name == StatusNotifierWatcherInterface {
			if newOwner == "" {
				return WatcherVanished{}
			}

			return WatcherAppeared{}
		}

		if newOwner == "" && h.tracked(name) {
			return ItemUnregistered{Service: name}
		}

		return nil

	case "org.freedesktop.DBus.NameLost":
		if name, _ := firstString(signal.Body); name == h.name {
			return NameLost{}
		}

		return nil

	case StatusNotifierWatcherInterface + ".StatusNotifierItemRegistered":
		itemName, err := itemNameFromSignal(signal)
		if err != nil {
			return nil
		}

		service, path, err := parseItemName(itemName)
		if err != nil {
			h.log.Warn().Err(err).Msg("ignoring registration")
			return nil
		}

		return ItemRegistered{Service: service, Path: path}

	case StatusNotifierWatcherInterface + ".StatusNotifierItemUnregistered":
		itemName, err := itemNameFromSignal(signal)
		if err != nil {
			return nil
		}

		service, _, err := parseItemName(itemName)
		if err != nil {
			return nil
		}

		return ItemUnregistered{Service: service}
	}

	iface, member, ok := cutLast(signal.Name, ".")
	if ok && (iface == StatusNotifierItemInterface || iface == KDEStatusNotifierItemInterface) {
		return PropertyChanged{Sender: signal.Sender, Path: signal.Path, Signal: member}
	}

	return nil
}

func (h *Host) tracked(service string) bool {
	_, isPending := h.pending[service]
	_, isProxy := h.proxies[service]
	return isPending || isProxy
}

// handle applies one event. A non-nil error stops the dispatcher.
func (h *Host) handle(ev Event) error {
	switch ev := ev.(type) {
	case WatcherAppeared:
		if h.state == StateNameAcquired && !h.booting {
			h.bootstrap()
		}

	case WatcherVanished:
		h.state = StateWatcherVanished
		h.log.Error().Msg("StatusNotifierWatcher is nowhere to be found")
		return ErrWatcherVanished

	case NameLost:
		h.state = StateNameLost
		return fmt.Errorf("%s: %w", h.name, ErrNameLost)

	case bootstrapped:
		h.booting = false

		if ev.err != nil {
			return fmt.Errorf("bootstrap: %w", ev.err)
		}

		h.state = StateWatcherBootstrapped

		for _, entry := range ev.entries {
			service, path, err := parseItemName(entry)
			if err != nil {
				h.log.Warn().Err(err).Msg("skipping registered item")
				continue
			}

			h.register(service, path)
		}

		h.state = StateRunning
		h.render()

	case ItemRegistered:
		h.register(ev.Service, ev.Path)

	case ItemUnregistered:
		h.unregister(ev.Service)

	case itemResolved:
		h.resolved(ev)

	case PropertyChanged:
		h.propertyChanged(ev)

	case propertiesFetched:
		h.applyUpdate(ev)

	case InputEvent:
		h.input(ev)

	case Expose:
		if h.renderer != nil {
			if err := h.renderer.Repaint(); err != nil {
				h.log.Error().Err(err).Msg("repaint failed")
			}
		}
	}

	return nil
}

// bootstrap registers the host in the watcher and fetches items that are
// already registered.
func (h *Host) bootstrap() {
	h.booting = true

	h.submit(func(ctx context.Context) {
		watcher := h.conn.Object(StatusNotifierWatcherInterface, StatusNotifierWatcherPath)

		call := watcher.CallWithContext(ctx, StatusNotifierWatcherInterface+".RegisterStatusNotifierHost", 0, h.name)
		if call.Err != nil {
			h.result(ctx, bootstrapped{err: fmt.Errorf("failed to register host: %w", call.Err)})
			return
		}

		var entries []string

		property, err := watcher.GetProperty(StatusNotifierWatcherInterface + ".RegisteredStatusNotifierItems")
		if err != nil {
			h.log.Warn().Err(err).Msg("failed to read registered items")
		} else if v, ok := property.Value().([]string); ok {
			entries = v
		}

		h.result(ctx, bootstrapped{entries: entries})
	})
}

// register schedules resolution of a new item.
func (h *Host) register(service string, path dbus.ObjectPath) {
	if _, exists := h.registry.Get(service); exists {
		return
	}

	if _, exists := h.pending[service]; exists {
		return
	}

	h.gen++
	gen := h.gen
	h.pending[service] = gen

	h.log.Info().Str("service", service).Str("path", string(path)).Msg("item registered")

	h.submit(func(ctx context.Context) {
		res := itemResolved{service: service, gen: gen}

		res.proxy, res.err = NewItemProxy(ctx, h.conn, service, path, h.opts.IntrospectTimeout, h.log)
		if res.err == nil {
			// Changes made after the snapshot arrive as signals.
			if err := res.proxy.Subscribe(); err != nil {
				h.log.Warn().Err(err).Str("service", service).Msg("item updates unavailable")
			}

			res.item = res.proxy.Snapshot()
		}

		h.result(ctx, res)
	})
}

func (h *Host) resolved(ev itemResolved) {
	defer h.replayEarly()

	if gen, ok := h.pending[ev.service]; !ok || gen != ev.gen {
		// Unregistered while being resolved.
		if ev.proxy != nil {
			h.closeProxy(ev.proxy)
		}

		return
	}

	delete(h.pending, ev.service)

	if ev.err != nil {
		h.log.Warn().Err(ev.err).Str("service", ev.service).Msg("skipping item")
		return
	}

	h.resolveIcons(ev.item)
	h.registry.Upsert(ev.item)
	h.proxies[ev.service] = ev.proxy
	h.owners[ownerKey(ev.proxy.Owner(), ev.proxy.Path())] = ev.service

	h.log.Debug().
		Str("service", ev.service).
		Str("id", ev.item.ID).
		Str("title", ev.item.Title).
		Str("icon", ev.item.IconName).
		Msg("item added")

	h.render()
}

func (h *Host) unregister(service string) {
	delete(h.pending, service)

	if len(h.pending) == 0 {
		h.early = nil
	}

	if proxy, ok := h.proxies[service]; ok {
		delete(h.proxies, service)
		delete(h.owners, ownerKey(proxy.Owner(), proxy.Path()))
		h.closeProxy(proxy)
	}

	if h.registry.Remove(service) {
		h.log.Info().Str("service", service).Msg("item unregistered")
		h.render()
	}
}

func (h *Host) closeProxy(proxy *ItemProxy) {
	h.submit(func(context.Context) {
		if err := proxy.Close(); err != nil {
			h.log.Debug().Err(err).Str("service", proxy.Service()).Msg("failed to remove item match rules")
		}
	})
}

func (h *Host) propertyChanged(ev PropertyChanged) {
	service, ok := h.owners[ownerKey(ev.Sender, ev.Path)]
	if !ok {
		h.holdEarly(ev)
		return
	}

	proxy := h.proxies[service]

	h.log.Debug().Str("service", service).Str("signal", ev.Signal).Msg("item changed")

	h.submit(func(ctx context.Context) {
		update, ok := proxy.Refresh(ev.Signal)
		if !ok {
			return
		}

		h.result(ctx, propertiesFetched{proxy: proxy, update: update})
	})
}

// holdEarly keeps a change signal of an unknown sender while items are being
// resolved. The sender may be one of them whose snapshot is already taken.
func (h *Host) holdEarly(ev PropertyChanged) {
	if len(h.pending) == 0 {
		return
	}

	for _, held := range h.early {
		if held == ev {
			return
		}
	}

	if len(h.early) >= h.opts.QueueSize {
		h.early = h.early[1:]
	}

	h.early = append(h.early, ev)
}

// replayEarly handles held signals of items that are known by now. The rest
// are kept until no resolution is pending.
func (h *Host) replayEarly() {
	held := h.early
	h.early = nil

	for _, ev := range held {
		if _, ok := h.owners[ownerKey(ev.Sender, ev.Path)]; ok {
			h.propertyChanged(ev)
			continue
		}

		if len(h.pending) > 0 {
			h.early = append(h.early, ev)
		}
	}
}

func (h *Host) applyUpdate(ev propertiesFetched) {
	service := ev.proxy.Service()

	if h.proxies[service] != ev.proxy {
		return
	}

	item, ok := h.registry.Get(service)
	if !ok {
		return
	}

	if ev.update.Apply(item) {
		h.resolveIcons(item)
	}

	h.render()
}

// resolveIcons resolves icon names of item to file paths.
func (h *Host) resolveIcons(item *Item) {
	item.IconPath = h.lookupIcon(item, item.IconName)
	item.AttentionIconPath = h.lookupIcon(item, item.AttentionIconName)
}

func (h *Host) lookupIcon(item *Item, name string) string {
	if name == "" || h.opts.Resolver == nil {
		return ""
	}

	path, err := h.opts.Resolver.Lookup(name, h.opts.IconSize, item.IconThemePath)
	if err != nil {
		h.log.Debug().Err(err).Str("service", item.Service).Str("icon", name).Msg("icon not resolved")
		return ""
	}

	return path
}

func (h *Host) input(ev InputEvent) {
	item, action, ok := h.router.Route(ev, h.registry.Snapshot())
	if !ok {
		return
	}

	proxy, ok := h.proxies[item.Service]
	if !ok {
		return
	}

	h.log.Debug().Str("service", item.Service).Stringer("action", action).Msg("dispatching input")

	call := proxy.Invoke(action, int32(ev.RootX), int32(ev.RootY))
	if call == nil {
		return
	}

	log := h.log
	go func() {
		if c := <-call.Done; c.Err != nil {
			log.Warn().Err(c.Err).Str("service", item.Service).Stringer("action", action).Msg("item call failed")
		}
	}()
}

func (h *Host) render() {
	if h.renderer == nil {
		return
	}

	if err := h.renderer.Render(h.registry.Snapshot()); err != nil {
		h.log.Error().Err(err).Msg("render failed")
	}
}

func nameOwnerChangedMatch(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}

func ownerKey(owner string, path dbus.ObjectPath) string {
	return owner + string(path)
}

func firstString(body []any) (string, bool) {
	if len(body) < 1 {
		return "", false
	}

	s, ok := body[0].(string)
	return s, ok
}

func cutLast(s, sep string) (string, string, bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}

	return s[:idx], s[idx+len(sep):], true
}
