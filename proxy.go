package sntray

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// ErrNoItemInterface is returned when a service exposes neither
// StatusNotifierItem interface.
var ErrNoItemInterface = errors.New("no StatusNotifierItem interface")

// itemInterfaces lists the accepted interface names in the order they are
// probed at the well-known path.
var itemInterfaces = []string{
	StatusNotifierItemInterface,
	KDEStatusNotifierItemInterface,
}

type itemField uint16

const (
	fieldCategory itemField = 1 << iota
	fieldID
	fieldTitle
	fieldStatus
	fieldIconName
	fieldIconThemePath
	fieldIconPixmap
	fieldOverlayIconName
	fieldAttentionIconName
	fieldAttentionMovieName
	fieldMenu
	fieldWindowID
	fieldIsMenu

	fieldsAll itemField = 1<<iota - 1
)

// signalFields maps change signals to the properties they invalidate.
// NewToolTip is accepted but nothing is refetched for it.
var signalFields = map[string]itemField{
	"NewTitle":         fieldTitle,
	"NewIcon":          fieldIconName | fieldIconPixmap,
	"NewAttentionIcon": fieldAttentionIconName | fieldAttentionMovieName,
	"NewOverlayIcon":   fieldOverlayIconName,
	"NewToolTip":       0,
	"NewStatus":        fieldStatus,
}

// ItemProxy is the live connection to one StatusNotifierItem. Methods that
// perform IPC block and are meant to be called from the host's worker.
type ItemProxy struct {
	conn    Conn
	object  dbus.BusObject
	service string
	owner   string
	path    dbus.ObjectPath
	iface   string
	log     zerolog.Logger
}

// NewItemProxy locates the StatusNotifierItem interface of service.
//
// The object at path is probed with the freedesktop and then the KDE
// interface name. If neither responds, the object tree of service is searched
// by introspection and the first object exposing either interface is used.
func NewItemProxy(ctx context.Context, conn Conn, service string, path dbus.ObjectPath, introspectTimeout time.Duration, log zerolog.Logger) (*ItemProxy, error) {
	p := &ItemProxy{
		conn:    conn,
		service: service,
		log:     log.With().Str("service", service).Logger(),
	}

	if path == "" {
		path = StatusNotifierItemPath
	}

	for _, iface := range itemInterfaces {
		if p.probe(path, iface) {
			p.bind(path, iface)
			break
		}
	}

	if p.object == nil {
		p.log.Debug().Str("path", string(path)).Msg("item interface not found at well-known path, searching object tree")

		found, iface, err := findItemObject(ctx, conn, service, itemInterfaces, introspectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve item: %w", err)
		}

		if !p.probe(found, iface) {
			return nil, fmt.Errorf("failed to resolve item: %s at %s does not respond", iface, found)
		}

		p.bind(found, iface)
	}

	p.owner = p.resolveOwner()

	return p, nil
}

// probe reports whether the object at path responds to properties of iface.
func (p *ItemProxy) probe(path dbus.ObjectPath, iface string) bool {
	_, err := p.conn.Object(p.service, path).GetProperty(iface + ".Id")
	return err == nil
}

func (p *ItemProxy) bind(path dbus.ObjectPath, iface string) {
	p.path = path
	p.iface = iface
	p.object = p.conn.Object(p.service, path)
	p.log = p.log.With().Str("path", string(path)).Str("interface", iface).Logger()
}

// resolveOwner returns the unique connection name owning the service.
func (p *ItemProxy) resolveOwner() string {
	if strings.HasPrefix(p.service, ":") {
		return p.service
	}

	var owner string

	err := p.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, p.service).Store(&owner)
	if err != nil || owner == "" {
		return p.service
	}

	return owner
}

// Service returns bus name of the item.
func (p *ItemProxy) Service() string {
	return p.service
}

// Owner returns unique connection name of the item.
func (p *ItemProxy) Owner() string {
	return p.owner
}

// Path returns object path the item was found at.
func (p *ItemProxy) Path() dbus.ObjectPath {
	return p.path
}

// Interface returns the interface name the item responds to.
func (p *ItemProxy) Interface() string {
	return p.iface
}

// Snapshot reads the full property set of the item. Properties that cannot be
// read are left at their zero value.
func (p *ItemProxy) Snapshot() *Item {
	item := &Item{
		Service:   p.service,
		Owner:     p.owner,
		Path:      p.path,
		Interface: p.iface,
	}

	p.fetch(fieldsAll, item)

	return item
}

// Refresh refetches the properties invalidated by the change signal member.
// It reports false for signals that are not part of the item interface.
func (p *ItemProxy) Refresh(member string) (*Update, bool) {
	fields, ok := signalFields[member]
	if !ok {
		return nil, false
	}

	u := &Update{Signal: member, fields: fields}
	p.fetch(fields, &u.values)

	return u, true
}

func (p *ItemProxy) fetch(fields itemField, item *Item) {
	if fields&fieldCategory != 0 {
		item.Category = parseCategory(p.stringProperty("Category"))
	}

	if fields&fieldID != 0 {
		item.ID = p.stringProperty("Id")
	}

	if fields&fieldTitle != 0 {
		item.Title = p.stringProperty("Title")
	}

	if fields&fieldStatus != 0 {
		item.Status = parseStatus(p.stringProperty("Status"))
	}

	if fields&fieldIconName != 0 {
		item.IconName = p.stringProperty("IconName")
	}

	if fields&fieldIconThemePath != 0 {
		item.IconThemePath = p.stringProperty("IconThemePath")
	}

	if fields&fieldIconPixmap != 0 {
		item.IconPixmap = p.pixmapProperty("IconPixmap")
	}

	if fields&fieldOverlayIconName != 0 {
		item.OverlayIconName = p.stringProperty("OverlayIconName")
	}

	if fields&fieldAttentionIconName != 0 {
		item.AttentionIconName = p.stringProperty("AttentionIconName")
	}

	if fields&fieldAttentionMovieName != 0 {
		item.AttentionMovieName = p.stringProperty("AttentionMovieName")
	}

	if fields&fieldMenu != 0 {
		item.MenuPath = ""
		if v, ok := p.property("Menu"); ok {
			if menu, ok := v.Value().(dbus.ObjectPath); ok {
				item.MenuPath = menu
			}
		}
	}

	if fields&fieldWindowID != 0 {
		item.WindowID = 0
		if v, ok := p.property("WindowId"); ok {
			switch id := v.Value().(type) {
			case int32:
				item.WindowID = uint32(id)
			case uint32:
				item.WindowID = id
			}
		}
	}

	if fields&fieldIsMenu != 0 {
		item.IsMenu = false
		if v, ok := p.property("ItemIsMenu"); ok {
			item.IsMenu, _ = v.Value().(bool)
		}
	}
}

func (p *ItemProxy) property(name string) (dbus.Variant, bool) {
	v, err := p.object.GetProperty(p.iface + "." + name)
	if err != nil {
		p.log.Debug().Err(err).Str("property", name).Msg("property unavailable")
		return dbus.Variant{}, false
	}

	return v, true
}

func (p *ItemProxy) stringProperty(name string) string {
	v, ok := p.property(name)
	if !ok {
		return ""
	}

	s, _ := v.Value().(string)
	return s
}

func (p *ItemProxy) pixmapProperty(name string) *Pixmap {
	v, ok := p.property(name)
	if !ok {
		return nil
	}

	set, err := NewPixmapSetFromDBusProperty(v.Value())
	if err != nil {
		p.log.Debug().Err(err).Str("property", name).Msg("failed to decode pixmap")
		return nil
	}

	return set.Largest()
}

// Subscribe adds match rules for the change signals of the item and for
// ownership changes of its service.
func (p *ItemProxy) Subscribe() error {
	if err := p.conn.AddMatchSignal(p.signalMatch()...); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.service, err)
	}

	if err := p.conn.AddMatchSignal(nameOwnerChangedMatch(p.service)...); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.service, err)
	}

	return nil
}

// Close removes match rules added by [ItemProxy.Subscribe].
func (p *ItemProxy) Close() error {
	return errors.Join(
		p.conn.RemoveMatchSignal(p.signalMatch()...),
		p.conn.RemoveMatchSignal(nameOwnerChangedMatch(p.service)...),
	)
}

func (p *ItemProxy) signalMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(p.iface),
		dbus.WithMatchSender(p.owner),
		dbus.WithMatchObjectPath(p.path),
	}
}

// Activate asks the item for activation, typically after a left click. x and
// y are screen coordinates.
func (p *ItemProxy) Activate(x, y int32) *dbus.Call {
	return p.call("Activate", x, y)
}

// SecondaryActivate is a less important form of activation, typically after
// a middle click.
func (p *ItemProxy) SecondaryActivate(x, y int32) *dbus.Call {
	return p.call("SecondaryActivate", x, y)
}

// ContextMenu asks the item to show its context menu at x, y.
func (p *ItemProxy) ContextMenu(x, y int32) *dbus.Call {
	return p.call("ContextMenu", x, y)
}

// Scroll emits a scroll event on the item. Valid orientations are
// "horizontal" and "vertical".
func (p *ItemProxy) Scroll(delta int32, orientation string) *dbus.Call {
	return p.call("Scroll", delta, orientation)
}

// Invoke sends the method call for action. It returns nil for [ActionNone].
func (p *ItemProxy) Invoke(action Action, x, y int32) *dbus.Call {
	switch action {
	case ActionActivate:
		return p.Activate(x, y)
	case ActionSecondaryActivate:
		return p.SecondaryActivate(x, y)
	case ActionContextMenu:
		return p.ContextMenu(x, y)
	default:
		return nil
	}
}

// call issues the method asynchronously. The returned call is completed on
// its Done channel.
func (p *ItemProxy) call(method string, args ...any) *dbus.Call {
	return p.object.Go(p.iface+"."+method, 0, make(chan *dbus.Call, 1), args...)
}

// Update holds properties refetched after one change signal.
type Update struct {
	// Member name of the change signal, e.g. "NewIcon".
	Signal string

	fields itemField
	values Item
}

// Apply writes the refetched properties into item. It reports whether an
// icon name changed, in which case icon paths must be resolved again.
func (u *Update) Apply(item *Item) (iconChanged bool) {
	if u.fields&fieldTitle != 0 {
		item.Title = u.values.Title
	}

	if u.fields&fieldStatus != 0 {
		item.Status = u.values.Status
	}

	if u.fields&fieldIconName != 0 {
		iconChanged = iconChanged || item.IconName != u.values.IconName
		item.IconName = u.values.IconName
	}

	if u.fields&fieldIconPixmap != 0 {
		item.IconPixmap = u.values.IconPixmap
	}

	if u.fields&fieldOverlayIconName != 0 {
		item.OverlayIconName = u.values.OverlayIconName
	}

	if u.fields&fieldAttentionIconName != 0 {
		iconChanged = iconChanged || item.AttentionIconName != u.values.AttentionIconName
		item.AttentionIconName = u.values.AttentionIconName
	}

	if u.fields&fieldAttentionMovieName != 0 {
		item.AttentionMovieName = u.values.AttentionMovieName
	}

	return iconChanged
}
