package sntray

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	// StatusNotifierItemInterface is the interface name defined by the
	// freedesktop specification.
	StatusNotifierItemInterface = "org.freedesktop.StatusNotifierItem"

	// KDEStatusNotifierItemInterface is the interface name used by most
	// implementations in the wild (KDE, libappindicator, Qt).
	KDEStatusNotifierItemInterface = "org.kde.StatusNotifierItem"

	StatusNotifierItemPath = "/StatusNotifierItem"
)

type ItemCategory string

// StatusNotifierItem categories.
const (
	// The item describes the status of a generic application, for instance the
	// current state of a media player.
	ItemCategoryApplicationStatus ItemCategory = "ApplicationStatus"

	// The item describes the status of communication oriented applications, like
	// an instant messenger or an email client.
	ItemCategoryCommunications ItemCategory = "Communications"

	// The item describes services of the system not seen as a stand alone
	// application by the user.
	ItemCategorySystemServices ItemCategory = "SystemServices"

	// The item describes the state and control of a particular hardware, such as
	// an indicator of the battery charge.
	ItemCategoryHardware ItemCategory = "Hardware"
)

// parseCategory maps a Category property value to [ItemCategory]. Unknown
// values are reported as ApplicationStatus.
func parseCategory(s string) ItemCategory {
	switch ItemCategory(s) {
	case ItemCategoryCommunications, ItemCategorySystemServices, ItemCategoryHardware:
		return ItemCategory(s)
	default:
		return ItemCategoryApplicationStatus
	}
}

type ItemStatus string

// StatusNotifierItem statuses.
const (
	// The item doesn't convey important information to the user.
	ItemStatusPassive ItemStatus = "Passive"

	// The item is active and should be shown to the user.
	ItemStatusActive ItemStatus = "Active"

	// The item carries really important information for the user.
	// Visualizations should emphasize items with this status.
	ItemStatusNeedsAttention ItemStatus = "NeedsAttention"
)

// parseStatus maps a Status property value to [ItemStatus]. An empty value
// stays empty so that an unreadable property is distinguishable.
func parseStatus(s string) ItemStatus {
	switch ItemStatus(s) {
	case "":
		return ""
	case ItemStatusPassive, ItemStatusNeedsAttention:
		return ItemStatus(s)
	default:
		return ItemStatusActive
	}
}

// Item is the host-side state of one StatusNotifierItem. Values are owned by
// the [Registry] and only modified on the dispatcher goroutine.
type Item struct {
	// Bus name of the item service. This is the registry key.
	Service string

	// Unique connection name owning Service. Signals carry it as sender.
	Owner string

	// Object path and interface the item was discovered at.
	Path      dbus.ObjectPath
	Interface string

	Category ItemCategory

	// Unique identifier for the application, such as the application name.
	ID string

	// Name that describes the application, can be more descriptive than ID.
	Title string

	Status ItemStatus

	// Windowing-system dependent identifier.
	WindowID uint32

	// IconName is a Freedesktop-compliant icon name. IconPath is the file it
	// resolved to; it takes priority over IconPixmap when set.
	IconName string
	IconPath string

	// Additional directory to search for IconName before the system theme.
	IconThemePath string

	// Largest entry of the IconPixmap property, nil if there is none.
	IconPixmap *Pixmap

	OverlayIconName string

	AttentionIconName string
	AttentionIconPath string

	// Animation that can be used to indicate that item needs attention.
	AttentionMovieName string

	// Whether the item only supports context menu.
	IsMenu bool

	// D-Bus path to an object which implements com.canonical.dbusmenu.
	MenuPath dbus.ObjectPath
}

// Clone returns a shallow copy of item. Pixmap bytes are shared.
func (item *Item) Clone() *Item {
	c := *item
	return &c
}

// parseItemName returns service name and object path of the
// StatusNotifierItem from the form used by the watcher, which is either
// "<service>" or "<service>/<objectPath>", e.g. ":1.185/StatusNotifierItem".
func parseItemName(itemName string) (string, dbus.ObjectPath, error) {
	service, objectPath, ok := strings.Cut(itemName, "/")
	if service == "" {
		return "", "", fmt.Errorf("invalid item name %q", itemName)
	}

	if !ok || objectPath == "" {
		return service, StatusNotifierItemPath, nil
	}

	path := dbus.ObjectPath("/" + objectPath)
	if !path.IsValid() {
		return "", "", fmt.Errorf("invalid object path in item name %q", itemName)
	}

	return service, path, nil
}

// itemNameFromSignal extracts the item name argument of the watcher's
// registration signals.
func itemNameFromSignal(signal *dbus.Signal) (string, error) {
	if len(signal.Body) < 1 {
		return "", fmt.Errorf("signal body is empty")
	}

	itemName, ok := signal.Body[0].(string)
	if !ok {
		return "", fmt.Errorf("invalid format of signal body")
	}

	return itemName, nil
}
