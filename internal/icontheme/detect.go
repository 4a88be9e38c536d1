package icontheme

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// ObjectOpener is implemented by [dbus.Conn].
type ObjectOpener interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Detect returns the icon theme configured for the desktop. It asks the XDG
// desktop portal first and then reads GTK settings files. An empty string is
// returned if neither is available.
func Detect(ctx context.Context, conn ObjectOpener) string {
	if conn != nil {
		if theme := fromPortal(ctx, conn); theme != "" {
			return theme
		}
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(os.Getenv("HOME"), ".config")
	}

	for _, version := range []string{"gtk-4.0", "gtk-3.0"} {
		if theme := fromSettingsFile(filepath.Join(configHome, version, "settings.ini")); theme != "" {
			return theme
		}
	}

	return ""
}

func fromPortal(ctx context.Context, conn ObjectOpener) string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	obj := conn.Object("org.freedesktop.portal.Desktop", "/org/freedesktop/portal/desktop")

	call := obj.CallWithContext(ctx, "org.freedesktop.portal.Settings.Read", 0, "org.gnome.desktop.interface", "icon-theme")
	if call.Err != nil || len(call.Body) < 1 {
		return ""
	}

	// Read returns the value wrapped in one or two variants depending on the
	// portal version.
	value := call.Body[0]
	for {
		v, ok := value.(dbus.Variant)
		if !ok {
			break
		}

		value = v.Value()
	}

	theme, _ := value.(string)
	return theme
}

func fromSettingsFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || strings.TrimSpace(key) != "gtk-icon-theme-name" {
			continue
		}

		return strings.Trim(strings.TrimSpace(value), `"`)
	}

	return ""
}
