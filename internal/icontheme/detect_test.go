package icontheme

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/godbus/dbus/v5"
)

type fakePortal struct {
	dbus.BusObject

	value any
}

func (p *fakePortal) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	if p.value == nil {
		return &dbus.Call{Err: errors.New("org.freedesktop.portal.Error.NotFound")}
	}

	return &dbus.Call{Body: []any{p.value}}
}

type fakeOpener struct {
	portal *fakePortal
}

func (o fakeOpener) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return o.portal
}

func TestDetectPortal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	opener := fakeOpener{portal: &fakePortal{value: dbus.MakeVariant(dbus.MakeVariant("Papirus-Dark"))}}
	assert.Equal(t, Detect(context.Background(), opener), "Papirus-Dark")

	opener = fakeOpener{portal: &fakePortal{value: dbus.MakeVariant("Adwaita")}}
	assert.Equal(t, Detect(context.Background(), opener), "Adwaita")
}

func TestDetectSettingsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	writeFile(t, filepath.Join(dir, "gtk-3.0", "settings.ini"), `[Settings]
gtk-theme-name=Adwaita
gtk-icon-theme-name = "Breeze"
`)

	opener := fakeOpener{portal: &fakePortal{}}
	assert.Equal(t, Detect(context.Background(), opener), "Breeze")
	assert.Equal(t, Detect(context.Background(), nil), "Breeze")

	// gtk-4.0 takes precedence.
	writeFile(t, filepath.Join(dir, "gtk-4.0", "settings.ini"), "[Settings]\ngtk-icon-theme-name=Papirus\n")
	assert.Equal(t, Detect(context.Background(), nil), "Papirus")
}

func TestDetectNothing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	assert.Equal(t, Detect(context.Background(), nil), "")
}
