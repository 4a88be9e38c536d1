package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#000000aa", want: color.NRGBA{A: 0xaa}},
		{in: "#ff8000", want: color.NRGBA{R: 0xff, G: 0x80, A: 0xff}},
		{in: "#fff", want: color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}},
		{in: "000000", wantErr: true},
		{in: "#12345", wantErr: true},
		{in: "#gggggg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.NotEqual(t, err, nil)
				return
			}

			assert.Equal(t, err, nil)
			assert.Equal(t, got, tt.want)
		})
	}
}

func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("SNTRAY_CONFIG", "")

	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	c, err := Load("")
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Tray.IconSize, 24)
	assert.Equal(t, c.Tray.Background, "#000000aa")
	assert.Equal(t, c.Tray.Output, "")
	assert.Equal(t, c.Bus.IntrospectTimeout, 3*time.Second)
	assert.Equal(t, c.Bus.QueueSize, 64)
	assert.Equal(t, c.Bus.EmbeddedWatcher, true)
	assert.Equal(t, c.Log.Level, "info")
	assert.Equal(t, len(c.Icons.Dirs) > 0, true)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "sntray", "config.toml")
	assert.Equal(t, os.MkdirAll(filepath.Dir(path), 0o755), nil)
	assert.Equal(t, os.WriteFile(path, []byte(`
[tray]
icon_size = 32
output = "HDMI-1"

[icons]
theme = "Papirus"
dirs = ["/opt/icons"]

[bus]
introspect_timeout = "500ms"
`), 0o644), nil)

	c, err := Load("")
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Tray.IconSize, 32)
	assert.Equal(t, c.Tray.Output, "HDMI-1")
	assert.Equal(t, c.Icons.Theme, "Papirus")
	assert.Equal(t, c.Icons.Dirs, []string{"/opt/icons"})
	assert.Equal(t, c.Bus.IntrospectTimeout, 500*time.Millisecond)

	// Unset keys keep their defaults.
	assert.Equal(t, c.Tray.Background, "#000000aa")
}

func TestLoadEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("SNTRAY_TRAY_ICON_SIZE", "48")
	t.Setenv("SNTRAY_LOG_LEVEL", "debug")

	c, err := Load("")
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Tray.IconSize, 48)
	assert.Equal(t, c.Log.Level, "debug")
}

func TestLoadExplicitPathMissing(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.NotEqual(t, err, nil)
}

func TestLoadInvalid(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "config.toml")
	assert.Equal(t, os.WriteFile(path, []byte("[tray]\nicon_size = 0\n"), 0o644), nil)

	_, err := Load(path)
	assert.NotEqual(t, err, nil)
}

func TestValidate(t *testing.T) {
	isolate(t)

	c, err := Load("")
	assert.Equal(t, err, nil)

	c.Tray.Background = "black"
	assert.NotEqual(t, c.Validate(), nil)
}
