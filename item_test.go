package sntray

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/godbus/dbus/v5"
)

func TestParseItemName(t *testing.T) {
	tests := []struct {
		name    string
		service string
		path    dbus.ObjectPath
		wantErr bool
	}{
		{name: "org.kde.StatusNotifierItem-1234-1", service: "org.kde.StatusNotifierItem-1234-1", path: "/StatusNotifierItem"},
		{name: ":1.185/StatusNotifierItem", service: ":1.185", path: "/StatusNotifierItem"},
		{name: ":1.42/org/ayatana/NotificationItem/nm_applet", service: ":1.42", path: "/org/ayatana/NotificationItem/nm_applet"},
		{name: ":1.42/", service: ":1.42", path: "/StatusNotifierItem"},
		{name: "/StatusNotifierItem", wantErr: true},
		{name: "", wantErr: true},
		{name: ":1.42/bad path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, path, err := parseItemName(tt.name)
			if tt.wantErr {
				assert.NotEqual(t, err, nil)
				return
			}

			assert.Equal(t, err, nil)
			assert.Equal(t, service, tt.service)
			assert.Equal(t, path, tt.path)
		})
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, parseStatus("NeedsAttention"), ItemStatusNeedsAttention)
	assert.Equal(t, parseStatus("Passive"), ItemStatusPassive)
	assert.Equal(t, parseStatus("Whatever"), ItemStatusActive)
	assert.Equal(t, parseStatus(""), ItemStatus(""))
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, parseCategory("Hardware"), ItemCategoryHardware)
	assert.Equal(t, parseCategory(""), ItemCategoryApplicationStatus)
}

func TestItemNameFromSignal(t *testing.T) {
	name, err := itemNameFromSignal(&dbus.Signal{Body: []any{":1.5/StatusNotifierItem"}})
	assert.Equal(t, err, nil)
	assert.Equal(t, name, ":1.5/StatusNotifierItem")

	_, err = itemNameFromSignal(&dbus.Signal{})
	assert.NotEqual(t, err, nil)

	_, err = itemNameFromSignal(&dbus.Signal{Body: []any{int32(1)}})
	assert.NotEqual(t, err, nil)
}
