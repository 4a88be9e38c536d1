package sntray

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestWatcherStateAddItem(t *testing.T) {
	s := watcherState{}

	id, added := s.addItem("org.kde.StatusNotifierItem-10-1", ":1.10")
	assert.Equal(t, added, true)
	assert.Equal(t, id, "org.kde.StatusNotifierItem-10-1/StatusNotifierItem")

	// libappindicator registers an object path on its own connection.
	id, added = s.addItem("/org/ayatana/NotificationItem/app", ":1.11")
	assert.Equal(t, added, true)
	assert.Equal(t, id, ":1.11/org/ayatana/NotificationItem/app")

	_, added = s.addItem("org.kde.StatusNotifierItem-10-1", ":1.10")
	assert.Equal(t, added, false)

	assert.Equal(t, s.items, []string{
		"org.kde.StatusNotifierItem-10-1/StatusNotifierItem",
		":1.11/org/ayatana/NotificationItem/app",
	})
}

func TestWatcherStateRemoveOwner(t *testing.T) {
	s := watcherState{}

	s.addItem("org.kde.StatusNotifierItem-10-1", ":1.10")
	s.addItem("/org/ayatana/NotificationItem/app", ":1.11")
	s.addHost("org.freedesktop.StatusNotifierHost-99")

	removed, host := s.removeOwner(":1.10")
	assert.Equal(t, removed, []string{"org.kde.StatusNotifierItem-10-1/StatusNotifierItem"})
	assert.Equal(t, host, false)

	removed, host = s.removeOwner("org.freedesktop.StatusNotifierHost-99")
	assert.Equal(t, len(removed), 0)
	assert.Equal(t, host, true)

	removed, _ = s.removeOwner(":1.11")
	assert.Equal(t, removed, []string{":1.11/org/ayatana/NotificationItem/app"})
	assert.Equal(t, len(s.items), 0)
}

func TestWatcherStateAddHost(t *testing.T) {
	s := watcherState{}

	assert.Equal(t, s.addHost("org.freedesktop.StatusNotifierHost-1"), true)
	assert.Equal(t, s.addHost("org.freedesktop.StatusNotifierHost-1"), false)
	assert.Equal(t, s.hosts, []string{"org.freedesktop.StatusNotifierHost-1"})
}
