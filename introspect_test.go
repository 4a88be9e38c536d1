package sntray

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFindItemObjectDepthFirst(t *testing.T) {
	bus := newFakeBus()

	bus.setXML(":1.5", "/", `<node><node name="a"/><node name="b"/></node>`)
	bus.setXML(":1.5", "/a", `<node><node name="x"/><node name="y"/></node>`)
	// /a/x fails to introspect and is skipped.
	bus.setXML(":1.5", "/a/y", `<node><interface name="org.freedesktop.StatusNotifierItem"/></node>`)
	bus.setXML(":1.5", "/b", `<node><interface name="org.kde.StatusNotifierItem"/></node>`)

	path, iface, err := findItemObject(context.Background(), bus, ":1.5", itemInterfaces, time.Second)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(path), "/a/y")
	assert.Equal(t, iface, StatusNotifierItemInterface)

	visited := []string{}
	for _, c := range bus.callsTo("org.freedesktop.DBus.Introspectable.Introspect") {
		visited = append(visited, string(c.path))
	}

	assert.Equal(t, visited, []string{"/", "/a", "/a/x", "/a/y"})
}

func TestFindItemObjectSkipsUnresponsiveObject(t *testing.T) {
	bus := newFakeBus()

	bus.setXML(":1.5", "/", `<node><node name="a"/><node name="b"/></node>`)
	bus.setStuck(":1.5", "/a")
	bus.setXML(":1.5", "/b", `<node><interface name="org.kde.StatusNotifierItem"/></node>`)

	start := time.Now()

	path, iface, err := findItemObject(context.Background(), bus, ":1.5", itemInterfaces, 50*time.Millisecond)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(path), "/b")
	assert.Equal(t, iface, KDEStatusNotifierItemInterface)
	assert.Equal(t, time.Since(start) < 2*time.Second, true)
}

func TestFindItemObjectAnyInterface(t *testing.T) {
	bus := newFakeBus()

	bus.setXML(":1.5", "/", `<node>
  <interface name="org.freedesktop.DBus.Introspectable"/>
  <node name="org"/>
</node>`)
	bus.setXML(":1.5", "/org", `<node><node name="ayatana"/></node>`)
	bus.setXML(":1.5", "/org/ayatana", `<node><interface name="org.kde.StatusNotifierItem"/></node>`)

	path, iface, err := findItemObject(context.Background(), bus, ":1.5", itemInterfaces, time.Second)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(path), "/org/ayatana")
	assert.Equal(t, iface, KDEStatusNotifierItemInterface)
}

func TestFindItemObjectNotFound(t *testing.T) {
	bus := newFakeBus()

	bus.setXML(":1.5", "/", `<node><node name="a"/></node>`)
	bus.setXML(":1.5", "/a", `<node><interface name="org.example.Other"/></node>`)

	_, _, err := findItemObject(context.Background(), bus, ":1.5", itemInterfaces, time.Second)
	assert.Equal(t, errors.Is(err, ErrNoItemInterface), true)
}

func TestFindItemObjectCancelled(t *testing.T) {
	bus := newFakeBus()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := findItemObject(ctx, bus, ":1.5", itemInterfaces, time.Second)
	assert.Equal(t, errors.Is(err, context.Canceled), true)
}

func TestChildPath(t *testing.T) {
	assert.Equal(t, string(childPath("/", "a")), "/a")
	assert.Equal(t, string(childPath("/a", "b")), "/a/b")
}
