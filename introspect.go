package sntray

import (
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// objectNode is a record in the arena built while searching an object tree.
type objectNode struct {
	path       dbus.ObjectPath
	parent     int
	interfaces []string
	children   []int
}

// objectTree is an owned snapshot of the part of a remote object tree that
// has been introspected so far. Nodes refer to each other by index.
type objectTree struct {
	nodes []objectNode
}

func (t *objectTree) add(p dbus.ObjectPath, parent int) int {
	t.nodes = append(t.nodes, objectNode{path: p, parent: parent})
	idx := len(t.nodes) - 1

	if parent >= 0 {
		t.nodes[parent].children = append(t.nodes[parent].children, idx)
	}

	return idx
}

// findItemObject searches the object tree of service depth-first for the
// first object exposing one of the ifaces. Children are visited in
// declaration order. Every Introspect call is bounded by timeout; objects
// that fail to introspect are skipped.
func findItemObject(ctx context.Context, conn Conn, service string, ifaces []string, timeout time.Duration) (dbus.ObjectPath, string, error) {
	tree := &objectTree{}
	stack := []int{tree.add("/", -1)}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := introspectObject(ctx, conn.Object(service, tree.nodes[idx].path), timeout)
		if err != nil {
			continue
		}

		for _, iface := range node.Interfaces {
			tree.nodes[idx].interfaces = append(tree.nodes[idx].interfaces, iface.Name)

			if slices.Contains(ifaces, iface.Name) {
				return tree.nodes[idx].path, iface.Name, nil
			}
		}

		for _, child := range node.Children {
			tree.add(childPath(tree.nodes[idx].path, child.Name), idx)
		}

		// Push in reverse so the first declared child is visited first.
		children := tree.nodes[idx].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return "", "", fmt.Errorf("%w on %s", ErrNoItemInterface, service)
}

func introspectObject(ctx context.Context, obj dbus.BusObject, timeout time.Duration) (*introspect.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var data string

	call := obj.CallWithContext(ctx, "org.freedesktop.DBus.Introspectable.Introspect", 0)
	if call.Err != nil {
		return nil, call.Err
	}

	if err := call.Store(&data); err != nil {
		return nil, err
	}

	var node introspect.Node
	if err := xml.Unmarshal([]byte(data), &node); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", obj.Path(), err)
	}

	return &node, nil
}

func childPath(parent dbus.ObjectPath, name string) dbus.ObjectPath {
	return dbus.ObjectPath(path.Join(string(parent), name))
}
