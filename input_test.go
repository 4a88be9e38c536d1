package sntray

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestActionForButton(t *testing.T) {
	tests := []struct {
		button uint8
		action Action
	}{
		{1, ActionActivate},
		{2, ActionSecondaryActivate},
		{3, ActionContextMenu},
		{4, ActionNone},
		{5, ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			assert.Equal(t, ActionForButton(tt.button), tt.action)
		})
	}
}

func TestInputRouterIndex(t *testing.T) {
	r := NewInputRouter(24)

	idx, ok := r.Index(50, 3)
	assert.Equal(t, ok, true)
	assert.Equal(t, idx, 2)

	idx, ok = r.Index(0, 3)
	assert.Equal(t, ok, true)
	assert.Equal(t, idx, 0)

	_, ok = r.Index(72, 3)
	assert.Equal(t, ok, false)

	_, ok = r.Index(-1, 3)
	assert.Equal(t, ok, false)

	_, ok = r.Index(10, 0)
	assert.Equal(t, ok, false)
}

func TestInputRouterRoute(t *testing.T) {
	r := NewInputRouter(24)
	items := []*Item{{Service: "a"}, {Service: "b"}, {Service: "c"}}

	item, action, ok := r.Route(InputEvent{EventX: 30, Button: 3}, items)
	assert.Equal(t, ok, true)
	assert.Equal(t, item.Service, "b")
	assert.Equal(t, action, ActionContextMenu)

	_, _, ok = r.Route(InputEvent{EventX: 80, Button: 1}, items)
	assert.Equal(t, ok, false)

	// Scroll wheel
	_, _, ok = r.Route(InputEvent{EventX: 10, Button: 4}, items)
	assert.Equal(t, ok, false)
}
