package sntray

import "slices"

// Registry is the ordered collection of active items, newest first.
//
// Registry is not safe for concurrent use. [Host] owns it and only touches it
// from the dispatcher goroutine.
type Registry struct {
	items []*Item
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// Upsert inserts item at the front if its service is not registered yet,
// otherwise replaces the existing item without moving it.
func (r *Registry) Upsert(item *Item) {
	if idx := r.index(item.Service); idx >= 0 {
		r.items[idx] = item
		return
	}

	r.items = slices.Insert(r.items, 0, item)
}

// Remove deletes the item registered under service. It reports whether an
// item was removed; removing an unknown service is a no-op.
func (r *Registry) Remove(service string) bool {
	idx := r.index(service)
	if idx < 0 {
		return false
	}

	r.items = slices.Delete(r.items, idx, idx+1)
	return true
}

// Get returns the item registered under service.
func (r *Registry) Get(service string) (*Item, bool) {
	idx := r.index(service)
	if idx < 0 {
		return nil, false
	}

	return r.items[idx], true
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	return len(r.items)
}

// Snapshot returns the items in render order. The slice is a copy; the items
// are not.
func (r *Registry) Snapshot() []*Item {
	return slices.Clone(r.items)
}

func (r *Registry) index(service string) int {
	return slices.IndexFunc(r.items, func(item *Item) bool {
		return item.Service == service
	})
}
