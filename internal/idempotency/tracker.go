// Package idempotency keeps a bounded in-memory set of recently enqueued
// export keys so duplicate producer events are rejected without a spool read.
//
// The set is a cache. A miss means "maybe new"; callers must consult the
// spool before treating an item as unseen.
package idempotency

import (
	"container/list"
	"sync"
)

// DefaultCapacity is used when New receives a non-positive capacity.
const DefaultCapacity = 10000

// Tracker is a FIFO-evicted set of keys. Lookups never refresh a key's
// position. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// New returns a tracker holding at most capacity keys.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, min(capacity, 1024)),
	}
}

// Has reports whether key is present.
func (t *Tracker) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[key]
	return ok
}

// Add inserts key, evicting the oldest key when the tracker is full. Adding
// a key that is already present does nothing.
func (t *Tracker) Add(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[key]; ok {
		return
	}
	t.index[key] = t.order.PushBack(key)
	for t.order.Len() > t.capacity {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.index, oldest.Value.(string))
	}
}

// Remove deletes key if present.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.index[key]; ok {
		t.order.Remove(elem)
		delete(t.index, key)
	}
}

// Clear drops every key.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Init()
	clear(t.index)
}

// Size returns the number of keys held.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Capacity returns the maximum number of keys held.
func (t *Tracker) Capacity() int {
	return t.capacity
}
