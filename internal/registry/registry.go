// Package registry hands out one shared instance per key, such as one
// telemetry store per data directory, and closes it when the last holder
// releases it.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Info describes a live registry entry.
type Info struct {
	Key      string    `json:"key"`
	Refs     int       `json:"refs"`
	OpenedAt time.Time `json:"opened_at"`
}

type slot[T any] struct {
	ready    chan struct{} // closed once open has returned
	closing  chan struct{} // non-nil while closeFn runs, closed after it returns
	value    T
	err      error
	refs     int
	openedAt time.Time
}

// Registry maps keys to reference-counted instances.
type Registry[T any] struct {
	mu    sync.Mutex
	slots map[string]*slot[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{slots: make(map[string]*slot[T])}
}

// Acquire returns the instance for key, calling open if there is none.
// Concurrent first acquisitions share a single open call. A failed open is
// reported to every waiter and is not cached. If the previous instance for
// key is still closing, Acquire waits for the close to finish before
// opening a new one.
func (r *Registry[T]) Acquire(key string, open func() (T, error)) (T, error) {
	r.mu.Lock()
	for {
		s, ok := r.slots[key]
		if !ok || s.closing == nil {
			break
		}
		r.mu.Unlock()
		<-s.closing
		r.mu.Lock()
	}
	if s, ok := r.slots[key]; ok {
		s.refs++
		r.mu.Unlock()
		<-s.ready
		if s.err != nil {
			var zero T
			return zero, s.err
		}
		return s.value, nil
	}

	s := &slot[T]{ready: make(chan struct{}), refs: 1}
	r.slots[key] = s
	r.mu.Unlock()

	value, err := open()

	r.mu.Lock()
	s.value, s.err = value, err
	if err != nil {
		delete(r.slots, key)
	} else {
		s.openedAt = time.Now()
	}
	r.mu.Unlock()
	close(s.ready)

	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// Release drops one reference to key. When the count reaches zero closeFn
// is called with the instance and the entry is removed once it returns. It
// reports whether the instance was closed.
func (r *Registry[T]) Release(key string, closeFn func(T)) bool {
	r.mu.Lock()
	s, ok := r.slots[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if s.closing != nil {
		r.mu.Unlock()
		return false
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return false
	}
	s.closing = make(chan struct{})
	r.mu.Unlock()

	<-s.ready
	if s.err == nil && closeFn != nil {
		closeFn(s.value)
	}

	r.mu.Lock()
	delete(r.slots, key)
	r.mu.Unlock()
	close(s.closing)
	return true
}

// Keys lists the live keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.slots))
	for k, s := range r.slots {
		if s.closing == nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// List returns a description of every opened entry, sorted by key.
func (r *Registry[T]) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]Info, 0, len(r.slots))
	for k, s := range r.slots {
		if s.openedAt.IsZero() || s.closing != nil {
			continue
		}
		list = append(list, Info{Key: k, Refs: s.refs, OpenedAt: s.openedAt})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}
