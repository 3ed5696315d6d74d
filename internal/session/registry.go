// Package session holds live game sessions keyed by (chat, user).
//
// A Registry gives every key its own exclusive section: creation, mutation and
// removal of one key are serialized, while different keys proceed in parallel.
package session

import (
	"errors"
	"sync"
)

// Registry errors.
var (
	ErrExists   = errors.New("session already exists")
	ErrNotFound = errors.New("session not found")
)

type entry[V any] struct {
	mu    sync.Mutex
	val   V
	ready bool
	gone  bool
}

// Registry maps keys to values with per-key exclusive access.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	onSize  func(n int)
}

// Option customizes a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	onSize func(n int)
}

// WithSizeHook is called with the new entry count after every insert or delete.
func WithSizeHook(fn func(n int)) Option {
	return func(o *registryOptions) { o.onSize = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any](opts ...Option) *Registry[K, V] {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[K, V]{
		entries: make(map[K]*entry[V]),
		onSize:  o.onSize,
	}
}

// TryCreate reserves key and runs factory while holding the key's section.
// Only one concurrent caller per key can succeed; the rest get ErrExists.
// If factory fails the reservation is dropped and its error returned.
func (r *Registry[K, V]) TryCreate(key K, factory func() (V, error)) (V, error) {
	var zero V

	r.mu.Lock()
	if _, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return zero, ErrExists
	}
	e := &entry[V]{}
	e.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()

	v, err := factory()
	if err != nil {
		e.gone = true
		r.drop(key, e)
		e.mu.Unlock()
		return zero, err
	}

	e.val = v
	e.ready = true
	e.mu.Unlock()

	r.report()
	return v, nil
}

// View runs fn with the value under the key's section. fn must not retain v.
func (r *Registry[K, V]) View(key K, fn func(v V)) error {
	e := r.lookup(key)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || !e.ready {
		return ErrNotFound
	}
	fn(e.val)
	return nil
}

// Update runs fn with exclusive access to the value. If fn returns remove=true
// the entry is deleted before the section is released. fn must not call back
// into the registry for the same key.
func (r *Registry[K, V]) Update(key K, fn func(v V) (remove bool, err error)) error {
	e := r.lookup(key)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || !e.ready {
		return ErrNotFound
	}

	remove, err := fn(e.val)
	if remove {
		e.gone = true
		r.drop(key, e)
	}
	return err
}

// Remove deletes the key. Removing an absent key is a no-op.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	var zero V
	e := r.lookup(key)
	if e == nil {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return zero, false
	}
	e.gone = true
	r.drop(key, e)
	if !e.ready {
		return zero, false
	}
	return e.val, true
}

// Has reports whether a committed or pending entry exists.
func (r *Registry[K, V]) Has(key K) bool {
	return r.lookup(key) != nil
}

// Len returns the number of entries, pending creations included.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns a snapshot of the current keys.
func (r *Registry[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry[K, V]) lookup(key K) *entry[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key]
}

// drop deletes e if it is still the entry stored under key.
func (r *Registry[K, V]) drop(key K, e *entry[V]) {
	r.mu.Lock()
	if r.entries[key] == e {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	r.report()
}

func (r *Registry[K, V]) report() {
	if r.onSize != nil {
		r.onSize(r.Len())
	}
}
