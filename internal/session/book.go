package session

import (
	"context"
	"errors"
	"time"
)

// ErrExpired is returned when an invitation is taken after its deadline.
var ErrExpired = errors.New("invitation expired")

type ticket[V any] struct {
	val       V
	expiresAt time.Time
}

// Book is a Registry whose entries expire a fixed TTL after issue.
// Expiry is checked against an injectable clock.
type Book[K comparable, V any] struct {
	reg *Registry[K, *ticket[V]]
	ttl time.Duration
	now func() time.Time
}

// NewBook creates a book with the given TTL. now defaults to time.Now.
func NewBook[K comparable, V any](ttl time.Duration, now func() time.Time, opts ...Option) *Book[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Book[K, V]{
		reg: NewRegistry[K, *ticket[V]](opts...),
		ttl: ttl,
		now: now,
	}
}

// TTL returns the lifetime of new entries.
func (b *Book[K, V]) TTL() time.Duration { return b.ttl }

// Issue creates an entry under key. An expired entry under the same key is
// replaced; a live one yields ErrExists. factory receives the deadline.
func (b *Book[K, V]) Issue(key K, factory func(expiresAt time.Time) (V, error)) (V, error) {
	now := b.now()
	_ = b.reg.Update(key, func(t *ticket[V]) (bool, error) {
		return !now.Before(t.expiresAt), nil
	})

	t, err := b.reg.TryCreate(key, func() (*ticket[V], error) {
		expiresAt := now.Add(b.ttl)
		v, err := factory(expiresAt)
		if err != nil {
			return nil, err
		}
		return &ticket[V]{val: v, expiresAt: expiresAt}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return t.val, nil
}

// Take runs fn on a live entry inside its exclusive section and removes the
// entry when fn succeeds. If fn fails the entry stays. An expired entry is
// removed and ErrExpired returned.
func (b *Book[K, V]) Take(key K, fn func(v V) error) (V, error) {
	var (
		out     V
		expired bool
	)
	err := b.reg.Update(key, func(t *ticket[V]) (bool, error) {
		if !b.now().Before(t.expiresAt) {
			expired = true
			out = t.val
			return true, ErrExpired
		}
		if err := fn(t.val); err != nil {
			return false, err
		}
		out = t.val
		return true, nil
	})
	if err != nil && !expired {
		var zero V
		return zero, err
	}
	return out, err
}

// Peek returns a live entry without removing it.
func (b *Book[K, V]) Peek(key K) (V, error) {
	var (
		out V
		err = ErrNotFound
	)
	_ = b.reg.View(key, func(t *ticket[V]) {
		if b.now().Before(t.expiresAt) {
			out, err = t.val, nil
		} else {
			err = ErrExpired
		}
	})
	return out, err
}

// Withdraw removes an entry regardless of expiry.
func (b *Book[K, V]) Withdraw(key K) (V, bool) {
	t, ok := b.reg.Remove(key)
	if !ok {
		var zero V
		return zero, false
	}
	return t.val, true
}

// Sweep removes every entry whose deadline is at or before now and returns them.
func (b *Book[K, V]) Sweep(now time.Time) []V {
	var expired []V
	for _, key := range b.reg.Keys() {
		_ = b.reg.Update(key, func(t *ticket[V]) (bool, error) {
			if now.Before(t.expiresAt) {
				return false, nil
			}
			expired = append(expired, t.val)
			return true, nil
		})
	}
	return expired
}

// Len returns the number of entries, expired ones included until swept.
func (b *Book[K, V]) Len() int { return b.reg.Len() }

// Run sweeps every interval until ctx is done, passing expired entries to onExpired.
func (b *Book[K, V]) Run(ctx context.Context, interval time.Duration, onExpired func([]V)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := b.Sweep(b.now()); len(expired) > 0 && onExpired != nil {
				onExpired(expired)
			}
		}
	}
}
