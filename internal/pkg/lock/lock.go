// Package lock provides keyed locking for concurrent ledger and session operations.
package lock

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyLock provides one mutex per key. Different keys never block each other.
type KeyLock[K comparable] struct {
	locks sync.Map // map[K]*keyMutex
	pool  sync.Pool
}

// UserLock is the per-account lock used by the ledger.
type UserLock = KeyLock[int64]

// New creates a new KeyLock instance.
func New[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

// NewUserLock creates a lock keyed by account ID.
func NewUserLock() *UserLock {
	return New[int64]()
}

func (kl *KeyLock[K]) getLock(key K) *keyMutex {
	if v, ok := kl.locks.Load(key); ok {
		return v.(*keyMutex)
	}

	newLock := kl.pool.Get().(*keyMutex)
	newLock.refCount = 0

	// Another goroutine may have stored a mutex first
	actual, loaded := kl.locks.LoadOrStore(key, newLock)
	if loaded {
		kl.pool.Put(newLock)
	}
	return actual.(*keyMutex)
}

// Lock acquires the lock for a key.
func (kl *KeyLock[K]) Lock(key K) {
	l := kl.getLock(key)
	l.mu.Lock()
	l.refCount++
}

// Unlock releases the lock for a key.
func (kl *KeyLock[K]) Unlock(key K) {
	if v, ok := kl.locks.Load(key); ok {
		l := v.(*keyMutex)
		l.refCount--
		l.mu.Unlock()
	}
}

// LockWithTimeout attempts to acquire the lock until the timeout or ctx expires.
// Returns true if the lock was acquired.
func (kl *KeyLock[K]) LockWithTimeout(ctx context.Context, key K, timeout time.Duration) bool {
	l := kl.getLock(key)

	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		l.refCount++
		return true
	case <-timeoutCtx.Done():
		// The waiter still acquires eventually; hand the mutex straight back.
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return false
	}
}

// WithLockContext executes fn while holding the key's lock, giving up after
// timeout. A timeout <= 0 waits without limit.
func (kl *KeyLock[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		kl.Lock(key)
	} else if !kl.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// LockMany acquires the locks for all keys in ascending order and returns the
// release function. Duplicate keys are locked once. It fails with
// ErrLockTimeout when any key stays held past timeout, releasing whatever it
// already took. A timeout <= 0 waits without limit.
func LockMany[K cmp.Ordered](ctx context.Context, kl *KeyLock[K], timeout time.Duration, keys ...K) (unlock func(), err error) {
	return LockManyFunc(ctx, kl, timeout, cmp.Compare[K], keys...)
}

// LockManyFunc is LockMany for keys ordered by compare.
func LockManyFunc[K comparable](ctx context.Context, kl *KeyLock[K], timeout time.Duration, compare func(a, b K) int, keys ...K) (unlock func(), err error) {
	ordered := slices.Clone(keys)
	slices.SortFunc(ordered, compare)
	ordered = slices.Compact(ordered)

	release := func(held []K) {
		for i := len(held) - 1; i >= 0; i-- {
			kl.Unlock(held[i])
		}
	}
	for i, k := range ordered {
		if timeout <= 0 {
			kl.Lock(k)
			continue
		}
		if !kl.LockWithTimeout(ctx, k, timeout) {
			release(ordered[:i])
			return nil, ErrLockTimeout
		}
	}
	return func() { release(ordered) }, nil
}
