package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentMutationSafetyProperty tests Property: Serialized Mutation.
// *For any* set of concurrent credit/debit deltas on one key, the final value
// SHALL equal the sequential sum.
func TestConcurrentMutationSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")
		accountID := rapid.Int64Range(1, 1000000).Draw(t, "accountID")

		deltas := make([]int64, numOps)
		expected := initial
		for i := range deltas {
			deltas[i] = rapid.Int64Range(-500, 500).Draw(t, "delta")
			expected += deltas[i]
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int64) {
				defer wg.Done()
				_ = ul.WithLockContext(context.Background(), accountID, 0, func() error {
					balance += delta
					return nil
				})
			}(d)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
	})
}

// TestIndependentKeysProperty tests that separate keys are serialized independently.
func TestIndependentKeysProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numKeys := rapid.IntRange(2, 10).Draw(t, "numKeys")
		opsPerKey := rapid.IntRange(5, 20).Draw(t, "opsPerKey")

		kl := New[string]()
		counters := make(map[string]*int, numKeys)
		keys := make([]string, numKeys)
		for i := range keys {
			keys[i] = string(rune('a' + i))
			counters[keys[i]] = new(int)
		}

		var wg sync.WaitGroup
		wg.Add(numKeys * opsPerKey)
		for _, k := range keys {
			for j := 0; j < opsPerKey; j++ {
				go func(key string) {
					defer wg.Done()
					kl.Lock(key)
					defer kl.Unlock(key)
					*counters[key]++
				}(k)
			}
		}
		wg.Wait()

		for _, k := range keys {
			if *counters[k] != opsPerKey {
				t.Fatalf("key %s: expected %d, got %d", k, opsPerKey, *counters[k])
			}
		}
	})
}

// TestLockWithTimeoutSingleHolderProperty tests that a held key admits nobody
// until it is released.
func TestLockWithTimeoutSingleHolderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accountID := rapid.Int64Range(1, 1000000).Draw(t, "accountID")
		attempts := rapid.IntRange(2, 8).Draw(t, "attempts")

		ul := NewUserLock()
		ul.Lock(accountID)

		var acquired atomic.Int32
		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				if ul.LockWithTimeout(context.Background(), accountID, 5*time.Millisecond) {
					acquired.Add(1)
					ul.Unlock(accountID)
				}
			}()
		}
		wg.Wait()

		if acquired.Load() != 0 {
			t.Fatalf("LockWithTimeout succeeded %d times while held", acquired.Load())
		}
		ul.Unlock(accountID)
		if !ul.LockWithTimeout(context.Background(), accountID, time.Second) {
			t.Fatal("lock should be available after release")
		}
		ul.Unlock(accountID)
	})
}

// TestLockManyOrderingProperty tests that overlapping LockMany calls never deadlock
// regardless of argument order.
func TestLockManyOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(1, 50).Draw(t, "a")
		b := rapid.Int64Range(1, 50).Draw(t, "b")
		rounds := rapid.IntRange(5, 30).Draw(t, "rounds")
		ctx := context.Background()

		ul := NewUserLock()
		var total int64

		var wg sync.WaitGroup
		wg.Add(rounds * 2)
		for i := 0; i < rounds; i++ {
			go func() {
				defer wg.Done()
				unlock, err := LockMany(ctx, ul, 0, a, b)
				if err != nil {
					return
				}
				total++
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock, err := LockMany(ctx, ul, 0, b, a)
				if err != nil {
					return
				}
				total++
				unlock()
			}()
		}
		wg.Wait()

		if total != int64(rounds*2) {
			t.Fatalf("expected %d critical sections, got %d", rounds*2, total)
		}
		unlock, err := LockMany(ctx, ul, time.Second, a, b)
		if err != nil {
			t.Fatal("locks should be released")
		}
		unlock()
	})
}

func TestLockManyTimeoutReleasesTakenKeys(t *testing.T) {
	ctx := context.Background()
	ul := NewUserLock()
	ul.Lock(2)

	_, err := LockMany(ctx, ul, 20*time.Millisecond, 3, 1, 2)
	require.ErrorIs(t, err, ErrLockTimeout)

	// 1 was taken before 2 timed out and must be free again
	require.True(t, ul.LockWithTimeout(ctx, 1, time.Second))
	ul.Unlock(1)
	require.True(t, ul.LockWithTimeout(ctx, 3, time.Second))
	ul.Unlock(3)

	ul.Unlock(2)
	unlock, err := LockMany(ctx, ul, time.Second, 3, 1, 2)
	require.NoError(t, err)
	unlock()
}

func TestLockManyFuncOrder(t *testing.T) {
	type pair struct{ a, b int }
	kl := New[pair]()
	byA := func(x, y pair) int { return x.a - y.a }

	unlock, err := LockManyFunc(context.Background(), kl, time.Second, byA, pair{2, 0}, pair{1, 0}, pair{2, 0})
	require.NoError(t, err)
	assert.False(t, kl.LockWithTimeout(context.Background(), pair{1, 0}, 10*time.Millisecond))
	unlock()
	assert.True(t, kl.LockWithTimeout(context.Background(), pair{2, 0}, time.Second))
	kl.Unlock(pair{2, 0})
}

func TestWithLockContextTimeout(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(7)

	err := ul.WithLockContext(context.Background(), 7, 20*time.Millisecond, func() error {
		t.Fatal("fn must not run while the key is held")
		return nil
	})
	require.ErrorIs(t, err, ErrLockTimeout)

	ul.Unlock(7)
	ran := false
	err = ul.WithLockContext(context.Background(), 7, time.Second, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
