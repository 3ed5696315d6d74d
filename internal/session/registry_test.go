package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type counter struct{ n int }

func TestTryCreateConflict(t *testing.T) {
	r := NewRegistry[string, *counter]()

	_, err := r.TryCreate("a", func() (*counter, error) { return &counter{}, nil })
	require.NoError(t, err)

	_, err = r.TryCreate("a", func() (*counter, error) {
		t.Fatal("factory must not run for an existing key")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrExists)
}

func TestTryCreateFactoryFailureDropsReservation(t *testing.T) {
	r := NewRegistry[string, *counter]()
	boom := errors.New("boom")

	_, err := r.TryCreate("a", func() (*counter, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Has("a"))

	_, err = r.TryCreate("a", func() (*counter, error) { return &counter{}, nil })
	assert.NoError(t, err)
}

func TestUpdateAndRemove(t *testing.T) {
	r := NewRegistry[int, *counter]()
	_, err := r.TryCreate(1, func() (*counter, error) { return &counter{}, nil })
	require.NoError(t, err)

	require.NoError(t, r.Update(1, func(c *counter) (bool, error) {
		c.n++
		return false, nil
	}))

	var seen int
	require.NoError(t, r.View(1, func(c *counter) { seen = c.n }))
	assert.Equal(t, 1, seen)

	require.NoError(t, r.Update(1, func(c *counter) (bool, error) { return true, nil }))
	assert.ErrorIs(t, r.Update(1, func(*counter) (bool, error) { return false, nil }), ErrNotFound)

	_, ok := r.Remove(1)
	assert.False(t, ok, "second removal is a no-op")
}

func TestUpdateWaitsForPendingCreate(t *testing.T) {
	r := NewRegistry[int, *counter]()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = r.TryCreate(1, func() (*counter, error) {
			close(started)
			<-release
			return &counter{n: 10}, nil
		})
	}()
	<-started

	done := make(chan int)
	go func() {
		var got int
		_ = r.Update(1, func(c *counter) (bool, error) {
			got = c.n
			return false, nil
		})
		done <- got
	}()

	select {
	case <-done:
		t.Fatal("update ran before the factory finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	assert.Equal(t, 10, <-done)
}

func TestSizeHook(t *testing.T) {
	var last atomic.Int64
	r := NewRegistry[int, int](WithSizeHook(func(n int) { last.Store(int64(n)) }))

	_, _ = r.TryCreate(1, func() (int, error) { return 1, nil })
	_, _ = r.TryCreate(2, func() (int, error) { return 2, nil })
	assert.Equal(t, int64(2), last.Load())

	r.Remove(1)
	assert.Equal(t, int64(1), last.Load())
}

// TestConcurrentCreateSingleWinnerProperty tests Property: One Session Per Key.
// *For any* number of concurrent creates on one key, exactly one SHALL succeed
// and every loser SHALL observe ErrExists.
func TestConcurrentCreateSingleWinnerProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		attempts := rapid.IntRange(2, 50).Draw(rt, "attempts")
		r := NewRegistry[int, int]()

		var (
			wins      atomic.Int32
			conflicts atomic.Int32
			wg        sync.WaitGroup
		)
		start := make(chan struct{})
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := r.TryCreate(7, func() (int, error) { return i, nil })
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrExists):
					conflicts.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			rt.Fatalf("expected one winner, got %d", wins.Load())
		}
		if int(conflicts.Load()) != attempts-1 {
			rt.Fatalf("expected %d conflicts, got %d", attempts-1, conflicts.Load())
		}
	})
}

// TestDistinctKeysIndependentProperty tests that creations on distinct keys never conflict.
func TestDistinctKeysIndependentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.IntRange(1, 40).Draw(rt, "keys")
		r := NewRegistry[int, int]()

		var wg sync.WaitGroup
		errs := make(chan error, keys)
		wg.Add(keys)
		for k := 0; k < keys; k++ {
			go func(k int) {
				defer wg.Done()
				if _, err := r.TryCreate(k, func() (int, error) { return k, nil }); err != nil {
					errs <- err
				}
			}(k)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			rt.Fatalf("unexpected error: %v", err)
		}
		if r.Len() != keys {
			rt.Fatalf("expected %d entries, got %d", keys, r.Len())
		}
	})
}
