package lock

import "errors"

// ErrLockTimeout is returned by WithLockContext and LockMany when a key stays
// held past the timeout.
var ErrLockTimeout = errors.New("lock acquisition timeout")
