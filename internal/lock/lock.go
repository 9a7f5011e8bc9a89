package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained reports that another holder owns the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Locker serializes the register open/close critical section across
// processes. The in-process store already serializes under its mutex, so
// the noop implementation is enough for single-instance deployments.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Release frees a held lock. Safe to call with an expired context.
type Release func(ctx context.Context) error

type NoopLocker struct{}

func (NoopLocker) Acquire(_ context.Context, _ string, _ time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
