// Package lock keeps two runs from deploying to the same network at once.
package lock

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLocked is returned when another run holds the network's lock.
	ErrLocked = errors.New("network is locked by another run")
	// ErrNotHeld is returned when releasing a lock this process does not
	// hold, e.g. because it expired.
	ErrNotHeld = errors.New("lock not held")
	// ErrLockLost is the cancellation cause of a run whose lock expired
	// or was taken over while it was held.
	ErrLockLost = errors.New("network lock lost")
)

// Locker grants exclusive runs per network.
type Locker interface {
	// Acquire takes the network's lock or fails with ErrLocked.
	Acquire(ctx context.Context, network string) error
	// Release gives the lock back.
	Release(ctx context.Context, network string) error
	// Lost returns a channel closed when a held lock is lost. It is
	// closed immediately for a network this process does not hold.
	Lost(network string) <-chan struct{}
}

// Watch returns a context that is cancelled with ErrLockLost as its cause
// once the lock on network is lost. The returned stop function releases
// the watch.
func Watch(ctx context.Context, l Locker, network string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	lost := l.Lost(network)
	go func() {
		select {
		case <-lost:
			cancel(fmt.Errorf("%w: %s", ErrLockLost, network))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
