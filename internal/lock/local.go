package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// LocalLocker locks networks with lock files, which excludes runs sharing a
// host and state directory. A file lock is held until released or the
// process exits, so it is never lost.
type LocalLocker struct {
	dir string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewLocalLocker creates a LocalLocker keeping lock files in dir.
func NewLocalLocker(dir string) (*LocalLocker, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &LocalLocker{dir: dir, locks: make(map[string]*flock.Flock)}, nil
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, network string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.locks[network]; ok {
		return fmt.Errorf("%w: %s", ErrLocked, network)
	}

	fl := flock.New(filepath.Join(l.dir, "."+network+".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", network, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, network)
	}
	l.locks[network] = fl
	return nil
}

// Release implements Locker.
func (l *LocalLocker) Release(_ context.Context, network string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fl, ok := l.locks[network]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, network)
	}
	delete(l.locks, network)
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", network, err)
	}
	return nil
}

// Lost implements Locker. The channel of a held lock is never closed.
func (l *LocalLocker) Lost(network string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[network]; !ok {
		return closedChan()
	}
	return nil
}

var _ Locker = (*LocalLocker)(nil)
