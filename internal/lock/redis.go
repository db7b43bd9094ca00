package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes lock keys.
const KeyPrefix = "bridge-deployer:lock:"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker locks networks with expiring Redis keys so that runs on
// different hosts exclude each other. A held lock is extended in the
// background until it is released.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	leases map[string]*lease
}

type lease struct {
	token string
	stop  chan struct{}
	done  chan struct{}
	lost  chan struct{}
}

// NewRedisLocker creates a RedisLocker whose locks expire after ttl unless
// extended.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
		leases: make(map[string]*lease),
	}
}

func key(network string) string {
	return KeyPrefix + network
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, network string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.leases[network]; ok {
		return fmt.Errorf("%w: %s", ErrLocked, network)
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key(network), token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock %s: %w", network, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, network)
	}

	ls := &lease{
		token: token,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		lost:  make(chan struct{}),
	}
	l.leases[network] = ls
	go l.keepAlive(network, ls)
	return nil
}

func (l *RedisLocker) keepAlive(network string, ls *lease) {
	defer close(ls.done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := l.extend(ctx, network, ls.token)
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend lock", slog.String("network", network), slog.String("error", err.Error()))
				continue
			}
			if !held {
				l.logger.Error("lock lost", slog.String("network", network))
				close(ls.lost)
				return
			}
		}
	}
}

func (l *RedisLocker) extend(ctx context.Context, network, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{key(network)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lost implements Locker.
func (l *RedisLocker) Lost(network string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ls, ok := l.leases[network]
	if !ok {
		return closedChan()
	}
	return ls.lost
}

// Release implements Locker. The key is only deleted while it still holds
// this process's token.
func (l *RedisLocker) Release(ctx context.Context, network string) error {
	l.mu.Lock()
	ls, ok := l.leases[network]
	delete(l.leases, network)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, network)
	}
	close(ls.stop)
	<-ls.done

	n, err := releaseScript.Run(ctx, l.client, []string{key(network)}, ls.token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", network, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s expired", ErrNotHeld, network)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
