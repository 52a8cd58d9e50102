package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrSourceBusy is returned when another submission from the same source account is in flight.
var ErrSourceBusy = errors.New("source account has a submission in flight")

// SourceLocker serializes submissions per source account so two requests never
// fetch the same sequence number.
type SourceLocker interface {
	// Lock acquires the source's lock without waiting. It returns ErrSourceBusy
	// if the lock is held, and an unlock func otherwise.
	Lock(ctx context.Context, address string) (func(), error)
}

// LocalLocker guards sources within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, address string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[address]; ok {
		return nil, ErrSourceBusy
	}
	l.held[address] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, address)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLocker guards sources across processes with a redsync mutex.
// Expiry must cover the longest submission (the 80s envelope window plus slack).
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	prefix string
}

// NewRedisLocker creates a distributed locker over client.
func NewRedisLocker(client redis.UniversalClient, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = 2 * time.Minute
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		prefix: "stellarpay:lock:source:",
	}
}

func (l *RedisLocker) Lock(ctx context.Context, address string) (func(), error) {
	mutex := l.rs.NewMutex(l.prefix+address,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrSourceBusy
		}
		return nil, fmt.Errorf("acquire source lock: %w", err)
	}

	return func() {
		// The lock expires on its own if this fails.
		_, _ = mutex.UnlockContext(context.Background())
	}, nil
}
