package appointments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telemed-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes critical sections per key across API instances.
// The scheduler holds one lock per doctor while it checks and reserves a slot.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func doctorLockKey(doctorID string) string {
	return "lock:doctor-calendar:" + doctorID
}

// RedisLocker implements Locker with SET NX PX and a token-checked unlock.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisLocker returns a locker whose locks expire after ttl and whose
// callers wait up to wait for a busy lock before giving up.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, poll: 25 * time.Millisecond}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := utils.TryLock(ctx, l.client, key, token, l.ttl)
		if err != nil {
			// An unreachable Redis refuses bookings as busy rather than failing them.
			return fmt.Errorf("%w: acquire %s: %v", ErrLockNotAcquired, key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.poll):
		}
	}

	defer func() {
		// Release even if the request context was cancelled mid-section.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = utils.Unlock(releaseCtx, l.client, key, token)
	}()

	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockedCtx)
}

// MemoryLocker implements Locker within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var release chan struct{}
	for release == nil {
		l.mu.Lock()
		busy, ok := l.held[key]
		if !ok {
			release = make(chan struct{})
			l.held[key] = release
		}
		l.mu.Unlock()

		if ok {
			select {
			case <-busy:
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
			}
		}
	}

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		close(release)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
