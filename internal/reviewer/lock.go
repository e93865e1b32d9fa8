package reviewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/suteetoe/payroll/pkg/apperror"
	"github.com/suteetoe/payroll/prometheus"
	"go.uber.org/zap"
)

// Locker serializes reviewer mutations per company. The returned release
// func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, companyID string) (func(), error)
}

// LocalLocker is an in-process keyed lock for single-instance deployments
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates a keyed lock. wait bounds how long Acquire blocks;
// zero means only the caller's context applies.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, locks: make(map[string]*keyLock)}
}

// Acquire implements Locker
func (l *LocalLocker) Acquire(ctx context.Context, companyID string) (func(), error) {
	defer prometheus.TrackLockWait("local")(time.Now())

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	l.mu.Lock()
	kl, ok := l.locks[companyID]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[companyID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(companyID, kl)
		return nil, fmt.Errorf("%w: waiting for company lock: %v", apperror.ErrDependency, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.unref(companyID, kl)
		})
	}, nil
}

// unref drops the map entry once nobody holds or waits for it
func (l *LocalLocker) unref(companyID string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, companyID)
	}
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultLockPrefix = "payroll:reviewers:lock:"
	lockRetryInterval = 25 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// RedisLocker is a distributed per-company lock for multi-instance
// deployments. The key expires after ttl so a crashed holder cannot wedge a
// company forever.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	log    *zap.Logger
}

// NewRedisLocker creates a lock backed by client
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, log *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: defaultLockPrefix,
		ttl:    ttl,
		wait:   wait,
		log:    log,
	}
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context, companyID string) (func(), error) {
	defer prometheus.TrackLockWait("redis")(time.Now())

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	key := l.prefix + companyID
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: waiting for company lock: %v", apperror.ErrDependency, ctx.Err())
			}
			return nil, fmt.Errorf("%w: acquire company lock: %v", apperror.ErrDependency, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: waiting for company lock: %v", apperror.ErrDependency, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				l.log.Warn("Failed to release company lock", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
