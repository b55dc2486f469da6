package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// compare-and-delete / compare-and-expire so a holder never touches a lock it lost
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Locker hands out single-holder locks shared by every replica.
type Locker struct {
	client    *Client
	keyPrefix string
}

func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "fern:lock:"
	}
	return &Locker{client: client, keyPrefix: keyPrefix}
}

type Lock struct {
	client *Client
	key    string
	token  string
}

// Acquire takes the lock or returns ErrLockNotAcquired when another holder has it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.keyPrefix + name
	token := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock %s", key)
	return &Lock{client: l.client, key: key, token: token}, nil
}

func (lock *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while holding name. It returns ErrLockNotAcquired without
// running fn when the lock is taken. The lock is extended every ttl/2 while fn
// runs, so a pass longer than ttl keeps it; fn's context is cancelled if the
// lock is lost.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", lock.key)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go lock.keepAlive(runCtx, ttl, done, cancel)

	return fn(runCtx)
}

func (lock *Lock) keepAlive(ctx context.Context, ttl time.Duration, done <-chan struct{}, lost context.CancelFunc) {
	interval := ttl / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				lock.client.logger.WithContext(ctx).WithError(err).Errorf("Lost lock %s", lock.key)
				lost()
				return
			}
		}
	}
}
