// Package redislock implements attendance.Locker on Redis so several engine
// replicas serialize punches and scheduler passes on the same day key.
//
// A lock is a key set with SET NX PX holding a random token. Release deletes
// the key only if it still holds that token. The TTL bounds how long a
// crashed holder can block others.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	DefaultTTL       = 30 * time.Second
	DefaultRetryWait = 25 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

type Options struct {
	TTL       time.Duration
	RetryWait time.Duration
	Prefix    string
	Logger    *zap.Logger
}

// Locker implements attendance.Locker using Redis.
type Locker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
	prefix    string
	logger    *zap.Logger
}

var _ attendance.Locker = (*Locker)(nil)

func New(client redis.UniversalClient, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultRetryWait
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Locker{
		client:    client,
		ttl:       opts.TTL,
		retryWait: opts.RetryWait,
		prefix:    opts.Prefix,
		logger:    opts.Logger.Named("redislock"),
	}
}

// Lock polls until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryWait)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", attendance.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		return
	}
	if n == 0 {
		// The TTL expired and someone else may hold the key now.
		l.logger.Warn("lock expired before release", zap.String("key", key), zap.Duration("ttl", l.ttl))
	}
}

// Ping checks the connection, for health checks.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
