package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// REDIS - Distributed lock shared by several server instances
// =============================================================================

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	// Prefix is prepended to every key.
	Prefix string
	// TTL expires a lock whose holder died. It must exceed the longest
	// transaction run under the lock.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "facility-engine:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, opts: opts, logger: logger.Named("redis-lock")}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	fullKey := r.opts.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return r.releaser(fullKey, token), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		pause := r.opts.RetryInterval
		if pause > remaining {
			pause = remaining
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Redis) releaser(fullKey, token string) Release {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be done; release must still run.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		n, err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Int()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			r.logger.Error("failed to release lock", zap.String("key", fullKey), zap.Error(err))
		case n == 0:
			r.logger.Warn("lock expired before release", zap.String("key", fullKey))
		}
	}
}

// Ping checks connectivity, used at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
