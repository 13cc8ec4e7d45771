package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/lock"
)

func TestKeyed_SecondAcquireTimesOut(t *testing.T) {
	// GIVEN: A held lock on "facility:a"
	k := lock.NewKeyed()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "facility:a", time.Second)
	require.NoError(t, err)

	// WHEN: Another caller waits briefly for the same key
	_, err = k.Acquire(ctx, "facility:a", 20*time.Millisecond)

	// THEN: It times out
	assert.ErrorIs(t, err, lock.ErrTimeout)

	release()
	release() // second call is a no-op

	// AND: The key is free again
	release2, err := k.Acquire(ctx, "facility:a", 20*time.Millisecond)
	require.NoError(t, err)
	release2()
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_DifferentKeysDoNotBlock(t *testing.T) {
	k := lock.NewKeyed()
	ctx := context.Background()

	ra, err := k.Acquire(ctx, "facility:a", time.Second)
	require.NoError(t, err)
	defer ra()

	rb, err := k.Acquire(ctx, "facility:b", 10*time.Millisecond)
	require.NoError(t, err)
	rb()
}

func TestKeyed_ContextCancelled(t *testing.T) {
	k := lock.NewKeyed()
	release, err := k.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = k.Acquire(ctx, "x", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyed_MutualExclusion(t *testing.T) {
	// GIVEN: 50 goroutines incrementing a counter under the same key
	k := lock.NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "shared", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	// THEN: Never more than one holder at a time
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Len())
}

func TestRedis_AcquireRelease(t *testing.T) {
	addr := os.Getenv("FACILITY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FACILITY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	l := lock.NewRedis(client, lock.RedisOptions{Prefix: "test-lock:" + t.Name() + ":", TTL: 5 * time.Second})
	ctx := context.Background()
	require.NoError(t, l.Ping(ctx))

	release, err := l.Acquire(ctx, "facility:a", time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "facility:a", 50*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout)

	release()

	release2, err := l.Acquire(ctx, "facility:a", time.Second)
	require.NoError(t, err)
	release2()
}
