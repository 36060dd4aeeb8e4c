package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func lockers(t *testing.T) map[string]ports.RouteLocker {
	redisLocker, _ := newRedisLocker(t, time.Minute)
	return map[string]ports.RouteLocker{
		"local": NewLocalLocker(),
		"redis": redisLocker,
	}
}

func TestLockerRejectsSecondHolder(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			unlock, err := l.TryLock(ctx, "route-1")
			require.NoError(t, err)

			_, err = l.TryLock(ctx, "route-1")
			assert.ErrorIs(t, err, domain.ErrOptimizationInProgress)

			// other routes are independent
			unlockOther, err := l.TryLock(ctx, "route-2")
			require.NoError(t, err)
			unlockOther()

			unlock()
			unlock2, err := l.TryLock(ctx, "route-1")
			require.NoError(t, err)
			unlock2()
		})
	}
}

func TestLocalLockerSingleFlight(t *testing.T) {
	l := NewLocalLocker()
	var acquired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "r"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestRedisLockerExpires(t *testing.T) {
	l, mr := newRedisLocker(t, 5*time.Second)
	ctx := context.Background()

	unlockStale, err := l.TryLock(ctx, "route-1")
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	unlock, err := l.TryLock(ctx, "route-1")
	require.NoError(t, err)

	// the stale holder must not release the new holder's lock
	unlockStale()
	_, err = l.TryLock(ctx, "route-1")
	assert.ErrorIs(t, err, domain.ErrOptimizationInProgress)

	unlock()
	assert.False(t, mr.Exists("route-optimize:route-1"))
}
