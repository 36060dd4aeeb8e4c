package lock

import (
	"context"
	"fmt"
	"log"
	"time"

	"fleet-route-service/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker guards routes across service instances sharing one Redis.
// Locks expire after TTL so a crashed holder cannot block a route forever.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "route-optimize:", ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, routeID string) (func(), error) {
	key := l.prefix + routeID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock route %q: redis setnx: %w", routeID, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock route %q: %w", routeID, domain.ErrOptimizationInProgress)
	}

	return func() {
		// Release on a fresh context; the caller's may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			log.Printf("route lock release failed route_id=%s err=%v", routeID, err)
		}
	}, nil
}
