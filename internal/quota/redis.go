package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtuomik/chatgate/internal/domain"
)

const keyPrefix = "quota:"

// RedisTracker implements quota tracking on Redis, so counts survive
// restarts and are shared across instances.
type RedisTracker struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisTracker(redisURL string, limit int, window time.Duration) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisTracker{client: client, limit: limit, window: window}, nil
}

// NewRedisTrackerWithClient wraps an existing client, for tests and for
// sharing one connection with the alert deduplicator.
func NewRedisTrackerWithClient(client *redis.Client, limit int, window time.Duration) *RedisTracker {
	return &RedisTracker{client: client, limit: limit, window: window}
}

func (t *RedisTracker) CheckAndReserve(ctx context.Context, clientID string) (Decision, error) {
	now := time.Now()
	if t.limit <= 0 {
		return Decision{ResetAt: now.Add(t.window)}, nil
	}

	key := keyPrefix + clientID

	val, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Decision{
			Allowed:   true,
			NewWindow: true,
			Remaining: t.limit - 1,
			ResetAt:   now.Add(t.window),
		}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("get quota count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return Decision{}, fmt.Errorf("parse quota count: %w", err)
	}

	ttl, err := t.client.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("get quota ttl: %w", err)
	}
	resetAt := now.Add(ttl)
	if ttl < 0 {
		// key without expiry, or expired between GET and PTTL
		resetAt = now.Add(t.window)
	}

	if count >= t.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: t.limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}

func (t *RedisTracker) Commit(ctx context.Context, clientID string, newWindow bool) error {
	key := keyPrefix + clientID

	if newWindow {
		ok, err := t.client.SetNX(ctx, key, 1, t.window).Result()
		if err != nil {
			return fmt.Errorf("open quota window: %w", err)
		}
		if ok {
			return nil
		}
		// another request from this client opened the window first;
		// fall through and charge into it
	}

	n, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("increment quota count: %w", err)
	}
	if n == 1 {
		// the window expired between check and commit and Incr recreated
		// the key without a TTL; give the fresh window its expiry
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
			return fmt.Errorf("set quota expiry: %w", err)
		}
	}
	return nil
}

func (t *RedisTracker) Inspect(ctx context.Context, clientID string) (Usage, error) {
	key := keyPrefix + clientID

	val, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Usage{}, domain.ErrNotTracked
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get quota count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return Usage{}, fmt.Errorf("parse quota count: %w", err)
	}

	ttl, err := t.client.PTTL(ctx, key).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("get quota ttl: %w", err)
	}

	remaining := t.limit - count
	if remaining < 0 {
		remaining = 0
	}

	usage := Usage{ClientID: clientID, Count: count, Remaining: remaining}
	if ttl > 0 {
		usage.ResetAt = time.Now().Add(ttl)
	}
	return usage, nil
}

func (t *RedisTracker) Reset(ctx context.Context, clientID string) error {
	if err := t.client.Del(ctx, keyPrefix+clientID).Err(); err != nil {
		return fmt.Errorf("delete quota record: %w", err)
	}
	return nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
