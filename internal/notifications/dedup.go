package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator suppresses repeats of the same alert within a TTL so a
// flapping dependency does not flood the topic.
type Deduplicator interface {
	// ShouldAlert reports whether an alert of this type for this subject
	// should go out now. At most one call per TTL returns true.
	ShouldAlert(ctx context.Context, kind NotificationType, subject string) bool
}

// InMemoryDeduplicator tracks sent alerts in process memory. Suitable
// for single-instance deployments.
type InMemoryDeduplicator struct {
	ttl time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewInMemoryDeduplicator(ttl time.Duration) *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		ttl:  ttl,
		sent: make(map[string]time.Time),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, kind NotificationType, subject string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := alertKey(kind, subject)
	if expiry, ok := d.sent[key]; ok && time.Now().Before(expiry) {
		return false
	}

	d.sent[key] = time.Now().Add(d.ttl)
	return true
}

// RedisDeduplicator shares alert state across instances, so only one
// instance sends any given alert per TTL.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(redisURL string, ttl time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{client: client, ttl: ttl}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// ShouldAlert uses SETNX for an atomic check-and-set; only one instance
// acquires the key and sends.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, kind NotificationType, subject string) bool {
	acquired, err := d.client.SetNX(ctx, "alert:"+alertKey(kind, subject), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		// on Redis error, let the alert through
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}

func alertKey(kind NotificationType, subject string) string {
	return fmt.Sprintf("%s:%s", kind, subject)
}
