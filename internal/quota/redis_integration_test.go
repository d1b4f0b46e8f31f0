//go:build integration

package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mtuomik/chatgate/internal/domain"
)

func getTestTracker(t *testing.T, limit int, window time.Duration) *RedisTracker {
	t.Helper()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}

	tr, err := NewRedisTracker(redisURL, limit, window)
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	return tr
}

func testClientID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestRedisTracker_Lifecycle(t *testing.T) {
	tr := getTestTracker(t, 2, time.Minute)
	defer tr.Close()

	ctx := context.Background()
	client := testClientID(t)
	defer tr.Reset(ctx, client)

	dec, err := tr.CheckAndReserve(ctx, client)
	if err != nil {
		t.Fatalf("CheckAndReserve() error = %v", err)
	}
	if !dec.Allowed || !dec.NewWindow {
		t.Fatalf("fresh client: allowed=%v newWindow=%v, want true/true", dec.Allowed, dec.NewWindow)
	}

	if err := tr.Commit(ctx, client, dec.NewWindow); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	dec, err = tr.CheckAndReserve(ctx, client)
	if err != nil {
		t.Fatalf("CheckAndReserve() error = %v", err)
	}
	if !dec.Allowed || dec.NewWindow {
		t.Fatalf("second request: allowed=%v newWindow=%v, want true/false", dec.Allowed, dec.NewWindow)
	}
	if err := tr.Commit(ctx, client, dec.NewWindow); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	dec, err = tr.CheckAndReserve(ctx, client)
	if err != nil {
		t.Fatalf("CheckAndReserve() error = %v", err)
	}
	if dec.Allowed {
		t.Error("client at limit should be denied")
	}

	usage, err := tr.Inspect(ctx, client)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if usage.Count != 2 {
		t.Errorf("count = %d, want 2", usage.Count)
	}
	if usage.ResetAt.IsZero() {
		t.Error("ResetAt should be set for a tracked client")
	}
}

func TestRedisTracker_DenialDoesNotCharge(t *testing.T) {
	tr := getTestTracker(t, 1, time.Minute)
	defer tr.Close()

	ctx := context.Background()
	client := testClientID(t)
	defer tr.Reset(ctx, client)

	dec, _ := tr.CheckAndReserve(ctx, client)
	tr.Commit(ctx, client, dec.NewWindow)

	for i := 0; i < 5; i++ {
		dec, err := tr.CheckAndReserve(ctx, client)
		if err != nil {
			t.Fatalf("CheckAndReserve() error = %v", err)
		}
		if dec.Allowed {
			t.Fatalf("check %d: client at limit should be denied", i)
		}
	}

	usage, err := tr.Inspect(ctx, client)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if usage.Count != 1 {
		t.Errorf("count after denials = %d, want 1", usage.Count)
	}
}

func TestRedisTracker_WindowExpiry(t *testing.T) {
	tr := getTestTracker(t, 1, time.Second)
	defer tr.Close()

	ctx := context.Background()
	client := testClientID(t)
	defer tr.Reset(ctx, client)

	dec, _ := tr.CheckAndReserve(ctx, client)
	tr.Commit(ctx, client, dec.NewWindow)

	if dec, _ := tr.CheckAndReserve(ctx, client); dec.Allowed {
		t.Fatal("client at limit should be denied")
	}

	time.Sleep(1200 * time.Millisecond)

	dec, err := tr.CheckAndReserve(ctx, client)
	if err != nil {
		t.Fatalf("CheckAndReserve() error = %v", err)
	}
	if !dec.Allowed || !dec.NewWindow {
		t.Errorf("after expiry: allowed=%v newWindow=%v, want true/true", dec.Allowed, dec.NewWindow)
	}

	if err := tr.Commit(ctx, client, dec.NewWindow); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	usage, _ := tr.Inspect(ctx, client)
	if usage.Count != 1 {
		t.Errorf("count after expiry commit = %d, want 1", usage.Count)
	}
}

func TestRedisTracker_Reset(t *testing.T) {
	tr := getTestTracker(t, 1, time.Minute)
	defer tr.Close()

	ctx := context.Background()
	client := testClientID(t)

	tr.Commit(ctx, client, true)
	if err := tr.Reset(ctx, client); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if _, err := tr.Inspect(ctx, client); !errors.Is(err, domain.ErrNotTracked) {
		t.Errorf("Inspect() after reset error = %v, want ErrNotTracked", err)
	}
}
