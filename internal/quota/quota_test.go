package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtuomik/chatgate/internal/domain"
)

func TestMemoryTracker_FreshClient(t *testing.T) {
	tr := NewMemoryTracker(3, time.Hour)
	ctx := context.Background()

	dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("fresh client should be allowed")
	}
	if !dec.NewWindow {
		t.Error("fresh client should open a new window")
	}
	if dec.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", dec.Remaining)
	}
}

func TestMemoryTracker_CheckDoesNotCharge(t *testing.T) {
	tr := NewMemoryTracker(3, time.Hour)
	ctx := context.Background()

	// Checks alone must never consume quota.
	for i := 0; i < 10; i++ {
		dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("check %d should be allowed without commits", i)
		}
	}

	if _, err := tr.Inspect(ctx, "1.2.3.4"); !errors.Is(err, domain.ErrNotTracked) {
		t.Errorf("Inspect() error = %v, want ErrNotTracked", err)
	}
}

func TestMemoryTracker_DenyAtLimit(t *testing.T) {
	tr := NewMemoryTracker(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if err := tr.Commit(ctx, "1.2.3.4", dec.NewWindow); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Error("client at limit should be denied")
	}
	if dec.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", dec.Remaining)
	}

	// The denial itself must not grow the count.
	usage, err := tr.Inspect(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if usage.Count != 3 {
		t.Errorf("count after denial = %d, want 3", usage.Count)
	}
}

func TestMemoryTracker_CommitIncrementsExistingWindow(t *testing.T) {
	tr := NewMemoryTracker(10, time.Hour)
	ctx := context.Background()

	tr.Commit(ctx, "1.2.3.4", true)
	first, _ := tr.Inspect(ctx, "1.2.3.4")

	tr.Commit(ctx, "1.2.3.4", false)
	second, _ := tr.Inspect(ctx, "1.2.3.4")

	if second.Count != 2 {
		t.Errorf("count = %d, want 2", second.Count)
	}
	if !second.ResetAt.Equal(first.ResetAt) {
		t.Errorf("ResetAt changed from %v to %v on increment", first.ResetAt, second.ResetAt)
	}
}

func TestMemoryTracker_RacingNewWindowCommits(t *testing.T) {
	tr := NewMemoryTracker(10, time.Hour)
	ctx := context.Background()

	// Two in-flight requests both saw NewWindow=true; the loser must
	// charge into the winner's window, not reset it.
	tr.Commit(ctx, "1.2.3.4", true)
	tr.Commit(ctx, "1.2.3.4", true)

	usage, err := tr.Inspect(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if usage.Count != 2 {
		t.Errorf("count = %d, want 2", usage.Count)
	}
}

func TestMemoryTracker_WindowExpiry(t *testing.T) {
	tr := NewMemoryTracker(1, 20*time.Millisecond)
	ctx := context.Background()

	dec, _ := tr.CheckAndReserve(ctx, "1.2.3.4")
	tr.Commit(ctx, "1.2.3.4", dec.NewWindow)

	dec, _ = tr.CheckAndReserve(ctx, "1.2.3.4")
	if dec.Allowed {
		t.Fatal("client at limit should be denied")
	}

	time.Sleep(40 * time.Millisecond)

	dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("client should be allowed after window expiry")
	}
	if !dec.NewWindow {
		t.Error("expired window should look like a fresh one")
	}

	tr.Commit(ctx, "1.2.3.4", dec.NewWindow)
	usage, _ := tr.Inspect(ctx, "1.2.3.4")
	if usage.Count != 1 {
		t.Errorf("count after expiry commit = %d, want 1", usage.Count)
	}
}

func TestMemoryTracker_DifferentClients(t *testing.T) {
	tr := NewMemoryTracker(1, time.Hour)
	ctx := context.Background()

	dec, _ := tr.CheckAndReserve(ctx, "1.2.3.4")
	tr.Commit(ctx, "1.2.3.4", dec.NewWindow)

	dec, _ = tr.CheckAndReserve(ctx, "1.2.3.4")
	if dec.Allowed {
		t.Error("1.2.3.4 should be at its limit")
	}

	dec, _ = tr.CheckAndReserve(ctx, "5.6.7.8")
	if !dec.Allowed {
		t.Error("5.6.7.8 should not be affected by 1.2.3.4's usage")
	}
}

func TestMemoryTracker_Reset(t *testing.T) {
	tr := NewMemoryTracker(1, time.Hour)
	ctx := context.Background()

	tr.Commit(ctx, "1.2.3.4", true)
	if dec, _ := tr.CheckAndReserve(ctx, "1.2.3.4"); dec.Allowed {
		t.Fatal("client should be at its limit")
	}

	if err := tr.Reset(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	dec, _ := tr.CheckAndReserve(ctx, "1.2.3.4")
	if !dec.Allowed || !dec.NewWindow {
		t.Error("reset client should start a fresh window")
	}
}

func TestMemoryTracker_ZeroLimit(t *testing.T) {
	tr := NewMemoryTracker(0, time.Hour)
	ctx := context.Background()

	dec, err := tr.CheckAndReserve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Error("zero limit should deny all clients")
	}
	if dec.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", dec.Remaining)
	}
}

func TestMemoryTracker_ConcurrentCommits(t *testing.T) {
	tr := NewMemoryTracker(1000, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				dec, _ := tr.CheckAndReserve(ctx, "1.2.3.4")
				tr.Commit(ctx, "1.2.3.4", dec.NewWindow)
			}
		}()
	}
	wg.Wait()

	usage, err := tr.Inspect(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if usage.Count != 200 {
		t.Errorf("count = %d, want 200", usage.Count)
	}
}
