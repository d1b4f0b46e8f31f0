// Package quota tracks per-client successful replies inside a fixed
// rolling window. Checking and charging are separate steps so a request
// that fails upstream never consumes quota.
// Supports both in-memory (single instance) and Redis (durable) backends.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/mtuomik/chatgate/internal/domain"
)

// Decision is the outcome of a quota check. Remaining counts the requests
// still allowed after this one; NewWindow tells Commit whether the charge
// opens a fresh window or increments the current one.
type Decision struct {
	Allowed   bool
	NewWindow bool
	Remaining int
	ResetAt   time.Time
}

// Usage is a client's stored counter, exposed on the admin surface.
type Usage struct {
	ClientID  string    `json:"client_id"`
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Tracker defines the interface for quota backends.
// CheckAndReserve never mutates the stored count. Commit charges one unit
// and must be called only after a successful reply was delivered.
type Tracker interface {
	CheckAndReserve(ctx context.Context, clientID string) (Decision, error)
	Commit(ctx context.Context, clientID string, newWindow bool) error
	Inspect(ctx context.Context, clientID string) (Usage, error)
	Reset(ctx context.Context, clientID string) error
}

// MemoryTracker implements quota tracking with an in-memory map.
// Counts are process-local; suitable for development and tests.
type MemoryTracker struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	count   int
	resetAt time.Time
}

func NewMemoryTracker(limit int, window time.Duration) *MemoryTracker {
	return &MemoryTracker{
		limit:   limit,
		window:  window,
		records: make(map[string]*record),
	}
}

func (t *MemoryTracker) CheckAndReserve(ctx context.Context, clientID string) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.limit <= 0 {
		return Decision{ResetAt: now.Add(t.window)}, nil
	}

	rec, ok := t.records[clientID]
	if !ok || now.After(rec.resetAt) {
		return Decision{
			Allowed:   true,
			NewWindow: true,
			Remaining: t.limit - 1,
			ResetAt:   now.Add(t.window),
		}, nil
	}

	if rec.count >= t.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: rec.resetAt}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: t.limit - rec.count - 1,
		ResetAt:   rec.resetAt,
	}, nil
}

func (t *MemoryTracker) Commit(ctx context.Context, clientID string, newWindow bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, ok := t.records[clientID]
	if newWindow || !ok || now.After(rec.resetAt) {
		if ok && !now.After(rec.resetAt) {
			// another request from this client opened the window first;
			// charge into it instead of resetting
			rec.count++
			return nil
		}
		t.records[clientID] = &record{count: 1, resetAt: now.Add(t.window)}
		return nil
	}

	rec.count++
	return nil
}

func (t *MemoryTracker) Inspect(ctx context.Context, clientID string) (Usage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[clientID]
	if !ok || time.Now().After(rec.resetAt) {
		return Usage{}, domain.ErrNotTracked
	}

	remaining := t.limit - rec.count
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		ClientID:  clientID,
		Count:     rec.count,
		Remaining: remaining,
		ResetAt:   rec.resetAt,
	}, nil
}

func (t *MemoryTracker) Reset(ctx context.Context, clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, clientID)
	return nil
}
