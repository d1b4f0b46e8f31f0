// Package audit records operational metadata about handled chat
// requests. Events carry identifiers, outcomes, and token counts; never
// message content.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event is the audit record for one handled request.
type Event struct {
	RequestID        string    `json:"request_id"`
	ClientID         string    `json:"client_id"`
	Status           string    `json:"status"`
	Credential       string    `json:"credential,omitempty"`
	Attempts         int       `json:"attempts"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type Sink interface {
	Record(ctx context.Context, event Event) error
}

// MemorySink collects events in memory, for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0)}
}

func (s *MemorySink) Record(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Event, len(s.events))
	copy(result, s.events)
	return result
}
