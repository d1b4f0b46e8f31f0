package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSink writes audit events to a usage_audit table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS usage_audit (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			status TEXT NOT NULL,
			credential TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	query := `
		INSERT INTO usage_audit (request_id, client_id, status, credential, attempts, model, prompt_tokens, completion_tokens, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.RequestID,
		event.ClientID,
		event.Status,
		event.Credential,
		event.Attempts,
		event.Model,
		event.PromptTokens,
		event.CompletionTokens,
		event.LatencyMs,
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}
