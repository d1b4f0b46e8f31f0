//go:build integration

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func TestPostgresSink_Record(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	sink := NewPostgresSink(db)
	ctx := context.Background()

	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	requestID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	event := Event{
		RequestID:        requestID,
		ClientID:         "203.0.113.7",
		Status:           "success",
		Credential:       "key-2",
		Attempts:         2,
		Model:            "gpt-4o-mini",
		PromptTokens:     120,
		CompletionTokens: 45,
		LatencyMs:        950,
		CreatedAt:        time.Now(),
	}

	if err := sink.Record(ctx, event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	defer db.ExecContext(ctx, "DELETE FROM usage_audit WHERE request_id = $1", requestID)

	var status, credential string
	var attempts int
	err := db.QueryRowContext(ctx,
		"SELECT status, credential, attempts FROM usage_audit WHERE request_id = $1", requestID,
	).Scan(&status, &credential, &attempts)
	if err != nil {
		t.Fatalf("query inserted event: %v", err)
	}

	if status != "success" {
		t.Errorf("status = %s, want success", status)
	}
	if credential != "key-2" {
		t.Errorf("credential = %s, want key-2", credential)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
