// Package dispatch tries pool credentials against the upstream API in a
// fresh random order until one produces a reply.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mtuomik/chatgate/internal/credential"
	"github.com/mtuomik/chatgate/internal/domain"
	"github.com/mtuomik/chatgate/internal/metrics"
	"github.com/mtuomik/chatgate/internal/telemetry"
	"github.com/mtuomik/chatgate/internal/upstream"
)

// Caller makes a single completion attempt with one credential.
type Caller interface {
	CreateCompletion(ctx context.Context, cred credential.Credential, messages []domain.Message, maxTokens int) (*upstream.Reply, error)
}

// Result is a delivered reply plus how it was obtained.
type Result struct {
	Message    domain.Message
	Usage      domain.Usage
	Credential string
	Attempts   int
}

type Dispatcher struct {
	pool           *credential.Pool
	caller         Caller
	attemptTimeout time.Duration
}

func New(pool *credential.Pool, caller Caller, attemptTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		pool:           pool,
		caller:         caller,
		attemptTimeout: attemptTimeout,
	}
}

// Dispatch walks a fresh shuffled order of the pool sequentially and
// returns the first successful reply. Each credential is tried at most
// once. When the parent context dies mid-loop the remaining credentials
// are left alone and the context error comes back instead.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []domain.Message, maxTokens int) (*Result, error) {
	creds := d.pool.Shuffled()
	if len(creds) == 0 {
		return nil, domain.ErrNoCredentials
	}

	causes := make([]*domain.UpstreamError, 0, len(creds))

	for i, cred := range creds {
		reply, err := d.attempt(ctx, cred, i+1, messages, maxTokens)
		if err == nil {
			metrics.RecordUpstreamAttempt(cred.Label, "success")
			return &Result{
				Message:    reply.Message,
				Usage:      reply.Usage,
				Credential: cred.Label,
				Attempts:   i + 1,
			}, nil
		}

		metrics.RecordUpstreamAttempt(cred.Label, "failure")

		var ue *domain.UpstreamError
		if !errors.As(err, &ue) {
			ue = &domain.UpstreamError{Credential: cred.Label, Cause: err}
		}
		causes = append(causes, ue)

		slog.Warn("credential failed, trying next",
			"credential", cred.Label,
			"attempt", i+1,
			"error", err,
		)

		if ctx.Err() != nil {
			// caller is gone or the server is draining; leave the rest
			// of the pool alone
			return nil, ctx.Err()
		}
	}

	metrics.RecordCredentialsExhausted()
	return nil, &domain.ExhaustedError{Causes: causes}
}

func (d *Dispatcher) attempt(ctx context.Context, cred credential.Credential, attempt int, messages []domain.Message, maxTokens int) (*upstream.Reply, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.call")
	defer span.End()
	telemetry.AddAttemptAttributes(span, cred.Label, attempt)

	if d.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
	}

	reply, err := d.caller.CreateCompletion(ctx, cred, messages, maxTokens)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	return reply, nil
}
