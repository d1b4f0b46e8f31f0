package notifications

import (
	"context"
	"log/slog"
	"time"
)

// Alerter fans operator alerts out to a notifier, collapsing repeats
// through a deduplicator. Safe on a nil receiver, so alerting stays
// optional for deployments without a topic.
type Alerter struct {
	notifier Notifier
	dedup    Deduplicator
	timeout  time.Duration
}

func NewAlerter(notifier Notifier, dedup Deduplicator) *Alerter {
	return &Alerter{
		notifier: notifier,
		dedup:    dedup,
		timeout:  10 * time.Second,
	}
}

// Alert sends n unless an identical alert went out within the dedup TTL.
// It never blocks the caller; delivery failures are logged and dropped.
func (a *Alerter) Alert(n Notification) {
	if a == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if a.dedup != nil && !a.dedup.ShouldAlert(ctx, n.Type, n.ClientID) {
			return
		}

		if err := a.notifier.Send(ctx, n); err != nil {
			slog.Warn("alert delivery failed", "type", n.Type, "error", err)
		}
	}()
}
