package notifications

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryDeduplicator(t *testing.T) {
	d := NewInMemoryDeduplicator(time.Hour)
	ctx := context.Background()

	if !d.ShouldAlert(ctx, NotificationCredentialsExhausted, "") {
		t.Error("first alert should go through")
	}
	if d.ShouldAlert(ctx, NotificationCredentialsExhausted, "") {
		t.Error("repeat within TTL should be suppressed")
	}
	if !d.ShouldAlert(ctx, NotificationQuotaStoreError, "") {
		t.Error("a different alert type should not be suppressed")
	}
	if !d.ShouldAlert(ctx, NotificationCredentialsExhausted, "1.2.3.4") {
		t.Error("a different subject should not be suppressed")
	}
}

func TestInMemoryDeduplicator_TTLExpiry(t *testing.T) {
	d := NewInMemoryDeduplicator(20 * time.Millisecond)
	ctx := context.Background()

	if !d.ShouldAlert(ctx, NotificationQuotaStoreError, "") {
		t.Fatal("first alert should go through")
	}

	time.Sleep(40 * time.Millisecond)

	if !d.ShouldAlert(ctx, NotificationQuotaStoreError, "") {
		t.Error("alert should go through again after the TTL")
	}
}

func TestAlerter_SendsThroughNotifier(t *testing.T) {
	notifier := NewInMemoryNotifier()
	received := make(chan Notification, 1)
	notifier.OnNotification(func(n Notification) {
		received <- n
	})

	a := NewAlerter(notifier, NewInMemoryDeduplicator(time.Hour))
	a.Alert(Notification{
		Type:    NotificationCredentialsExhausted,
		Message: "all credentials failed",
	})

	select {
	case n := <-received:
		if n.Type != NotificationCredentialsExhausted {
			t.Errorf("type = %s, want credentials_exhausted", n.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("alert never reached the notifier")
	}
}

func TestAlerter_SuppressesRepeats(t *testing.T) {
	notifier := NewInMemoryNotifier()
	received := make(chan Notification, 2)
	notifier.OnNotification(func(n Notification) {
		received <- n
	})

	a := NewAlerter(notifier, NewInMemoryDeduplicator(time.Hour))
	a.Alert(Notification{Type: NotificationQuotaStoreError, Message: "redis down"})
	a.Alert(Notification{Type: NotificationQuotaStoreError, Message: "redis down"})

	<-received
	select {
	case <-received:
		t.Error("second identical alert should have been suppressed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAlerter_NilReceiver(t *testing.T) {
	var a *Alerter
	// must not panic when alerting is not configured
	a.Alert(Notification{Type: NotificationNoCredentials})
}

func TestInMemoryNotifier_RecordsSends(t *testing.T) {
	n := NewInMemoryNotifier()
	ctx := context.Background()

	n.Send(ctx, Notification{Type: NotificationNoCredentials, Message: "pool is empty"})
	n.Send(ctx, Notification{Type: NotificationQuotaCommitError, ClientID: "1.2.3.4"})

	sent := n.GetNotifications()
	if len(sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sent))
	}
	if sent[0].Type != NotificationNoCredentials {
		t.Errorf("first type = %s, want no_credentials_configured", sent[0].Type)
	}
	if sent[1].ClientID != "1.2.3.4" {
		t.Errorf("second client = %s, want 1.2.3.4", sent[1].ClientID)
	}

	n.Clear()
	if len(n.GetNotifications()) != 0 {
		t.Error("Clear() should drop recorded notifications")
	}
}
