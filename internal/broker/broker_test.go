package broker

import (
	"context"
	"testing"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	b.Publish(models.Notification{ID: "1", Type: models.NotificationNewBlock, WalletID: "testnet"})

	select {
	case n := <-ch:
		if n.ID != "1" {
			t.Errorf("got notification id %q, want 1", n.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	if open {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}

func TestPublishDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(models.Notification{ID: "x", Type: models.NotificationNewBlock})
	}
	// Must not have blocked; drain to avoid leaking the goroutine-less channel.
	_ = ch
}

func TestRunClosesAllSubscribersOnCancel(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}

	_, open := <-ch
	if open {
		t.Error("expected subscriber channel to be closed when Run exits")
	}
}
