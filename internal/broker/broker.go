// Package broker is an in-process publish/subscribe fan-out used to hand a
// freshly-persisted notification from its producer (wallet service,
// tx-proposal state machine, blockchain monitor) to every in-process
// consumer that needs to react to it — currently the push dispatcher.
//
// Unlike the teacher's SSE hub, this fan-out is never exposed directly to
// HTTP clients: notifications reach clients only through what is persisted
// in storage (no HTTP route streams them), and the broker only decouples
// server-side collaborators from one another.
package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

const subscriberBuffer = 64

// Broker fans a stream of notifications out to every subscriber.
type Broker struct {
	subscribers map[chan models.Notification]struct{}
	mu          sync.RWMutex
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{subscribers: make(map[chan models.Notification]struct{})}
}

// Run blocks until ctx is cancelled, then closes every subscriber channel.
func (b *Broker) Run(ctx context.Context) {
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
	slog.Info("notification broker stopped", "reason", ctx.Err())
}

// Subscribe registers a new consumer and returns its delivery channel.
func (b *Broker) Subscribe() chan models.Notification {
	ch := make(chan models.Notification, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()

	slog.Debug("broker subscriber added", "total", n)
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broker) Unsubscribe(ch chan models.Notification) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	slog.Debug("broker subscriber removed", "total", n)
}

// Publish fans n out to every subscriber. Non-blocking: a subscriber whose
// buffer is full drops the notification rather than stalling the producer —
// push delivery is best-effort, the durable record of a notification is
// always the storage row written before Publish is called.
func (b *Broker) Publish(n models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			slog.Warn("notification dropped for slow subscriber", "type", n.Type, "walletId", n.WalletID)
		}
	}
}
