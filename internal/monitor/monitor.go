// Package monitor watches one or more blockchain networks for activity
// relevant to wallets hosted on this server (§4.4): transactions relayed by
// a third party (outside a tracked proposal's normal broadcast path),
// incoming payments to wallet addresses, and new blocks — including walking
// back through a reorg's common ancestor.
//
// Each configured network runs its own subscriber goroutine against an
// explorer's websocket feed (internal/explorer.Subscriber), mirroring the
// teacher's one-goroutine-per-watched-entity shape in
// internal/poller/watcher/watcher.go: a context.CancelFunc plus a
// sync.WaitGroup give the caller a single place to wait for every feed to
// drain on shutdown.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
)

// Feed names one network and the websocket URL its explorer's event stream
// is reachable on.
type Feed struct {
	Network      string
	WebsocketURL string
}

// Monitor is the explicit, per-startup service container for the blockchain
// watcher, built once in cmd/walletd/main.go alongside walletsvc.Service and
// txproposal.Service.
type Monitor struct {
	Storage  *storage.DB
	Explorer *explorer.Client
	Broker   *broker.Broker
	History  *HistoryCache

	feeds []Feed
	wg    sync.WaitGroup

	mu         sync.Mutex
	pendingRBF map[string]map[string]bool // network -> txid -> queued

	// ticker disambiguates notifications stamped in the same millisecond;
	// Path A's checkOutgoingRecognition runs on its own goroutine, so this
	// must tolerate concurrent use unlike a single dispatch loop would need.
	ticker atomic.Uint32
}

// New builds a Monitor over its collaborators. feeds lists every network to
// watch; an empty list leaves the monitor idle (useful in tests that drive
// its handlers directly without a running subscriber).
func New(db *storage.DB, exp *explorer.Client, br *broker.Broker, feeds []Feed) *Monitor {
	return &Monitor{
		Storage:    db,
		Explorer:   exp,
		Broker:     br,
		History:    NewHistoryCache(),
		feeds:      feeds,
		pendingRBF: make(map[string]map[string]bool),
	}
}

// Start launches one subscriber goroutine per configured feed. It returns
// immediately; call Wait to block until ctx is cancelled and every feed has
// drained.
func (m *Monitor) Start(ctx context.Context) {
	for _, f := range m.feeds {
		m.wg.Add(1)
		go m.runFeed(ctx, f)
	}
}

// Wait blocks until every feed goroutine started by Start has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) runFeed(ctx context.Context, f Feed) {
	defer m.wg.Done()

	events := make(chan explorer.SocketEvent, 64)
	sub := explorer.NewSubscriber(f.WebsocketURL)

	var subWG sync.WaitGroup
	subWG.Add(1)
	go func() {
		defer subWG.Done()
		sub.Run(ctx, events)
	}()

	for {
		select {
		case <-ctx.Done():
			subWG.Wait()
			return
		case evt, ok := <-events:
			if !ok {
				subWG.Wait()
				return
			}
			m.dispatch(ctx, f.Network, evt)
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, network string, evt explorer.SocketEvent) {
	switch evt.Type {
	case "tx":
		var data explorer.SocketTxData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			slog.Warn("monitor: malformed tx event", "network", network, "error", err)
			return
		}
		m.handleTxEvent(ctx, network, data)
	case "block":
		var data explorer.SocketBlockData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			slog.Warn("monitor: malformed block event", "network", network, "error", err)
			return
		}
		m.handleBlockEvent(ctx, network, data)
	default:
		slog.Debug("monitor: ignoring unknown event type", "network", network, "type", evt.Type)
	}
}

func (m *Monitor) queueRBF(network, txid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingRBF[network] == nil {
		m.pendingRBF[network] = make(map[string]bool)
	}
	m.pendingRBF[network][txid] = true
}

// dequeueRBF reports whether txid was queued as RBF-signalled on network,
// removing it from the queue if so.
func (m *Monitor) dequeueRBF(network, txid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingRBF[network] == nil {
		return false
	}
	if m.pendingRBF[network][txid] {
		delete(m.pendingRBF[network], txid)
		return true
	}
	return false
}

func nowUnix() int64 { return time.Now().Unix() }
