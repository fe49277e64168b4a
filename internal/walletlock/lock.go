// Package walletlock serializes all mutating operations against a given
// wallet (address derivation, tx-proposal creation/signing) behind a
// named, crash-safe lock leased in storage with a TTL, so a crashed holder
// never wedges a wallet forever (§3).
package walletlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/google/uuid"
)

// ErrTimeout is returned when a lock could not be acquired within the
// caller-supplied deadline.
var ErrTimeout = errors.New("wallet lock: timed out waiting for lock")

const pollInterval = 50 * time.Millisecond

// Manager hands out named locks backed by storage.DB, renewing the TTL
// lease in the background for as long as the lock is held and releasing it
// when the caller is done. Every Acquire, including one from this same
// process, goes through the storage lease row; there is no in-memory fast
// path.
type Manager struct {
	db       *storage.DB
	holderID string
	leaseTTL time.Duration

	mu    sync.Mutex
	local map[string]context.CancelFunc // resource name -> cancel for its renewal goroutine
	wg    sync.WaitGroup
}

// NewManager constructs a lock manager with a freshly generated holder id,
// so that a crashed process's leases can be distinguished from a live
// one's on restart.
func NewManager(db *storage.DB, leaseTTL time.Duration) *Manager {
	return &Manager{
		db:       db,
		holderID: uuid.New().String(),
		leaseTTL: leaseTTL,
		local:    make(map[string]context.CancelFunc),
	}
}

// Lock is a held named lock. Callers must call Release when done.
type Lock struct {
	name    string
	mgr     *Manager
	cancel  context.CancelFunc
	released bool
	mu       sync.Mutex
}

// WalletResource returns the canonical lock name for a wallet's mutating
// operations (address derivation, tx proposal lifecycle).
func WalletResource(walletID string) string {
	return "wallet:" + walletID
}

// Acquire blocks (polling at pollInterval) until the named resource's lock
// is obtained, the context is cancelled, or timeout elapses — whichever
// comes first. On success it starts a background goroutine that renews the
// lease until Release is called.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	if timeout <= 0 {
		timeout = config.DefaultLockTimeout
		deadline = time.Now().Add(timeout)
	}

	for {
		now := time.Now()
		ok, err := m.db.TryAcquireLock(name, m.holderID, now.UnixMilli(), now.Add(m.leaseTTL).UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			lockCtx, cancel := context.WithCancel(context.Background())
			l := &Lock{name: name, mgr: m, cancel: cancel}

			m.wg.Add(1)
			go m.renew(lockCtx, name)

			slog.Debug("wallet lock acquired", "resource", name, "holder", m.holderID)
			return l, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: resource %s", ErrTimeout, name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// renew keeps extending the lease for name until ctx is cancelled by Release.
func (m *Manager) renew(ctx context.Context, name string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.db.RenewLock(name, m.holderID, time.Now().Add(m.leaseTTL).UnixMilli())
			if err != nil {
				slog.Error("wallet lock renewal failed", "resource", name, "error", err)
				continue
			}
			if !ok {
				slog.Warn("wallet lock lease lost before release", "resource", name)
				return
			}
		}
	}
}

// Release drops the lock and stops its renewal goroutine. Safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	l.cancel()
	if err := l.mgr.db.ReleaseLock(l.name, l.mgr.holderID); err != nil {
		slog.Error("wallet lock release failed", "resource", l.name, "error", err)
	} else {
		slog.Debug("wallet lock released", "resource", l.name, "holder", l.mgr.holderID)
	}
}

// Stop waits for every renewal goroutine to exit. Call during shutdown
// after all held locks have been released by their owners.
func (m *Manager) Stop() {
	m.wg.Wait()
}
