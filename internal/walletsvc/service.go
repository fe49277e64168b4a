// Package walletsvc implements the authenticated wallet/copayer/address/
// balance/scan operations of §4.2. Every mutating call runs under the
// per-wallet lock (§4.3) and records notifications through the broker for
// the push dispatcher and blockchain monitor to consume.
package walletsvc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletlock"
)

// activeAddressCache is the process-wide, last-writer-wins "active
// addresses" soft state §5's shared-resource policy describes: read and
// written by any handler, never blocking correctness, only sparing the
// two-step balance mode's quick pass a full address sweep.
type activeAddressCache struct {
	mu       sync.RWMutex
	byWallet map[string][]string
}

func newActiveAddressCache() *activeAddressCache {
	return &activeAddressCache{byWallet: make(map[string][]string)}
}

func (c *activeAddressCache) get(walletID string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addrs, ok := c.byWallet[walletID]
	return addrs, ok
}

func (c *activeAddressCache) set(walletID string, addrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byWallet[walletID] = addrs
}

// Service is the explicit, per-startup service container called for by
// §9's "process-wide state" design note: storage/lock/explorer/broker
// handles are fields constructed once in cmd/walletd/main.go, replacing
// the teacher's module-level singletons (internal/db, internal/scanner
// used package-level state reached via init-time setup functions).
type Service struct {
	Storage  *storage.DB
	Lock     *walletlock.Manager
	Explorer *explorer.Client
	Broker   *broker.Broker

	lockTimeout time.Duration
	ticker      atomic.Uint32
	activeAddrs *activeAddressCache
}

// New builds a Service over its collaborators. lockTimeout bounds how long
// a mutating call waits to acquire a wallet's lock before failing with
// config.ErrLockTimeout.
func New(db *storage.DB, lock *walletlock.Manager, exp *explorer.Client, br *broker.Broker, lockTimeout time.Duration) *Service {
	return &Service{Storage: db, Lock: lock, Explorer: exp, Broker: br, lockTimeout: lockTimeout, activeAddrs: newActiveAddressCache()}
}

// runLocked acquires the wallet's named lock and runs fn under it,
// mirroring §4.3: at most one holder per walletId, a timeout-bound wait
// rather than an unbounded block.
func (s *Service) runLocked(ctx context.Context, walletID string, fn func(ctx context.Context) error) error {
	lock, err := s.Lock.Acquire(ctx, walletlock.WalletResource(walletID), s.lockTimeout)
	if err != nil {
		return fmt.Errorf("acquire lock for wallet %s: %w", walletID, config.ErrLockTimeout)
	}
	defer lock.Release()
	return fn(ctx)
}

// notify stamps, persists, and publishes a wallet-scoped notification. The
// id is an epochMs-padded prefix plus a per-process ticker (§3); per §9's
// "Notification id" design note, uniqueness across notifications holds
// only within a single writer process, which is the deployment shape
// cmd/walletd assumes (storage enforces the id as a primary key as a
// backstop against a collision surfacing as a write failure rather than a
// silent duplicate).
func (s *Service) notify(walletID, notifType, creatorID string, data map[string]any) error {
	n := models.Notification{
		ID:        models.FormatNotificationID(time.Now().UnixMilli(), s.ticker.Add(1)),
		Type:      notifType,
		Data:      data,
		WalletID:  walletID,
		CreatorID: creatorID,
		CreatedOn: time.Now().Unix(),
	}
	inserted, err := s.Storage.AppendNotification(&n)
	if err != nil {
		return fmt.Errorf("persist notification %s for wallet %s: %w", notifType, walletID, err)
	}
	if inserted {
		s.Broker.Publish(n)
	}
	return nil
}
