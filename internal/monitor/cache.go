package monitor

import (
	"sync"
	"time"
)

// HistoryCache tracks, per wallet, when its tx-history view last became
// stale (§4.4's "soft-reset the tx-history cache"). It holds no history
// data itself — a caller serving /txhistory compares its own cached
// snapshot's timestamp against InvalidatedAt(walletID) and refetches if the
// snapshot predates it.
type HistoryCache struct {
	mu            sync.RWMutex
	invalidatedOn map[string]int64
	globalEpoch   int64
}

// NewHistoryCache builds an empty cache.
func NewHistoryCache() *HistoryCache {
	return &HistoryCache{invalidatedOn: make(map[string]int64)}
}

// Invalidate marks walletID's history view stale as of now.
func (c *HistoryCache) Invalidate(walletID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidatedOn[walletID] = time.Now().UnixNano()
}

// InvalidateAll marks every wallet's history view stale as of now — used
// when a new block touches an unknown number of wallets at once.
func (c *HistoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalEpoch = time.Now().UnixNano()
}

// InvalidatedAt returns the timestamp (UnixNano) as of which walletID's
// history view should be considered stale.
func (c *HistoryCache) InvalidatedAt(walletID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v := c.invalidatedOn[walletID]; v > c.globalEpoch {
		return v
	}
	return c.globalEpoch
}
