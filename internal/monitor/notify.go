package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// dedupVersion is folded into every dedup hash so a future change to the
// hashed fields can't collide with keys computed under an older scheme.
const dedupVersion = 1

// notify stamps, persists, and publishes a notification produced by the
// monitor. Unlike walletsvc/txproposal's notify (driven once per mutating
// API call), the events here can be re-delivered by the explorer socket's
// reconnect-and-replay or by reprocessing a block during a reorg walk, so
// every monitor notification carries a DedupKey: AppendNotification silently
// absorbs a repeat instead of emitting it twice.
func (m *Monitor) notify(walletID, notifType string, data map[string]any) error {
	key, err := dedupKey(notifType, walletID, data)
	if err != nil {
		return fmt.Errorf("compute dedup key for %s/%s: %w", notifType, walletID, err)
	}

	n := models.Notification{
		ID:        models.FormatNotificationID(time.Now().UnixMilli(), m.ticker.Add(1)),
		Type:      notifType,
		Data:      data,
		WalletID:  walletID,
		CreatedOn: nowUnix(),
		DedupKey:  key,
	}
	inserted, err := m.Storage.AppendNotification(&n)
	if err != nil {
		return fmt.Errorf("persist notification %s for %s: %w", notifType, walletID, err)
	}
	if inserted {
		m.Broker.Publish(n)
	}
	return nil
}

// dedupKey computes sha256(sha256(version || type || jsonCanonical(data) ||
// walletId)). encoding/json already renders map[string]any keys in sorted
// order, which is enough canonicalization for the flat string/number/bool
// payloads the monitor ever puts in Data.
func dedupKey(notifType, walletID string, data map[string]any) (string, error) {
	canon, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	buf := fmt.Sprintf("%d%s%s%s", dedupVersion, notifType, canon, walletID)
	first := sha256.Sum256([]byte(buf))
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:]), nil
}
