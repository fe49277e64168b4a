package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// AppendNotification inserts a notification row. Notification IDs are
// lexicographically sortable (§3), so callers can page with "since this id".
// When n.DedupKey is set and a notification with the same (walletId, type,
// dedupKey) already exists, the insert is silently skipped and
// AppendNotification returns (false, nil) — the caller's retried handler
// invocation must not treat this as an error.
func (d *DB) AppendNotification(n *models.Notification) (bool, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return false, fmt.Errorf("marshal notification data: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO notifications (id, type, data, wallet_id, creator_id, created_on, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, string(data), n.WalletID, n.CreatorID, n.CreatedOn, n.DedupKey,
	)
	if err != nil {
		if n.DedupKey != "" && isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("append notification %s: %w", n.ID, err)
	}
	return true, nil
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// txHistoryTypes are the notification kinds GET /txhistory paginates over —
// every event that represents a confirmed-or-pending movement of the
// wallet's balance, as opposed to membership/proposal-lifecycle chatter.
var txHistoryTypes = []string{
	models.NotificationNewIncomingTx,
	models.NotificationNewOutgoingTx,
	models.NotificationNewOutgoingTxByThirdParty,
}

// ListTxHistory returns a wallet's movement notifications, newest first,
// skipping skip rows and returning at most limit (§6 "GET /txhistory").
func (d *DB) ListTxHistory(walletID string, skip, limit int) ([]models.Notification, error) {
	rows, err := d.conn.Query(`
		SELECT id, type, data, wallet_id, creator_id, created_on
		FROM notifications
		WHERE wallet_id = ? AND type IN (?, ?, ?)
		ORDER BY id DESC LIMIT ? OFFSET ?`,
		walletID, txHistoryTypes[0], txHistoryTypes[1], txHistoryTypes[2], limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list tx history for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var dataJSON string
		if err := rows.Scan(&n.ID, &n.Type, &dataJSON, &n.WalletID, &n.CreatorID, &n.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan tx history row: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal tx history data for %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListNotificationsSince returns notifications for walletID with id greater
// than sinceID, oldest first, up to limit rows. Network-wide broadcasts
// (NewBlock) are stored under the network name, so pass that name as
// walletID to list them; an empty walletID matches no wallet.
func (d *DB) ListNotificationsSince(walletID, sinceID string, limit int) ([]models.Notification, error) {
	rows, err := d.conn.Query(`
		SELECT id, type, data, wallet_id, creator_id, created_on
		FROM notifications WHERE wallet_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		walletID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var dataJSON string
		if err := rows.Scan(&n.ID, &n.Type, &dataJSON, &n.WalletID, &n.CreatorID, &n.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &n.Data); err != nil {
			return nil, fmt.Errorf("unmarshal notification data for %s: %w", n.ID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
