package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// InsertAddress persists a freshly derived address.
func (d *DB) InsertAddress(a *models.Address) error {
	pubKeys, err := json.Marshal(a.PublicKeys)
	if err != nil {
		return fmt.Errorf("marshal public keys: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO addresses (address, wallet_id, path, public_keys, is_change, has_activity, last_used_on, network, created_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Address, a.WalletID, a.Path, string(pubKeys), boolToInt(a.IsChange), boolToInt(a.HasActivity), a.LastUsedOn, string(a.Network), a.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("insert address %s: %w", a.Address, err)
	}
	return nil
}

// GetAddress looks up a single address row. Returns (nil, nil) if not found.
func (d *DB) GetAddress(address string) (*models.Address, error) {
	var a models.Address
	var pubKeysJSON, network string
	var isChange, hasActivity int

	err := d.conn.QueryRow(`
		SELECT address, wallet_id, path, public_keys, is_change, has_activity, last_used_on, network, created_on
		FROM addresses WHERE address = ?`, address,
	).Scan(&a.Address, &a.WalletID, &a.Path, &pubKeysJSON, &isChange, &hasActivity, &a.LastUsedOn, &network, &a.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get address %s: %w", address, err)
	}

	if err := json.Unmarshal([]byte(pubKeysJSON), &a.PublicKeys); err != nil {
		return nil, fmt.Errorf("unmarshal public keys for %s: %w", address, err)
	}
	a.IsChange = isChange != 0
	a.HasActivity = hasActivity != 0
	a.Network = models.Network(network)

	return &a, nil
}

// ListAddresses returns every address derived for a wallet, in insertion
// (derivation) order.
func (d *DB) ListAddresses(walletID string) ([]models.Address, error) {
	rows, err := d.conn.Query(`
		SELECT address, wallet_id, path, public_keys, is_change, has_activity, last_used_on, network, created_on
		FROM addresses WHERE wallet_id = ? ORDER BY rowid`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list addresses for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.Address
	for rows.Next() {
		var a models.Address
		var pubKeysJSON, network string
		var isChange, hasActivity int
		if err := rows.Scan(&a.Address, &a.WalletID, &a.Path, &pubKeysJSON, &isChange, &hasActivity, &a.LastUsedOn, &network, &a.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan address row: %w", err)
		}
		if err := json.Unmarshal([]byte(pubKeysJSON), &a.PublicKeys); err != nil {
			return nil, fmt.Errorf("unmarshal public keys for %s: %w", a.Address, err)
		}
		a.IsChange = isChange != 0
		a.HasActivity = hasActivity != 0
		a.Network = models.Network(network)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAddressActivity records that the explorer observed a tx touching
// address, bumping the gap-limit tracking timestamp (§2, scanning gap policy).
func (d *DB) MarkAddressActivity(address string, seenOn int64) error {
	res, err := d.conn.Exec(`UPDATE addresses SET has_activity = 1, last_used_on = ? WHERE address = ? AND last_used_on < ?`,
		seenOn, address, seenOn)
	if err != nil {
		return fmt.Errorf("mark activity for address %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug("address activity recorded", "address", address, "seenOn", seenOn)
	}
	return nil
}

// CountAddresses returns the number of addresses derived for a wallet,
// optionally restricted to change or receive addresses.
func (d *DB) CountAddresses(walletID string, isChange bool) (int, error) {
	var count int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM addresses WHERE wallet_id = ? AND is_change = ?`,
		walletID, boolToInt(isChange)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count addresses for wallet %s: %w", walletID, err)
	}
	return count, nil
}
