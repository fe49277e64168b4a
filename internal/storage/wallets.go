package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// CreateWallet inserts a new wallet row. An id that already exists fails on
// the primary key and comes back as a wrapped driver error.
func (d *DB) CreateWallet(w *models.Wallet) error {
	_, err := d.conn.Exec(`
		INSERT INTO wallets (id, name, m, n, network, pub_key, derivation_strategy, address_type,
			single_address, receive_index, change_index, scan_status, created_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.M, w.N, string(w.Network), w.PubKey, string(w.DerivationStrategy), string(w.AddressType),
		boolToInt(w.SingleAddress), w.AddressManager.ReceiveIndex, w.AddressManager.ChangeIndex,
		string(w.ScanStatus), w.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("create wallet %s: %w", w.ID, err)
	}
	slog.Info("wallet created", "walletId", w.ID, "m", w.M, "n", w.N, "network", w.Network)
	return nil
}

// GetWallet loads a wallet and its copayers. Returns (nil, nil) if not found.
func (d *DB) GetWallet(id string) (*models.Wallet, error) {
	var w models.Wallet
	var network, derivation, addrType, scanStatus string
	var singleAddress int

	err := d.conn.QueryRow(`
		SELECT id, name, m, n, network, pub_key, derivation_strategy, address_type,
			single_address, receive_index, change_index, scan_status, created_on
		FROM wallets WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.M, &w.N, &network, &w.PubKey, &derivation, &addrType,
		&singleAddress, &w.AddressManager.ReceiveIndex, &w.AddressManager.ChangeIndex, &scanStatus, &w.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", id, err)
	}

	w.Network = models.Network(network)
	w.DerivationStrategy = models.DerivationStrategy(derivation)
	w.AddressType = models.AddressType(addrType)
	w.ScanStatus = models.ScanStatus(scanStatus)
	w.SingleAddress = singleAddress != 0

	copayers, err := d.listCopayers(id)
	if err != nil {
		return nil, err
	}
	w.Copayers = copayers

	return &w, nil
}

// AddCopayer appends a copayer row to wallet_id, enforcing uniqueness on
// (wallet_id, xpub_key) via the schema's UNIQUE constraint.
func (d *DB) AddCopayer(c *models.Copayer) error {
	reqKeys, err := json.Marshal(c.RequestPubKeys)
	if err != nil {
		return fmt.Errorf("marshal request pub keys: %w", err)
	}

	_, err = d.conn.Exec(`
		INSERT INTO copayers (id, wallet_id, name, copayer_index, xpub_key, request_pub_keys, custom_data, created_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WalletID, c.Name, c.CopayerIndex, c.XPubKey, string(reqKeys), c.CustomData, c.CreatedOn,
	)
	if err != nil {
		return fmt.Errorf("add copayer %s to wallet %s: %w", c.ID, c.WalletID, err)
	}
	slog.Info("copayer added", "walletId", c.WalletID, "copayerId", c.ID, "index", c.CopayerIndex)
	return nil
}

// UpdateCopayerRequestPubKeys persists an appended RequestPubKeys list,
// used when a copayer adds an access key from a new device (addAccess).
// Earlier keys stay in the list and remain valid: request authentication
// accepts a signature from any registered key.
func (d *DB) UpdateCopayerRequestPubKeys(copayerID string, keys []models.RequestPubKey) error {
	b, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal request pub keys: %w", err)
	}
	res, err := d.conn.Exec(`UPDATE copayers SET request_pub_keys = ? WHERE id = ?`, string(b), copayerID)
	if err != nil {
		return fmt.Errorf("update copayer %s request keys: %w", copayerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update copayer %s request keys: no such copayer", copayerID)
	}
	return nil
}

// GetCopayer loads a single copayer by its global id, independent of its
// wallet — used by request-signature auth, which only has a copayerId off
// the x-identity header and must resolve both the wallet and the
// registered request keys from it alone. Returns (nil, nil) if not found.
func (d *DB) GetCopayer(id string) (*models.Copayer, error) {
	var c models.Copayer
	var reqKeysJSON string
	err := d.conn.QueryRow(`
		SELECT id, wallet_id, name, copayer_index, xpub_key, request_pub_keys, custom_data, created_on
		FROM copayers WHERE id = ?`, id,
	).Scan(&c.ID, &c.WalletID, &c.Name, &c.CopayerIndex, &c.XPubKey, &reqKeysJSON, &c.CustomData, &c.CreatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get copayer %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(reqKeysJSON), &c.RequestPubKeys); err != nil {
		return nil, fmt.Errorf("unmarshal request pub keys for copayer %s: %w", c.ID, err)
	}
	return &c, nil
}

func (d *DB) listCopayers(walletID string) ([]models.Copayer, error) {
	rows, err := d.conn.Query(`
		SELECT id, wallet_id, name, copayer_index, xpub_key, request_pub_keys, custom_data, created_on
		FROM copayers WHERE wallet_id = ? ORDER BY copayer_index`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list copayers for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.Copayer
	for rows.Next() {
		var c models.Copayer
		var reqKeysJSON string
		if err := rows.Scan(&c.ID, &c.WalletID, &c.Name, &c.CopayerIndex, &c.XPubKey, &reqKeysJSON, &c.CustomData, &c.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan copayer row: %w", err)
		}
		if err := json.Unmarshal([]byte(reqKeysJSON), &c.RequestPubKeys); err != nil {
			return nil, fmt.Errorf("unmarshal request pub keys for copayer %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateAddressManager persists the next receive/change indices after a
// batch of addresses is derived, so the gap policy survives a restart.
func (d *DB) UpdateAddressManager(walletID string, m models.AddressManager) error {
	_, err := d.conn.Exec(`UPDATE wallets SET receive_index = ?, change_index = ? WHERE id = ?`,
		m.ReceiveIndex, m.ChangeIndex, walletID)
	if err != nil {
		return fmt.Errorf("update address manager for wallet %s: %w", walletID, err)
	}
	return nil
}

// UpdateScanStatus transitions a wallet's address-scan status.
func (d *DB) UpdateScanStatus(walletID string, status models.ScanStatus) error {
	_, err := d.conn.Exec(`UPDATE wallets SET scan_status = ? WHERE id = ?`, string(status), walletID)
	if err != nil {
		return fmt.Errorf("update scan status for wallet %s: %w", walletID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
