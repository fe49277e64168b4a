package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// GetBlockchainTip returns the tracked ancestor hashes for a network, or a
// zero-value tip if none has been recorded yet.
func (d *DB) GetBlockchainTip(network string) (*models.BlockchainTip, error) {
	var t models.BlockchainTip
	var hashesJSON string
	err := d.conn.QueryRow(`SELECT network, hashes, updated_on FROM blockchain_tips WHERE network = ?`, network).
		Scan(&t.Network, &hashesJSON, &t.UpdatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.BlockchainTip{Network: models.Network(network)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blockchain tip for %s: %w", network, err)
	}
	if err := json.Unmarshal([]byte(hashesJSON), &t.Hashes); err != nil {
		return nil, fmt.Errorf("unmarshal tip hashes for %s: %w", network, err)
	}
	return &t, nil
}

// SaveBlockchainTip upserts the tracked ancestor hashes for a network.
func (d *DB) SaveBlockchainTip(t *models.BlockchainTip) error {
	b, err := json.Marshal(t.Hashes)
	if err != nil {
		return fmt.Errorf("marshal tip hashes: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO blockchain_tips (network, hashes, updated_on) VALUES (?, ?, ?)
		ON CONFLICT(network) DO UPDATE SET hashes = excluded.hashes, updated_on = excluded.updated_on`,
		string(t.Network), string(b), t.UpdatedOn,
	)
	if err != nil {
		return fmt.Errorf("save blockchain tip for %s: %w", t.Network, err)
	}
	return nil
}
