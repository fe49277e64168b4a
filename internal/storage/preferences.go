package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// UpsertPreferences stores a copayer's notification/display preferences.
func (d *DB) UpsertPreferences(p *models.Preferences) error {
	_, err := d.conn.Exec(`
		INSERT INTO preferences (wallet_id, copayer_id, email, language, unit)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(wallet_id, copayer_id) DO UPDATE SET
			email = excluded.email, language = excluded.language, unit = excluded.unit`,
		p.WalletID, p.CopayerID, p.Email, p.Language, string(p.Unit),
	)
	if err != nil {
		return fmt.Errorf("upsert preferences for %s/%s: %w", p.WalletID, p.CopayerID, err)
	}
	return nil
}

// GetPreferences returns a copayer's preferences, or (nil, nil) if never set.
func (d *DB) GetPreferences(walletID, copayerID string) (*models.Preferences, error) {
	var p models.Preferences
	var unit string
	err := d.conn.QueryRow(`
		SELECT wallet_id, copayer_id, email, language, unit FROM preferences WHERE wallet_id = ? AND copayer_id = ?`,
		walletID, copayerID,
	).Scan(&p.WalletID, &p.CopayerID, &p.Email, &p.Language, &unit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences for %s/%s: %w", walletID, copayerID, err)
	}
	p.Unit = models.Unit(unit)
	return &p, nil
}

// ListWalletPreferences returns every copayer's preferences for a wallet,
// used by the push dispatcher to pick each recipient's language (§5).
func (d *DB) ListWalletPreferences(walletID string) ([]models.Preferences, error) {
	rows, err := d.conn.Query(`SELECT wallet_id, copayer_id, email, language, unit FROM preferences WHERE wallet_id = ?`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list preferences for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.Preferences
	for rows.Next() {
		var p models.Preferences
		var unit string
		if err := rows.Scan(&p.WalletID, &p.CopayerID, &p.Email, &p.Language, &unit); err != nil {
			return nil, fmt.Errorf("scan preferences row: %w", err)
		}
		p.Unit = models.Unit(unit)
		out = append(out, p)
	}
	return out, rows.Err()
}
