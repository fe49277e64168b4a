package storage

import (
	"fmt"
)

// TryAcquireLock attempts to take the named lock for holder until expiresOn
// (unix millis). Succeeds if the lock row is absent or already expired.
// Backed by a unique row per lock name so it survives process restarts —
// a crashed holder's lease simply expires rather than needing explicit
// release.
func (d *DB) TryAcquireLock(name, holder string, now, expiresOn int64) (bool, error) {
	res, err := d.conn.Exec(`
		INSERT INTO wallet_locks (name, holder, expires_on) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_on = excluded.expires_on
		WHERE wallet_locks.expires_on < ?`,
		name, holder, expiresOn, now,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if n > 0 {
		return true, nil
	}

	// RowsAffected is 0 both when the row exists-and-unexpired, and on some
	// driver/versions when the INSERT path itself was taken without an
	// UPDATE count. Disambiguate by reading back the holder.
	var existingHolder string
	var expiry int64
	err = d.conn.QueryRow(`SELECT holder, expires_on FROM wallet_locks WHERE name = ?`, name).Scan(&existingHolder, &expiry)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return existingHolder == holder && expiry == expiresOn, nil
}

// RenewLock extends an already-held lock's expiry, failing if holder no
// longer owns it (e.g. it expired and was taken by another process).
func (d *DB) RenewLock(name, holder string, expiresOn int64) (bool, error) {
	res, err := d.conn.Exec(`UPDATE wallet_locks SET expires_on = ? WHERE name = ? AND holder = ?`,
		expiresOn, name, holder)
	if err != nil {
		return false, fmt.Errorf("renew lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lock %s: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLock drops the named lock if still held by holder.
func (d *DB) ReleaseLock(name, holder string) error {
	_, err := d.conn.Exec(`DELETE FROM wallet_locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
