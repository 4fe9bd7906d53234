package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// GetSetting returns the stored value for key, or ok=false if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	if scanErr := row.Scan(&value); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, model.Database(scanErr, "failed to read setting %s", key)
	}
	return value, true, nil
}

// SetSetting writes a single allowlisted key. Callers validate the
// allowlist; this is also enforced here so every write path is protected.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if !model.AllowedSettingKeys[key] {
		return model.UserVisible("unknown setting %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return model.Database(err, "failed to write setting %s", key)
	}
	return nil
}

// GetAppSettings returns every stored setting key/value pair.
func (s *Store) GetAppSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, model.Database(err, "failed to read settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, model.Database(err, "failed to scan setting row")
		}
		out[k] = v
	}
	return out, nil
}

// SaveAppSettings writes or deletes multiple keys in a single transaction:
// an unknown key fails the whole call, and a key mapped to nil is deleted
// rather than written, giving all-or-nothing semantics across the batch.
func (s *Store) SaveAppSettings(ctx context.Context, values map[string]*string) error {
	for key := range values {
		if !model.AllowedSettingKeys[key] {
			return model.UserVisible("unknown setting %q", key)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Database(err, "failed to begin settings transaction")
	}
	defer tx.Rollback()

	for key, value := range values {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
				return model.Database(err, "failed to delete setting %s", key)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, *value)
		if err != nil {
			return model.Database(err, "failed to write setting %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Database(err, "failed to commit settings transaction")
	}
	return nil
}
