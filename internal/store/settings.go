// ABOUTME: Settings store: key/value pairs with optional at-rest encryption
// ABOUTME: Secret values are sealed by the store's Sealer before they reach SQLite

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore defines methods for managing settings.
type SettingsStore interface {
	SetSetting(ctx context.Context, key, value string, secret bool) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context) ([]*Setting, error)
}

var _ SettingsStore = (*SQLiteStore)(nil)

// SetSetting inserts or replaces a setting. When secret is true the value is
// encrypted and only the token is stored.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string, secret bool) error {
	if key == "" {
		return errors.New("setting key is required")
	}

	stored := value
	if secret {
		token, err := s.sealer.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting setting %q: %w", key, err)
		}
		stored = token
	}

	query := `
		INSERT INTO settings (key, value, is_secret, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			is_secret = excluded.is_secret,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, stored, boolToInt(secret), s.timestamp()); err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}

	s.logger.Debug("set setting", "key", key, "secret", secret)
	return nil
}

// GetSetting returns the plaintext value of key. ok is false when the key
// does not exist.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	var isSecret bool
	err := s.db.QueryRowContext(ctx,
		`SELECT value, is_secret FROM settings WHERE key = ?`, key,
	).Scan(&value, &isSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting: %w", err)
	}

	if isSecret {
		value, err = s.sealer.Decrypt(value)
		if err != nil {
			return "", false, fmt.Errorf("decrypting setting %q: %w", key, err)
		}
	}
	return value, true, nil
}

// DeleteSetting removes a setting.
// Returns ErrNotFound if the setting doesn't exist.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSettings returns every setting ordered by key. Secret values are
// decrypted.
func (s *SQLiteStore) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, is_secret, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		var setting Setting
		var updatedAt string
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.IsSecret, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		if setting.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing setting updated_at: %w", err)
		}
		settings = append(settings, &setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}

	// Decrypt after the cursor is closed so a slow Sealer never holds it open.
	for _, setting := range settings {
		if !setting.IsSecret {
			continue
		}
		if setting.Value, err = s.sealer.Decrypt(setting.Value); err != nil {
			return nil, fmt.Errorf("decrypting setting %q: %w", setting.Key, err)
		}
	}
	return settings, nil
}
