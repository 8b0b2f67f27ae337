// ABOUTME: Provider credential store with the single-default invariant
// ABOUTME: API keys are sealed at rest; every flag change runs in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ProviderStore defines methods for managing provider credentials.
type ProviderStore interface {
	UpsertProvider(ctx context.Context, in ProviderUpsert) (*ProviderSummary, error)
	SetDefaultProvider(ctx context.Context, provider string) error
	DeleteProvider(ctx context.Context, provider string) error
	GetProvider(ctx context.Context, provider string) (*ProviderSummary, error)
	ListProviders(ctx context.Context) ([]*ProviderSummary, error)
	HasAnyProvider(ctx context.Context) (bool, error)
	DefaultProviderCredentials(ctx context.Context) (*ProviderCredential, error)
}

var _ ProviderStore = (*SQLiteStore)(nil)

const providerColumns = `id, provider, display_name, api_key, default_model, is_default, created_at, updated_at`

// UpsertProvider inserts or updates a provider keyed on its name. The row
// becomes default when requested or when it is the first provider. An update
// that does not request default never clears an existing default flag.
func (s *SQLiteStore) UpsertProvider(ctx context.Context, in ProviderUpsert) (*ProviderSummary, error) {
	in.Provider = strings.TrimSpace(in.Provider)
	if in.Provider == "" {
		return nil, errors.New("provider name is required")
	}
	if in.DisplayName == "" {
		in.DisplayName = in.Provider
	}

	// An empty key on update keeps the stored one.
	var token string
	if in.APIKey != "" {
		sealed, err := s.sealer.Encrypt(in.APIKey)
		if err != nil {
			return nil, fmt.Errorf("encrypting api key: %w", err)
		}
		token = sealed
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count, existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(provider = ?), 0) FROM providers`, in.Provider,
		).Scan(&count, &existing); err != nil {
			return fmt.Errorf("counting providers: %w", err)
		}
		if existing == 0 && token == "" {
			return ErrAPIKeyRequired
		}

		shouldDefault := in.MakeDefault || count == 0
		if shouldDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE providers SET is_default = 0`); err != nil {
				return fmt.Errorf("clearing default flags: %w", err)
			}
		}

		now := s.timestamp()
		query := `
			INSERT INTO providers (provider, display_name, api_key, default_model, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider) DO UPDATE SET
				display_name = excluded.display_name,
				api_key = CASE WHEN excluded.api_key = '' THEN providers.api_key ELSE excluded.api_key END,
				default_model = excluded.default_model,
				is_default = CASE WHEN excluded.is_default = 1 THEN 1 ELSE providers.is_default END,
				updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, query,
			in.Provider,
			in.DisplayName,
			token,
			nullString(in.DefaultModel),
			boolToInt(shouldDefault),
			now,
			now,
		); err != nil {
			return fmt.Errorf("upserting provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("upserted provider", "provider", in.Provider, "make_default", in.MakeDefault)
	return s.GetProvider(ctx, in.Provider)
}

// SetDefaultProvider makes provider the only default row.
// Returns ErrNotFound, with every flag unchanged, if it doesn't exist.
func (s *SQLiteStore) SetDefaultProvider(ctx context.Context, provider string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM providers WHERE provider = ?`, provider).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up provider: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE providers SET is_default = CASE WHEN provider = ? THEN 1 ELSE 0 END`,
			provider,
		); err != nil {
			return fmt.Errorf("setting default provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("set default provider", "provider", provider)
	return nil
}

// DeleteProvider removes a provider. If it was the default and others
// remain, the lowest-id remaining row becomes default.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, provider string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var wasDefault bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_default FROM providers WHERE provider = ?`, provider,
		).Scan(&wasDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up provider: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE provider = ?`, provider); err != nil {
			return fmt.Errorf("deleting provider: %w", err)
		}

		if wasDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE providers SET is_default = 1 WHERE id = (SELECT MIN(id) FROM providers)`,
			); err != nil {
				return fmt.Errorf("promoting default provider: %w", err)
			}
		}
		s.logger.Info("deleted provider", "provider", provider, "was_default", wasDefault)
		return nil
	})
}

// GetProvider returns a provider summary.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) GetProvider(ctx context.Context, provider string) (*ProviderSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE provider = ?`, provider)
	summary, _, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListProviders returns every provider ordered by display name.
func (s *SQLiteStore) ListProviders(ctx context.Context) ([]*ProviderSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY display_name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []*ProviderSummary
	for rows.Next() {
		summary, _, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating providers: %w", err)
	}
	return providers, nil
}

// HasAnyProvider reports whether at least one provider is stored.
func (s *SQLiteStore) HasAnyProvider(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM providers)`,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking providers: %w", err)
	}
	return exists, nil
}

// DefaultProviderCredentials returns the decrypted default credential,
// falling back to the lowest-id row if no row is flagged.
// Returns ErrNoProvider if no provider is stored.
func (s *SQLiteStore) DefaultProviderCredentials(ctx context.Context) (*ProviderCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY is_default DESC, id ASC LIMIT 1`)
	summary, token, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoProvider
	}
	if err != nil {
		return nil, err
	}

	apiKey, err := s.sealer.Decrypt(token)
	if err != nil {
		return nil, fmt.Errorf("decrypting api key for %s: %w", summary.Provider, err)
	}
	return &ProviderCredential{
		Provider:     summary.Provider,
		APIKey:       apiKey,
		DefaultModel: summary.DefaultModel,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanProvider returns the summary and the still-sealed api key token.
func scanProvider(row rowScanner) (*ProviderSummary, string, error) {
	var p ProviderSummary
	var token string
	var defaultModel sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Provider, &p.DisplayName, &token, &defaultModel, &p.IsDefault, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("scanning provider: %w", err)
	}

	p.DefaultModel = defaultModel.String
	p.HasAPIKey = token != ""
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, "", fmt.Errorf("parsing provider created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, "", fmt.Errorf("parsing provider updated_at: %w", err)
	}
	return &p, token, nil
}
