// ABOUTME: Tests for provider credentials and the single-default invariant
// ABOUTME: Includes concurrent upserts and sqlmock rollback paths

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countDefaults(t *testing.T, s *SQLiteStore) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM providers WHERE is_default = 1`).Scan(&n))
	return n
}

func defaultName(t *testing.T, s *SQLiteStore) string {
	t.Helper()
	var name string
	require.NoError(t, s.db.QueryRow(`SELECT provider FROM providers WHERE is_default = 1`).Scan(&name))
	return name
}

func TestUpsertProvider_FirstBecomesDefault(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	summary, err := store.UpsertProvider(ctx, ProviderUpsert{
		Provider: "openai", DisplayName: "OpenAI", APIKey: "sk-1", DefaultModel: "gpt-4o",
	})
	require.NoError(t, err)
	assert.True(t, summary.IsDefault)
	assert.True(t, summary.HasAPIKey)
	assert.Equal(t, "gpt-4o", summary.DefaultModel)
	assert.Equal(t, 1, countDefaults(t, store))
}

func TestUpsertProvider_ExactlyOneDefault(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	names := []string{"openai", "openrouter", "anthropic", "mistral", "groq"}
	for i, name := range names {
		_, err := store.UpsertProvider(ctx, ProviderUpsert{
			Provider:    name,
			APIKey:      "key-" + name,
			MakeDefault: i == 0,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countDefaults(t, store), "after upserting %s", name)
	}
	assert.Equal(t, "openai", defaultName(t, store))

	require.NoError(t, store.SetDefaultProvider(ctx, "mistral"))
	assert.Equal(t, 1, countDefaults(t, store))
	assert.Equal(t, "mistral", defaultName(t, store))
}

func TestUpsertProvider_NonDefaultUpdateKeepsFlag(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", APIKey: "sk-1"})
	require.NoError(t, err)
	_, err = store.UpsertProvider(ctx, ProviderUpsert{Provider: "openrouter", APIKey: "sk-2"})
	require.NoError(t, err)

	// Re-saving the default without asking for default must not demote it.
	summary, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", DisplayName: "OpenAI (work)", APIKey: "sk-3"})
	require.NoError(t, err)
	assert.True(t, summary.IsDefault)
	assert.Equal(t, "OpenAI (work)", summary.DisplayName)
	assert.Equal(t, 1, countDefaults(t, store))

	cred, err := store.DefaultProviderCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-3", cred.APIKey)
}

func TestUpsertProvider_PromoteMovesFlag(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", APIKey: "sk-1"})
	require.NoError(t, err)
	summary, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openrouter", APIKey: "sk-2", MakeDefault: true})
	require.NoError(t, err)
	assert.True(t, summary.IsDefault)

	openai, err := store.GetProvider(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, openai.IsDefault)
	assert.Equal(t, 1, countDefaults(t, store))
}

func TestUpsertProvider_EmptyKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai"})
	require.ErrorIs(t, err, ErrAPIKeyRequired)

	has, err := store.HasAnyProvider(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", APIKey: "sk-keep"})
	require.NoError(t, err)
	_, err = store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", DefaultModel: "gpt-4.1"})
	require.NoError(t, err)

	cred, err := store.DefaultProviderCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-keep", cred.APIKey)
	assert.Equal(t, "gpt-4.1", cred.DefaultModel)
}

func TestUpsertProvider_KeySealedAtRest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", APIKey: "sk-plaintext-canary"})
	require.NoError(t, err)

	var raw string
	require.NoError(t, store.db.QueryRow(`SELECT api_key FROM providers WHERE provider = 'openai'`).Scan(&raw))
	assert.NotContains(t, raw, "sk-plaintext-canary")
}

func TestSetDefaultProvider_UnknownLeavesFlags(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openai", APIKey: "sk-1"})
	require.NoError(t, err)

	err = store.SetDefaultProvider(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, countDefaults(t, store))
	assert.Equal(t, "openai", defaultName(t, store))
}

func TestDeleteProvider_PromotesLowestID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: name, APIKey: "k"})
		require.NoError(t, err)
	}
	require.NoError(t, store.SetDefaultProvider(ctx, "b"))

	require.NoError(t, store.DeleteProvider(ctx, "b"))
	assert.Equal(t, "a", defaultName(t, store))

	require.NoError(t, store.DeleteProvider(ctx, "c"))
	assert.Equal(t, "a", defaultName(t, store))

	require.NoError(t, store.DeleteProvider(ctx, "a"))
	assert.ErrorIs(t, store.DeleteProvider(ctx, "a"), ErrNotFound)

	_, err := store.DefaultProviderCredentials(ctx)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestListProviders_OrderAndNoKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "openrouter", DisplayName: "OpenRouter", APIKey: "k1"})
	require.NoError(t, err)
	_, err = store.UpsertProvider(ctx, ProviderUpsert{Provider: "anthropic", DisplayName: "anthropic", APIKey: "k2"})
	require.NoError(t, err)

	providers, err := store.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "anthropic", providers[0].Provider)
	assert.Equal(t, "openrouter", providers[1].Provider)
	assert.True(t, providers[1].IsDefault)
}

func TestDefaultProviderCredentials_FallsBackToLowestID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertProvider(ctx, ProviderUpsert{Provider: "first", APIKey: "k1"})
	require.NoError(t, err)
	_, err = store.UpsertProvider(ctx, ProviderUpsert{Provider: "second", APIKey: "k2"})
	require.NoError(t, err)

	// Corrupt state that the write paths never produce.
	_, err = store.db.Exec(`UPDATE providers SET is_default = 0`)
	require.NoError(t, err)

	cred, err := store.DefaultProviderCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", cred.Provider)
	assert.Equal(t, "k1", cred.APIKey)
}

func TestUpsertProvider_ConcurrentPromotions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertProvider(ctx, ProviderUpsert{
				Provider:    fmt.Sprintf("p%d", i),
				APIKey:      "k",
				MakeDefault: i%2 == 0,
			})
			errs <- err
		}(i)
	}

	// Readers run alongside the writers and must never see two defaults.
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			var n, total int
			err := store.db.QueryRow(
				`SELECT COALESCE(SUM(is_default), 0), COUNT(*) FROM providers`,
			).Scan(&n, &total)
			if err != nil {
				continue
			}
			if total > 0 && n != 1 {
				t.Errorf("observed %d defaults across %d providers", n, total)
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, countDefaults(t, store))
}

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return newStoreWithDB(db, testSealer(t), buildOptions(nil)), mock
}

func TestUpsertProvider_RollsBackOnWriteFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(provider = \?\), 0\) FROM providers`).
		WithArgs("openai").
		WillReturnRows(sqlmock.NewRows([]string{"count", "existing"}).AddRow(2, 0))
	mock.ExpectExec(`UPDATE providers SET is_default = 0`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO providers`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := store.UpsertProvider(context.Background(), ProviderUpsert{
		Provider: "openai", APIKey: "sk", MakeDefault: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestSetDefaultProvider_MissingRowRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM providers WHERE provider = \?`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.SetDefaultProvider(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertProvider_AlongsideOtherWriters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const (
		workers = 4
		rounds  = 50
	)
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds*3)
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := store.UpsertProvider(ctx, ProviderUpsert{
					Provider:    fmt.Sprintf("p%d", i%5),
					APIKey:      fmt.Sprintf("k%d-%d", w, i),
					MakeDefault: i%3 == 0,
				})
				if err != nil {
					errs <- fmt.Errorf("upsert: %w", err)
				}
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if err := store.SetSetting(ctx, fmt.Sprintf("k%d", w), fmt.Sprint(i), false); err != nil {
					errs <- fmt.Errorf("set setting: %w", err)
				}
				if _, err := store.CreateConversation(ctx, ""); err != nil {
					errs <- fmt.Errorf("create conversation: %w", err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, countDefaults(t, store))
}
