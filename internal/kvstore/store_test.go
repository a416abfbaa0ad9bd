package kvstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/phrasebook/internal/config"
	"github.com/at-ishikawa/phrasebook/internal/database"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(config.StorageConfig{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSQLiteStore(t *testing.T, db *sqlx.DB, namespace string, threshold int) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), db, namespace, threshold)
	require.NoError(t, err)
	return store
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t, openTestDB(t), "test", 16) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "small", []byte("abc")))
			got, err := store.Get(ctx, "small")
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)

			large := []byte(strings.Repeat("phrase ", 100))
			require.NoError(t, store.Set(ctx, "large", large))
			got, err = store.Get(ctx, "large")
			require.NoError(t, err)
			assert.Equal(t, large, got)

			require.NoError(t, store.Set(ctx, "small", []byte("overwritten")))
			got, err = store.Get(ctx, "small")
			require.NoError(t, err)
			assert.Equal(t, []byte("overwritten"), got)

			require.NoError(t, store.Set(ctx, "empty", nil))
			got, err = store.Get(ctx, "empty")
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, store.Delete(ctx, "small"))
			_, err = store.Get(ctx, "small")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, store.Delete(ctx, "small"))
		})
	}
}

func TestSQLiteStore_CompressesLargeValues(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := newSQLiteStore(t, db, "test", 64)

	large := []byte(strings.Repeat("a", 4096))
	require.NoError(t, store.Set(ctx, "large", large))
	require.NoError(t, store.Set(ctx, "small", []byte("tiny")))

	var rows []struct {
		Key        string `db:"store_key"`
		Size       int    `db:"size"`
		Compressed int    `db:"compressed"`
	}
	require.NoError(t, db.SelectContext(ctx, &rows,
		"SELECT store_key, length(value) AS size, compressed FROM kv ORDER BY store_key"))
	require.Len(t, rows, 2)
	assert.Equal(t, "large", rows[0].Key)
	assert.Equal(t, 1, rows[0].Compressed)
	assert.Less(t, rows[0].Size, len(large))
	assert.Equal(t, 0, rows[1].Compressed)
}

func TestSQLiteStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	alice := newSQLiteStore(t, db, "alice", 0)
	bob := newSQLiteStore(t, db, "bob", 0)

	require.NoError(t, alice.Set(ctx, "phrases", []byte("[1]")))
	_, err := bob.Get(ctx, "phrases")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, bob.Set(ctx, "phrases", []byte("[2]")))
	got, err := alice.Get(ctx, "phrases")
	require.NoError(t, err)
	assert.Equal(t, []byte("[1]"), got)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := GetJSON[[]string](ctx, store, "ids")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, store, "ids", []string{"a", "b"}))
	got, ok, err := GetJSON[[]string](ctx, store, "ids")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, store.Set(ctx, "broken", []byte("{")))
	_, _, err = GetJSON[[]string](ctx, store, "broken")
	assert.Error(t, err)
}
