package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/snappy"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT    NOT NULL,
	store_key  TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	compressed INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (namespace, store_key)
)`

type kvRow struct {
	Value      []byte `db:"value"`
	Compressed int    `db:"compressed"`
}

// SQLiteStore keeps values in a sqlite table, one row per (namespace, key).
// Values longer than the compression threshold are snappy-encoded.
type SQLiteStore struct {
	db                *sqlx.DB
	namespace         string
	compressThreshold int
	now               func() time.Time
}

// NewSQLiteStore creates the kv table if needed. compressThreshold <= 0 disables compression.
func NewSQLiteStore(ctx context.Context, db *sqlx.DB, namespace string, compressThreshold int) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("db.ExecContext(create kv) > %w", err)
	}
	return &SQLiteStore{
		db:                db,
		namespace:         namespace,
		compressThreshold: compressThreshold,
		now:               time.Now,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row kvRow
	err := s.db.GetContext(ctx, &row,
		"SELECT value, compressed FROM kv WHERE namespace = ? AND store_key = ?",
		s.namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(kv %s) > %w", key, err)
	}
	if row.Compressed == 0 {
		return row.Value, nil
	}
	decoded, err := snappy.Decode(nil, row.Value)
	if err != nil {
		return nil, fmt.Errorf("snappy.Decode(%s) > %w", key, err)
	}
	return decoded, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	stored := value
	compressed := 0
	if s.compressThreshold > 0 && len(value) > s.compressThreshold {
		stored = snappy.Encode(nil, value)
		compressed = 1
		slog.Default().Debug("compressed kv value",
			"key", key,
			"size", len(value),
			"compressedSize", len(stored))
	}
	if stored == nil {
		stored = []byte{}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, store_key, value, compressed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, store_key) DO UPDATE SET
			value = excluded.value,
			compressed = excluded.compressed,
			updated_at = excluded.updated_at`,
		s.namespace, key, stored, compressed, s.now().UTC()); err != nil {
		return fmt.Errorf("db.ExecContext(upsert kv %s) > %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE namespace = ? AND store_key = ?",
		s.namespace, key); err != nil {
		return fmt.Errorf("db.ExecContext(delete kv %s) > %w", key, err)
	}
	return nil
}
