// Package mysqlstore is the server-side DocumentStore backed by MySQL.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/schemas"
)

var _ remote.DocumentStore = (*Store)(nil)

const selectDocument = "SELECT path, fields, schema_version, device_id, version, updated_at FROM documents WHERE path = ?"

type documentRow struct {
	Path          string    `db:"path"`
	Fields        []byte    `db:"fields"`
	SchemaVersion int       `db:"schema_version"`
	DeviceID      string    `db:"device_id"`
	Version       int64     `db:"version"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row documentRow) document() (remote.Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(row.Fields, &fields); err != nil {
		return remote.Document{}, fmt.Errorf("json.Unmarshal(fields of %s) > %w", row.Path, err)
	}
	return remote.Document{
		Path:   row.Path,
		Fields: fields,
		Metadata: remote.Metadata{
			SchemaVersion: row.SchemaVersion,
			UpdatedAt:     row.UpdatedAt,
			DeviceID:      row.DeviceID,
		},
	}, nil
}

// Store keeps one row per document path. Writes merge fields inside a
// transaction and bump a per-row version that subscribers poll for.
type Store struct {
	db           *sqlx.DB
	pollInterval time.Duration
}

func New(db *sqlx.DB, pollInterval time.Duration) *Store {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Store{db: db, pollInterval: pollInterval}
}

// Migrate applies the embedded schema files in name order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	names, err := fs.Glob(schemas.Migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("fs.Glob() > %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := fs.ReadFile(schemas.Migrations, name)
		if err != nil {
			return fmt.Errorf("fs.ReadFile(%s) > %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("db.ExecContext(%s) > %w", name, err)
		}
		slog.Default().Debug("applied migration", "file", name)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, path string, fields map[string]json.RawMessage, meta remote.Metadata) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db.BeginTxx() > %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current documentRow
	err = tx.GetContext(ctx, &current, selectDocument+" FOR UPDATE", path)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("tx.GetContext(document %s) > %w", path, err)
	}
	var existing map[string]json.RawMessage
	if len(current.Fields) > 0 {
		if err := json.Unmarshal(current.Fields, &existing); err != nil {
			return fmt.Errorf("json.Unmarshal(fields of %s) > %w", path, err)
		}
	}

	merged, err := json.Marshal(remote.MergeFields(existing, fields))
	if err != nil {
		return fmt.Errorf("json.Marshal(fields of %s) > %w", path, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (path, fields, schema_version, device_id, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			fields = VALUES(fields),
			schema_version = VALUES(schema_version),
			device_id = VALUES(device_id),
			version = VALUES(version),
			updated_at = VALUES(updated_at)`,
		path, merged, meta.SchemaVersion, meta.DeviceID, current.Version+1, meta.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("tx.ExecContext(upsert document %s) > %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx.Commit() > %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (remote.Document, error) {
	row, err := s.getRow(ctx, path)
	if err != nil {
		return remote.Document{}, err
	}
	return row.document()
}

func (s *Store) getRow(ctx context.Context, path string) (documentRow, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, selectDocument, path)
	if errors.Is(err, sql.ErrNoRows) {
		return documentRow{}, remote.ErrNotFound
	}
	if err != nil {
		return documentRow{}, fmt.Errorf("db.GetContext(document %s) > %w", path, err)
	}
	return row, nil
}

// Subscribe polls the row version and calls onChange whenever it moves.
func (s *Store) Subscribe(ctx context.Context, path string, onChange func(remote.Document)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var lastVersion int64
		for {
			lastVersion = s.poll(ctx, path, lastVersion, onChange)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *Store) poll(ctx context.Context, path string, lastVersion int64, onChange func(remote.Document)) int64 {
	row, err := s.getRow(ctx, path)
	if errors.Is(err, remote.ErrNotFound) || ctx.Err() != nil {
		return lastVersion
	}
	if err != nil {
		slog.Default().Warn("failed to poll document", "path", path, "error", err)
		return lastVersion
	}
	if row.Version == lastVersion {
		return lastVersion
	}
	doc, err := row.document()
	if err != nil {
		slog.Default().Warn("failed to decode document", "path", path, "error", err)
		return row.Version
	}
	onChange(doc)
	return row.Version
}
