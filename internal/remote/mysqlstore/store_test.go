package mysqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/phrasebook/internal/remote"
)

var (
	testNow     = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	columns     = []string{"path", "fields", "schema_version", "device_id", "version", "updated_at"}
	selectQuery = regexp.QuoteMeta(selectDocument)
	forUpdate   = regexp.QuoteMeta(selectDocument + " FOR UPDATE")
	upsertQuery = regexp.QuoteMeta("INSERT INTO documents (path, fields, schema_version, device_id, version, updated_at)")
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "mysql"), 10*time.Millisecond), mock
}

func TestStore_Write(t *testing.T) {
	meta := remote.Metadata{SchemaVersion: remote.SchemaVersion, UpdatedAt: testNow, DeviceID: "laptop"}
	fields := map[string]json.RawMessage{"phrases": json.RawMessage(`[{"id":"p1"}]`)}

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "insert new document",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(forUpdate).WithArgs("users/u1").WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectExec(upsertQuery).
					WithArgs("users/u1", []byte(`{"phrases":[{"id":"p1"}]}`), remote.SchemaVersion, "laptop", int64(1), testNow).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "merge into existing document",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(forUpdate).WithArgs("users/u1").WillReturnRows(
					sqlmock.NewRows(columns).AddRow("users/u1", []byte(`{"phrases":[],"quiz_stats":{}}`), 2, "phone", 7, testNow))
				mock.ExpectExec(upsertQuery).
					WithArgs("users/u1", []byte(`{"phrases":[{"id":"p1"}],"quiz_stats":{}}`), remote.SchemaVersion, "laptop", int64(8), testNow).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectCommit()
			},
		},
		{
			name: "upsert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(forUpdate).WithArgs("users/u1").WillReturnRows(sqlmock.NewRows(columns))
				mock.ExpectExec(upsertQuery).WillReturnError(errors.New("deadlock"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "begin failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			err := store.Write(context.Background(), "users/u1", fields, meta)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Get(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		want      remote.Document
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectQuery).WithArgs("users/u1").WillReturnRows(
					sqlmock.NewRows(columns).AddRow("users/u1", []byte(`{"completed_ids":["a"]}`), 2, "phone", 3, testNow))
			},
			want: remote.Document{
				Path:     "users/u1",
				Fields:   map[string]json.RawMessage{"completed_ids": json.RawMessage(`["a"]`)},
				Metadata: remote.Metadata{SchemaVersion: 2, UpdatedAt: testNow, DeviceID: "phone"},
			},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectQuery).WithArgs("users/u1").WillReturnRows(sqlmock.NewRows(columns))
			},
			wantErr: remote.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.Get(context.Background(), "users/u1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Subscribe(t *testing.T) {
	store, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(true)
	mock.ExpectQuery(selectQuery).WithArgs("users/u1").WillReturnRows(
		sqlmock.NewRows(columns).AddRow("users/u1", []byte(`{"a":1}`), 2, "", 1, testNow))
	mock.ExpectQuery(selectQuery).WithArgs("users/u1").WillReturnRows(
		sqlmock.NewRows(columns).AddRow("users/u1", []byte(`{"a":1}`), 2, "", 1, testNow))
	mock.ExpectQuery(selectQuery).WithArgs("users/u1").WillReturnRows(
		sqlmock.NewRows(columns).AddRow("users/u1", []byte(`{"a":2}`), 2, "", 2, testNow))

	var mu sync.Mutex
	var got []remote.Document
	received := make(chan struct{}, 2)
	unsubscribe, err := store.Subscribe(context.Background(), "users/u1", func(d remote.Document) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change notification")
		}
	}
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.JSONEq(t, `1`, string(got[0].Fields["a"]))
	assert.JSONEq(t, `2`, string(got[1].Fields["a"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}
