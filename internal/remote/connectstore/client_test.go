package connectstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/server"
)

// flakyStore fails the first failures writes.
type flakyStore struct {
	*remote.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) Write(ctx context.Context, path string, fields map[string]json.RawMessage, meta remote.Metadata) error {
	if s.calls.Add(1) <= s.failures {
		return errors.New("database is down")
	}
	return s.MemoryStore.Write(ctx, path, fields, meta)
}

func newTestClient(t *testing.T, store remote.DocumentStore) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	server.NewSyncHandler(store, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.Client(), srv.URL, WithRetry(3, time.Millisecond), WithReconnectDelay(10*time.Millisecond)), srv
}

var testMeta = remote.Metadata{SchemaVersion: 2, UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), DeviceID: "laptop"}

func TestClient_WriteAndGet(t *testing.T) {
	client, _ := newTestClient(t, remote.NewMemoryStore())
	ctx := context.Background()

	_, err := client.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, remote.ErrNotFound)

	require.NoError(t, client.Write(ctx, "users/u1", map[string]json.RawMessage{
		"incorrect_ids": json.RawMessage(`["b"]`),
	}, testMeta))

	doc, err := client.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, testMeta, doc.Metadata)
	assert.JSONEq(t, `["b"]`, string(doc.Fields["incorrect_ids"]))
}

func TestClient_Write_Retry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		wantErr   bool
		wantCalls int32
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "recovers after transient failures", failures: 2, wantCalls: 3},
		{name: "gives up after attempts", failures: 5, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{MemoryStore: remote.NewMemoryStore(), failures: tt.failures}
			client, _ := newTestClient(t, store)

			err := client.Write(context.Background(), "users/u1", map[string]json.RawMessage{"a": json.RawMessage(`1`)}, testMeta)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, store.calls.Load())
		})
	}
}

func TestClient_Write_InvalidArgumentIsNotRetried(t *testing.T) {
	store := &flakyStore{MemoryStore: remote.NewMemoryStore()}
	client, _ := newTestClient(t, store)

	err := client.Write(context.Background(), "not-a-user-path", map[string]json.RawMessage{"a": json.RawMessage(`1`)}, testMeta)
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	assert.Equal(t, int32(0), store.calls.Load())
}

func TestClient_Subscribe(t *testing.T) {
	store := remote.NewMemoryStore()
	client, _ := newTestClient(t, store)
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "users/u1", map[string]json.RawMessage{"phrases": json.RawMessage(`[]`)}, testMeta))

	var mu sync.Mutex
	var received []remote.Document
	unsubscribe, err := client.Subscribe(ctx, "users/u1", func(doc remote.Document) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, doc)
	})
	require.NoError(t, err)
	defer unsubscribe()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(received)
	}
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Write(ctx, "users/u1", map[string]json.RawMessage{"completed_ids": json.RawMessage(`["a"]`)}, remote.Metadata{SchemaVersion: 2, DeviceID: "phone"}))
	require.Eventually(t, func() bool { return count() == 2 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "phone", received[1].Metadata.DeviceID)
	assert.JSONEq(t, `["a"]`, string(received[1].Fields["completed_ids"]))
	mu.Unlock()

	unsubscribe()
	unsubscribe()
}

func TestClient_subscribeURL(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{baseURL: "http://localhost:8080", want: "ws://localhost:8080/sync/subscribe?path=users%2Fu1"},
		{baseURL: "https://sync.example.com/", want: "wss://sync.example.com/sync/subscribe?path=users%2Fu1"},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			got, err := New(http.DefaultClient, tt.baseURL).subscribeURL("users/u1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
