package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/remote/wire"
)

type testClients struct {
	server *httptest.Server
	write  *connect.Client[structpb.Struct, structpb.Struct]
	get    *connect.Client[structpb.Struct, structpb.Struct]
}

func newTestServer(t *testing.T, store remote.DocumentStore) testClients {
	t.Helper()

	mux := http.NewServeMux()
	NewSyncHandler(store, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return testClients{
		server: srv,
		write:  connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+wire.WriteDocumentProcedure),
		get:    connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+wire.GetDocumentProcedure),
	}
}

func encode(t *testing.T, doc remote.Document) *structpb.Struct {
	t.Helper()
	msg, err := wire.EncodeDocument(doc)
	require.NoError(t, err)
	return msg
}

func TestSyncHandler_WriteThenGet(t *testing.T) {
	store := remote.NewMemoryStore()
	clients := newTestServer(t, store)
	ctx := context.Background()
	meta := remote.Metadata{SchemaVersion: 2, UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), DeviceID: "laptop"}

	_, err := clients.write.CallUnary(ctx, connect.NewRequest(encode(t, remote.Document{
		Path:     "users/u1",
		Fields:   map[string]json.RawMessage{"phrases": json.RawMessage(`[{"id":"a"}]`)},
		Metadata: meta,
	})))
	require.NoError(t, err)
	_, err = clients.write.CallUnary(ctx, connect.NewRequest(encode(t, remote.Document{
		Path:     "users/u1",
		Fields:   map[string]json.RawMessage{"completed_ids": json.RawMessage(`["a"]`)},
		Metadata: meta,
	})))
	require.NoError(t, err)

	res, err := clients.get.CallUnary(ctx, connect.NewRequest(wire.PathRequest("users/u1")))
	require.NoError(t, err)
	doc, err := wire.DecodeDocument(res.Msg)
	require.NoError(t, err)

	assert.Equal(t, "users/u1", doc.Path)
	assert.Equal(t, meta, doc.Metadata)
	assert.JSONEq(t, `[{"id":"a"}]`, string(doc.Fields["phrases"]))
	assert.JSONEq(t, `["a"]`, string(doc.Fields["completed_ids"]))
}

func TestSyncHandler_GetDocument_Errors(t *testing.T) {
	clients := newTestServer(t, remote.NewMemoryStore())

	tests := []struct {
		name     string
		path     string
		wantCode connect.Code
	}{
		{name: "missing document", path: "users/nobody", wantCode: connect.CodeNotFound},
		{name: "invalid path", path: "../etc/passwd", wantCode: connect.CodeInvalidArgument},
		{name: "empty path", path: "", wantCode: connect.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clients.get.CallUnary(context.Background(), connect.NewRequest(wire.PathRequest(tt.path)))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
		})
	}
}

func TestSyncHandler_WriteDocument_InvalidArgument(t *testing.T) {
	clients := newTestServer(t, remote.NewMemoryStore())

	tests := []struct {
		name       string
		doc        remote.Document
		wantFields []string
	}{
		{
			name:       "bad path",
			doc:        remote.Document{Path: "groups/g1", Fields: map[string]json.RawMessage{"a": json.RawMessage(`1`)}, Metadata: remote.Metadata{SchemaVersion: 2}},
			wantFields: []string{"path"},
		},
		{
			name:       "no fields and no schema version",
			doc:        remote.Document{Path: "users/u1"},
			wantFields: []string{"fields", "metadata.schemaVersion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clients.write.CallUnary(context.Background(), connect.NewRequest(encode(t, tt.doc)))
			require.Error(t, err)

			var connectErr *connect.Error
			require.ErrorAs(t, err, &connectErr)
			assert.Equal(t, connect.CodeInvalidArgument, connectErr.Code())
			require.Len(t, connectErr.Details(), 1)

			value, err := connectErr.Details()[0].Value()
			require.NoError(t, err)
			badRequest, ok := value.(*errdetails.BadRequest)
			require.True(t, ok)

			var gotFields []string
			for _, v := range badRequest.GetFieldViolations() {
				gotFields = append(gotFields, v.GetField())
			}
			assert.Equal(t, tt.wantFields, gotFields)
		})
	}
}

func TestSyncHandler_Subscribe(t *testing.T) {
	store := remote.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "users/u1", map[string]json.RawMessage{"phrases": json.RawMessage(`[]`)}, remote.Metadata{SchemaVersion: 2}))
	clients := newTestServer(t, store)

	wsURL := "ws" + strings.TrimPrefix(clients.server.URL, "http") + wire.SubscribePath + "?path=users/u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var initial remote.Document
	require.NoError(t, conn.ReadJSON(&initial))
	assert.JSONEq(t, `[]`, string(initial.Fields["phrases"]))

	require.NoError(t, store.Write(ctx, "users/u1", map[string]json.RawMessage{"completed_ids": json.RawMessage(`["x"]`)}, remote.Metadata{SchemaVersion: 2, DeviceID: "phone"}))

	var changed remote.Document
	require.NoError(t, conn.ReadJSON(&changed))
	assert.Equal(t, "phone", changed.Metadata.DeviceID)
	assert.JSONEq(t, `["x"]`, string(changed.Fields["completed_ids"]))
	assert.JSONEq(t, `[]`, string(changed.Fields["phrases"]))
}

func TestSyncHandler_Subscribe_InvalidPath(t *testing.T) {
	clients := newTestServer(t, remote.NewMemoryStore())

	wsURL := "ws" + strings.TrimPrefix(clients.server.URL, "http") + wire.SubscribePath + "?path=nope"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNewSyncHandler_CheckOrigin(t *testing.T) {
	h := NewSyncHandler(remote.NewMemoryStore(), []string{"http://localhost:3000"})

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://evil.example.com", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, wire.SubscribePath, nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.upgrader.CheckOrigin(r))
		})
	}
}
