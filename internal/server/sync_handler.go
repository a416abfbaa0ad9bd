// Package server exposes a remote.DocumentStore over Connect RPC and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/remote/wire"
)

const pingInterval = 30 * time.Second

var documentPath = regexp.MustCompile(`^users/[A-Za-z0-9_\-.@]+$`)

// SyncHandler serves WriteDocument and GetDocument and streams changes to websocket clients.
type SyncHandler struct {
	store    remote.DocumentStore
	upgrader websocket.Upgrader
}

// NewSyncHandler creates a SyncHandler. An empty allowedOrigins accepts any websocket origin.
func NewSyncHandler(store remote.DocumentStore, allowedOrigins []string) *SyncHandler {
	return &SyncHandler{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Register mounts all endpoints on mux.
func (h *SyncHandler) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(wire.WriteDocumentProcedure, connect.NewUnaryHandler(wire.WriteDocumentProcedure, h.WriteDocument, opts...))
	mux.Handle(wire.GetDocumentProcedure, connect.NewUnaryHandler(wire.GetDocumentProcedure, h.GetDocument, opts...))
	mux.HandleFunc(wire.SubscribePath, h.Subscribe)
}

// WriteDocument merges the request's fields into the stored document.
func (h *SyncHandler) WriteDocument(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	doc, err := wire.DecodeDocument(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("decode document: %w", err))
	}
	if connectErr := validateDocument(doc); connectErr != nil {
		return nil, connectErr
	}

	if err := h.store.Write(ctx, doc.Path, doc.Fields, doc.Metadata); err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("write document(%s): %w", doc.Path, err))
	}
	slog.Default().Debug("wrote document",
		"path", doc.Path,
		"fields", len(doc.Fields),
		"deviceId", doc.Metadata.DeviceID)
	return connect.NewResponse(&structpb.Struct{}), nil
}

// GetDocument returns the stored document.
func (h *SyncHandler) GetDocument(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	path := wire.RequestPath(req.Msg)
	if connectErr := validatePath(path); connectErr != nil {
		return nil, connectErr
	}

	doc, err := h.store.Get(ctx, path)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("document %s: %w", path, err))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("get document(%s): %w", path, err))
	}
	msg, err := wire.EncodeDocument(doc)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode document(%s): %w", path, err))
	}
	return connect.NewResponse(msg), nil
}

// Subscribe upgrades to a websocket and sends the document as JSON on every change.
func (h *SyncHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !documentPath.MatchString(path) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Default().Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	changes := make(chan remote.Document, 16)
	unsubscribe, err := h.store.Subscribe(ctx, path, func(doc remote.Document) {
		select {
		case changes <- doc:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		slog.Default().Warn("subscribe failed", "path", path, "error", err)
		return
	}
	defer func() {
		cancel()
		unsubscribe()
	}()

	// The client never sends data; reading detects when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case doc := <-changes:
			if err := conn.WriteJSON(doc); err != nil {
				slog.Default().Debug("websocket write failed", "path", path, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func validatePath(path string) *connect.Error {
	if documentPath.MatchString(path) {
		return nil
	}
	return badRequest([]*errdetails.BadRequest_FieldViolation{{
		Field:       "path",
		Description: "path must be users/<id>",
	}})
}

func validateDocument(doc remote.Document) *connect.Error {
	var violations []*errdetails.BadRequest_FieldViolation
	if !documentPath.MatchString(doc.Path) {
		violations = append(violations, &errdetails.BadRequest_FieldViolation{
			Field:       "path",
			Description: "path must be users/<id>",
		})
	}
	if len(doc.Fields) == 0 {
		violations = append(violations, &errdetails.BadRequest_FieldViolation{
			Field:       "fields",
			Description: "at least one field is required",
		})
	}
	if doc.Metadata.SchemaVersion < 1 {
		violations = append(violations, &errdetails.BadRequest_FieldViolation{
			Field:       "metadata.schemaVersion",
			Description: "schema version must be positive",
		})
	}
	if len(violations) == 0 {
		return nil
	}
	return badRequest(violations)
}

func badRequest(violations []*errdetails.BadRequest_FieldViolation) *connect.Error {
	connectErr := connect.NewError(connect.CodeInvalidArgument, errors.New("invalid request"))
	if detail, detailErr := connect.NewErrorDetail(&errdetails.BadRequest{
		FieldViolations: violations,
	}); detailErr == nil {
		connectErr.AddDetail(detail)
	}
	return connectErr
}
