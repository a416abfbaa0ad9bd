// Package remote defines the cloud document store the orchestrator syncs with.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"
)

//go:generate mockgen -source=remote.go -destination=../mocks/remote/mock_remote.go -package=mock_remote

// SchemaVersion is the payload version written by this build. Documents with a
// higher version are ignored by readers.
const SchemaVersion = 2

// ErrNotFound is returned by Get for a path that has never been written.
var ErrNotFound = errors.New("remote: document not found")

// Metadata travels with every document write.
type Metadata struct {
	SchemaVersion int       `json:"schemaVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
	DeviceID      string    `json:"deviceId,omitempty"`
}

// Document is a set of named JSON fields stored at one path.
type Document struct {
	Path     string                     `json:"path"`
	Fields   map[string]json.RawMessage `json:"fields"`
	Metadata Metadata                   `json:"metadata"`
}

// Clone returns a copy that shares no memory with d.
func (d Document) Clone() Document {
	c := d
	c.Fields = make(map[string]json.RawMessage, len(d.Fields))
	for k, v := range d.Fields {
		c.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// DocumentStore is a remote store with partial writes and change notifications.
type DocumentStore interface {
	// Write merges fields into the document at path. Fields not named are left untouched.
	Write(ctx context.Context, path string, fields map[string]json.RawMessage, meta Metadata) error
	Get(ctx context.Context, path string) (Document, error)
	// Subscribe calls onChange with the current document, if any, and after every
	// change. The returned function stops further calls.
	Subscribe(ctx context.Context, path string, onChange func(Document)) (unsubscribe func(), err error)
}

// UserPath is the document path holding one user's data.
func UserPath(userID string) string {
	return "users/" + userID
}

// MergeFields applies a partial write to current and returns the result.
func MergeFields(current, update map[string]json.RawMessage) map[string]json.RawMessage {
	merged := make(map[string]json.RawMessage, len(current)+len(update))
	maps.Copy(merged, current)
	maps.Copy(merged, update)
	return merged
}
