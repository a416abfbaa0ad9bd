package remote

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PartialWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	meta := Metadata{SchemaVersion: SchemaVersion, UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), DeviceID: "a"}

	_, err := s.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "users/u1", map[string]json.RawMessage{
		"phrases":    json.RawMessage(`[]`),
		"quiz_stats": json.RawMessage(`{}`),
	}, meta))
	require.NoError(t, s.Write(ctx, "users/u1", map[string]json.RawMessage{
		"phrases": json.RawMessage(`[{"id":"p1"}]`),
	}, meta))

	doc, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, "users/u1", doc.Path)
	assert.JSONEq(t, `[{"id":"p1"}]`, string(doc.Fields["phrases"]))
	assert.JSONEq(t, `{}`, string(doc.Fields["quiz_stats"]), "unrelated fields survive partial writes")
	assert.Equal(t, meta, doc.Metadata)

	doc.Fields["phrases"][0] = 'x'
	again, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1"}]`, string(again.Fields["phrases"]))
}

func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Write(ctx, "users/u1", map[string]json.RawMessage{"a": json.RawMessage(`1`)}, Metadata{}))

	var got []Document
	unsubscribe, err := s.Subscribe(ctx, "users/u1", func(d Document) { got = append(got, d) })
	require.NoError(t, err)
	require.Len(t, got, 1, "current document is delivered on subscribe")

	require.NoError(t, s.Write(ctx, "users/u2", map[string]json.RawMessage{"a": json.RawMessage(`2`)}, Metadata{}))
	require.NoError(t, s.Write(ctx, "users/u1", map[string]json.RawMessage{"b": json.RawMessage(`3`)}, Metadata{}))
	require.Len(t, got, 2)
	assert.Len(t, got[1].Fields, 2)

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Write(ctx, "users/u1", map[string]json.RawMessage{"c": json.RawMessage(`4`)}, Metadata{}))
	assert.Len(t, got, 2)
}

func TestMergeFields(t *testing.T) {
	got := MergeFields(
		map[string]json.RawMessage{"a": json.RawMessage(`1`), "b": json.RawMessage(`2`)},
		map[string]json.RawMessage{"b": json.RawMessage(`3`)},
	)
	assert.Equal(t, map[string]json.RawMessage{"a": json.RawMessage(`1`), "b": json.RawMessage(`3`)}, got)
	assert.Empty(t, MergeFields(nil, nil))
}
