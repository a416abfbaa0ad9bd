// Package kvstore is the on-device key/value store that holds the serialized
// phrase collection and its sibling keys.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

//go:generate mockgen -source=store.go -destination=../mocks/kvstore/mock_store.go -package=mock_kvstore

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("kvstore: key not found")

// Store persists opaque values by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetJSON reads and decodes key. ok is false when the key does not exist.
func GetJSON[T any](ctx context.Context, store Store, key string) (value T, ok bool, err error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, fmt.Errorf("store.Get(%s) > %w", key, err)
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("json.Unmarshal(%s) > %w", key, err)
	}
	return value, true, nil
}

// SetJSON encodes value and writes it under key.
func SetJSON(ctx context.Context, store Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json.Marshal(%s) > %w", key, err)
	}
	if err := store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("store.Set(%s) > %w", key, err)
	}
	return nil
}
