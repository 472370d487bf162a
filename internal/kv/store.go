// Package kv is the key-value state layer the registries are built on.
//
// Update runs a function against a buffered transaction; its writes become
// visible only if the function returns nil. A failed Update leaves the store
// exactly as it was.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Reader reads committed (or, inside Update, pending) values.
type Reader interface {
	// Get returns the value stored at key and whether it exists.
	Get(key string) ([]byte, bool, error)
}

// Tx is a Reader that can stage writes.
type Tx interface {
	Reader
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store is an atomic key-value store.
type Store interface {
	View(ctx context.Context, fn func(r Reader) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Key joins path segments with "/".
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// GetJSON decodes the value at key into dst. It reports false, leaving dst
// untouched, when the key is absent.
func GetJSON(r Reader, key string, dst any) (bool, error) {
	raw, ok, err := r.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stages it at key.
func PutJSON(tx Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return tx.Put(key, raw)
}
