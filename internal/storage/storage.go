// Package storage defines the key-value contract the progress store persists
// through and the backends that satisfy it.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key holds no value
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned when a write would exceed the backend quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KV is a flat string-keyed byte store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}
