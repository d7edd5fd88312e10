package local

import "github.com/felixgeelhaar/pylearn/internal/storage"

var (
	// ErrNotFound is returned when a key has no file
	ErrNotFound = storage.ErrNotFound
)
