package state

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has never been written
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("store is closed")
)

// Store is a durable namespaced key/value store.
// A nil error from Set means the value is committed and survives restart.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Close() error
}
