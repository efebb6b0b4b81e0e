// Package blob stores policy source artifacts.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned for keys with no stored object.
var ErrNotFound = errors.New("blob: object not found")

// Store is a minimal object store: policy sources go in, policy sources
// come out.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
