package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get for keys that were never written or were deleted.
var ErrNotFound = errors.New("state: key not found")

// Write is a single pending mutation. A nil Value deletes the key.
type Write struct {
	Key   string
	Value []byte
}

// Deleted reports whether the write removes its key.
func (w Write) Deleted() bool {
	return w.Value == nil
}

// Store is the durable key/value space backing the host ledger.
// Commit must apply all writes or none of them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Commit(ctx context.Context, writes []Write) error
	HealthCheck(ctx context.Context) error
	Close() error
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
