package store

import "context"

// Entry is a stored value with its backend revision.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Backend is a revisioned key/value space.
//
// Errors:
//   - Get returns types.ErrNotFound for a missing key
//   - Create returns types.ErrExists when the key is present
//   - Update and Delete return types.ErrConflict when revision is stale
//   - transport failures wrap types.ErrStoreUnavailable
type Backend interface {
	Get(ctx context.Context, key string) (Entry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)

	// Delete removes key. A zero revision deletes unconditionally.
	Delete(ctx context.Context, key string, revision uint64) error

	// Keys returns the keys under prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
