package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/quizflow/types"
)

type memEntry struct {
	value    []byte
	revision uint64
}

// MemoryBackend implements Backend in process memory.
//
// Revisions come from a single counter shared by all keys, mirroring a stream
// sequence. Compare-and-set is done inside xsync.Map.Compute.
type MemoryBackend struct {
	entries *xsync.Map[string, memEntry]
	seq     atomic.Uint64
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: xsync.NewMap[string, memEntry]()}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	e, ok := b.entries.Load(key)
	if !ok {
		return Entry{}, fmt.Errorf("key %s: %w", key, types.ErrNotFound)
	}

	return Entry{Key: key, Value: slices.Clone(e.value), Revision: e.revision}, nil
}

func (b *MemoryBackend) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		rev    uint64
		exists bool
	)
	b.entries.Compute(key, func(old memEntry, loaded bool) (memEntry, xsync.ComputeOp) {
		if loaded {
			exists = true
			return old, xsync.CancelOp
		}
		rev = b.seq.Add(1)

		return memEntry{value: slices.Clone(value), revision: rev}, xsync.UpdateOp
	})

	if exists {
		return 0, fmt.Errorf("key %s: %w", key, types.ErrExists)
	}

	return rev, nil
}

func (b *MemoryBackend) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		rev   uint64
		stale bool
	)
	b.entries.Compute(key, func(old memEntry, loaded bool) (memEntry, xsync.ComputeOp) {
		if !loaded || old.revision != revision {
			stale = true
			return old, xsync.CancelOp
		}
		rev = b.seq.Add(1)

		return memEntry{value: slices.Clone(value), revision: rev}, xsync.UpdateOp
	})

	if stale {
		return 0, fmt.Errorf("key %s at revision %d: %w", key, revision, types.ErrConflict)
	}

	return rev, nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var stale bool
	b.entries.Compute(key, func(old memEntry, loaded bool) (memEntry, xsync.ComputeOp) {
		if revision > 0 && (!loaded || old.revision != revision) {
			stale = true
			return old, xsync.CancelOp
		}
		if !loaded {
			return old, xsync.CancelOp
		}

		return old, xsync.DeleteOp
	})

	if stale {
		return fmt.Errorf("key %s at revision %d: %w", key, revision, types.ErrConflict)
	}

	return nil
}

func (b *MemoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	match := ""
	if prefix != "" {
		match = strings.TrimSuffix(prefix, ".") + "."
	}

	var keys []string
	b.entries.Range(func(key string, _ memEntry) bool {
		if strings.HasPrefix(key, match) {
			keys = append(keys, key)
		}
		return true
	})
	slices.Sort(keys)

	return keys, nil
}

// Len returns the number of stored keys.
func (b *MemoryBackend) Len() int {
	return b.entries.Size()
}
