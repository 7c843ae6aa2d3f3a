package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/quizflow/types"
)

// Index maps a unique tuple to the id of the entity that owns it.
//
// Claims are made with Backend.Create, so of two concurrent claimants exactly one
// wins. Tuple components are hashed with xxh3 so arbitrary strings form valid keys.
type Index struct {
	name    string
	backend Backend
}

// NewIndex creates an index whose keys live under "idx.<name>".
func NewIndex(name string, backend Backend) *Index {
	return &Index{name: name, backend: backend}
}

// Key returns the backend key for a tuple.
func (ix *Index) Key(parts ...string) string {
	h := xxh3.HashString128(strings.Join(parts, "\x00"))
	return fmt.Sprintf("idx.%s.%016x%016x", ix.name, h.Hi, h.Lo)
}

// Claim assigns the tuple to owner. Re-claiming by the same owner succeeds;
// a tuple held by another owner yields types.ErrDuplicate.
func (ix *Index) Claim(ctx context.Context, owner string, parts ...string) error {
	key := ix.Key(parts...)

	_, err := ix.backend.Create(ctx, key, []byte(owner))
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrExists) {
		return fmt.Errorf("index %s: claim: %w", ix.name, err)
	}

	holder, err := ix.Lookup(ctx, parts...)
	if errors.Is(err, types.ErrNotFound) {
		// released between Create and Lookup
		return ix.Claim(ctx, owner, parts...)
	}
	if err != nil {
		return err
	}
	if holder == owner {
		return nil
	}

	return fmt.Errorf("index %s: held by %s: %w", ix.name, holder, types.ErrDuplicate)
}

// Lookup returns the owner of the tuple, or types.ErrNotFound.
func (ix *Index) Lookup(ctx context.Context, parts ...string) (string, error) {
	entry, err := ix.backend.Get(ctx, ix.Key(parts...))
	if err != nil {
		return "", fmt.Errorf("index %s: %w", ix.name, err)
	}

	return string(entry.Value), nil
}

// Release frees the tuple if owner still holds it.
func (ix *Index) Release(ctx context.Context, owner string, parts ...string) error {
	key := ix.Key(parts...)

	entry, err := ix.backend.Get(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index %s: release: %w", ix.name, err)
	}
	if string(entry.Value) != owner {
		return nil
	}

	if err := ix.backend.Delete(ctx, key, entry.Revision); err != nil && !errors.Is(err, types.ErrConflict) {
		return fmt.Errorf("index %s: release: %w", ix.name, err)
	}

	return nil
}
