package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/types"
)

// Versioned is implemented by every stored entity.
type Versioned interface {
	GetID() string
	GetVersion() int64
	SetVersion(v int64)
}

// Collection stores entities of type T as JSON under "<prefix>.<id>".
type Collection[T any, PT interface {
	*T
	Versioned
}] struct {
	name    string
	prefix  string
	backend Backend
	metrics types.MetricsCollector
}

// NewCollection creates a collection. name labels metrics; prefix is the key prefix.
func NewCollection[T any, PT interface {
	*T
	Versioned
}](name, prefix string, backend Backend, mc types.MetricsCollector) *Collection[T, PT] {
	return &Collection[T, PT]{
		name:    name,
		prefix:  prefix,
		backend: backend,
		metrics: metrics.OrNop(mc),
	}
}

// Name returns the collection name.
func (c *Collection[T, PT]) Name() string { return c.name }

func (c *Collection[T, PT]) key(id string) string {
	return c.prefix + "." + id
}

// Save persists e if the stored version equals e's version; a zero version means
// the entity must not exist yet. On success e's version is incremented by one. On
// types.ErrConflict e is left unchanged.
func (c *Collection[T, PT]) Save(ctx context.Context, e PT) error {
	id := e.GetID()
	if id == "" {
		return fmt.Errorf("%s: save without id: %w", c.name, types.ErrValidation)
	}

	key := c.key(id)
	expected := e.GetVersion()

	data, err := c.encodeAt(e, expected+1)
	if err != nil {
		return err
	}

	cur, err := c.backend.Get(ctx, key)
	switch {
	case errors.Is(err, types.ErrNotFound):
		if expected != 0 {
			return c.conflict(id, fmt.Errorf("entity is gone, expected version %d", expected))
		}
		if _, err := c.backend.Create(ctx, key, data); err != nil {
			if errors.Is(err, types.ErrExists) {
				return c.conflict(id, err)
			}

			return fmt.Errorf("%s: create %s: %w", c.name, id, err)
		}
	case err != nil:
		return fmt.Errorf("%s: read %s: %w", c.name, id, err)
	default:
		stored, err := c.decode(cur.Value)
		if err != nil {
			return err
		}
		if stored.GetVersion() != expected {
			return c.conflict(id, fmt.Errorf("stored version %d, expected %d", stored.GetVersion(), expected))
		}
		if _, err := c.backend.Update(ctx, key, data, cur.Revision); err != nil {
			if errors.Is(err, types.ErrConflict) {
				return c.conflict(id, err)
			}

			return fmt.Errorf("%s: update %s: %w", c.name, id, err)
		}
	}

	e.SetVersion(expected + 1)

	return nil
}

// FindByID returns the entity with its current version, or types.ErrNotFound.
func (c *Collection[T, PT]) FindByID(ctx context.Context, id string) (PT, error) {
	entry, err := c.backend.Get(ctx, c.key(id))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.name, id, err)
	}

	return c.decode(entry.Value)
}

// Find returns every entity matching filter; a nil filter matches all.
func (c *Collection[T, PT]) Find(ctx context.Context, filter func(PT) bool) ([]PT, error) {
	keys, err := c.backend.Keys(ctx, c.prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", c.name, err)
	}

	out := make([]PT, 0, len(keys))
	for _, key := range keys {
		entry, err := c.backend.Get(ctx, key)
		if errors.Is(err, types.ErrNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", c.name, key, err)
		}

		e, err := c.decode(entry.Value)
		if err != nil {
			return nil, err
		}
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}

	return out, nil
}

// Delete removes e if the stored version equals e's version. Deleting an entity
// that no longer exists succeeds.
func (c *Collection[T, PT]) Delete(ctx context.Context, e PT) error {
	id := e.GetID()
	key := c.key(id)

	cur, err := c.backend.Get(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", c.name, id, err)
	}

	stored, err := c.decode(cur.Value)
	if err != nil {
		return err
	}
	if stored.GetVersion() != e.GetVersion() {
		return c.conflict(id, fmt.Errorf("stored version %d, expected %d", stored.GetVersion(), e.GetVersion()))
	}

	if err := c.backend.Delete(ctx, key, cur.Revision); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return c.conflict(id, err)
		}

		return fmt.Errorf("%s: delete %s: %w", c.name, id, err)
	}

	return nil
}

func (c *Collection[T, PT]) encodeAt(e PT, version int64) ([]byte, error) {
	prev := e.GetVersion()
	e.SetVersion(version)
	data, err := json.Marshal(e)
	e.SetVersion(prev)

	if err != nil {
		return nil, fmt.Errorf("%s: encode %s: %w", c.name, e.GetID(), err)
	}

	return data, nil
}

func (c *Collection[T, PT]) decode(data []byte) (PT, error) {
	e := PT(new(T))
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", c.name, err)
	}

	return e, nil
}

func (c *Collection[T, PT]) conflict(id string, cause error) error {
	c.metrics.RecordConflict(c.name)
	return fmt.Errorf("%s %s: %w: %w", c.name, id, types.ErrConflict, cause)
}
