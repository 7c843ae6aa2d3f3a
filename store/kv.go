package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/internal/natsutil"
	"github.com/arloliu/quizflow/types"
)

// KVBackend implements Backend on a JetStream KV bucket.
type KVBackend struct {
	kv      jetstream.KeyValue
	metrics types.MetricsCollector
}

var _ Backend = (*KVBackend)(nil)

// NewKVBackend wraps kv. A nil collector disables metrics.
func NewKVBackend(kv jetstream.KeyValue, mc types.MetricsCollector) *KVBackend {
	return &KVBackend{kv: kv, metrics: metrics.OrNop(mc)}
}

// Get returns the latest revision of key.
func (b *KVBackend) Get(ctx context.Context, key string) (Entry, error) {
	defer b.observe("get", time.Now())

	e, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return Entry{}, fmt.Errorf("key %s: %w", key, types.ErrNotFound)
		}

		return Entry{}, mapKVError("get", key, err)
	}

	return Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision()}, nil
}

// Create stores value only if key does not exist (or was deleted).
func (b *KVBackend) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	defer b.observe("create", time.Now())

	rev, err := b.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || natsutil.IsWrongLastSequence(err) {
			return 0, fmt.Errorf("key %s: %w", key, types.ErrExists)
		}

		return 0, mapKVError("create", key, err)
	}

	return rev, nil
}

// Update stores value only if the latest revision of key is revision.
func (b *KVBackend) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	defer b.observe("update", time.Now())

	rev, err := b.kv.Update(ctx, key, value, revision)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || natsutil.IsWrongLastSequence(err) {
			return 0, fmt.Errorf("key %s at revision %d: %w", key, revision, types.ErrConflict)
		}

		return 0, mapKVError("update", key, err)
	}

	return rev, nil
}

// Delete places a delete marker for key, guarded by revision when non-zero.
func (b *KVBackend) Delete(ctx context.Context, key string, revision uint64) error {
	defer b.observe("delete", time.Now())

	var opts []jetstream.KVDeleteOpt
	if revision > 0 {
		opts = append(opts, jetstream.LastRevision(revision))
	}

	if err := b.kv.Delete(ctx, key, opts...); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || natsutil.IsWrongLastSequence(err) {
			return fmt.Errorf("key %s at revision %d: %w", key, revision, types.ErrConflict)
		}

		return mapKVError("delete", key, err)
	}

	return nil
}

// Keys lists live keys under prefix. Prefixes end at a token boundary, so
// "quiz" matches "quiz.<id>".
func (b *KVBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	defer b.observe("keys", time.Now())

	filter := ">"
	if prefix != "" {
		filter = strings.TrimSuffix(prefix, ".") + ".>"
	}

	lister, err := b.kv.ListKeysFiltered(ctx, filter)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, mapKVError("keys", prefix, err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys, nil
}

func (b *KVBackend) observe(op string, start time.Time) {
	b.metrics.RecordStoreOperation(op, time.Since(start))
}

func mapKVError(op, key string, err error) error {
	if natsutil.IsConnectivityError(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("kv %s %s: %w: %w", op, key, types.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("kv %s %s: %w", op, key, err)
}
