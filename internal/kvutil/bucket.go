// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// EnsureBucket creates or opens a KV bucket, retrying transient failures.
//
// Every service instance calls this at startup, so several instances may race to
// create the same bucket. ErrBucketExists is resolved by opening the existing
// bucket. Retries back off exponentially from 10ms.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (default: 3)
//
// Example:
//
//	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
//	    Bucket:  "quizflow-quiz",
//	    History: 1,
//	}, 3)
func EnsureBucket(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error

	for attempt := range maxRetries {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, openErr := js.KeyValue(ctx, config.Bucket)
			if openErr == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", openErr)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// EntityBucketConfig returns the bucket configuration used for entity storage.
//
// Entity buckets keep a single revision per key; revisions serve only as
// compare-and-set tokens.
func EntityBucketConfig(bucket string, replicas int, memory bool) jetstream.KeyValueConfig {
	storage := jetstream.FileStorage
	if memory {
		storage = jetstream.MemoryStorage
	}
	if replicas <= 0 {
		replicas = 1
	}

	return jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "quizflow entity store",
		History:     1,
		Storage:     storage,
		Replicas:    replicas,
	}
}
