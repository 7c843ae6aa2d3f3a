// Package store persists versioned domain entities with optimistic concurrency.
//
// A Backend is a revisioned key/value space: a JetStream KV bucket in production
// (KVBackend) or an xsync map (MemoryBackend) for tests and single-process mode.
// Collection layers JSON encoding and entity version checks on top of it:
//
//	coll := store.NewCollection[types.Quiz]("quizzes", "quiz", backend, metrics)
//	err := coll.Save(ctx, q) // q.Version must match the stored version
//	if errors.Is(err, types.ErrConflict) {
//	    // re-read and decide
//	}
//
// The entity version is a domain field incremented by exactly one per save; the
// backend revision is the compare-and-set token that makes the check atomic.
package store
