package types

import (
	"errors"
	"strings"
)

// Sentinel errors for quizflow.
//
// All components return these sentinels (wrapped with context via
// fmt.Errorf("...: %w", err)) so callers can branch with errors.Is.
//
// The errors fall into three classes:
//   - transient infrastructure errors: retried through redelivery, never shown to end users
//   - domain errors: terminal for the request or message that produced them
//   - concurrency conflicts: the writer must re-read and decide whether to retry

// Node errors - public API errors returned by the root package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrAlreadyStarted is returned when Start is called on a running node.
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNotStarted is returned when Stop is called on a node that was never started.
	ErrNotStarted = errors.New("node not started")

	// ErrUnknownRole is returned for a service role the node does not know how to run.
	ErrUnknownRole = errors.New("unknown service role")
)

// Store errors - returned by the entity store.
var (
	// ErrNotFound is returned when an entity or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a key that is already present.
	ErrExists = errors.New("already exists")

	// ErrConflict is returned when a save is based on a stale version.
	ErrConflict = errors.New("concurrency conflict: stale version")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Domain errors - validation and state machine violations.
var (
	// ErrValidation is returned when input fails domain validation.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a unique key (e.g. worksheet title per user) is taken.
	ErrDuplicate = errors.New("duplicate unique key")

	// ErrTierLocked is returned when requesting a quiz for a difficulty that is still locked.
	ErrTierLocked = errors.New("difficulty tier is locked")

	// ErrInvalidTransition is returned when a status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyCompleted is returned when completing a quiz that already has a score.
	ErrAlreadyCompleted = errors.New("quiz already completed")

	// ErrMalformedGeneration is returned when generated quiz content breaks the quiz invariants.
	ErrMalformedGeneration = errors.New("malformed generation result")
)

// Bus errors - event encoding and publishing.
var (
	// ErrMalformedEvent is returned when an event payload cannot be decoded or validated.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownSubject is returned when decoding an event for an unregistered subject.
	ErrUnknownSubject = errors.New("unknown event subject")

	// ErrPublishFailed is returned when an event could not be published.
	ErrPublishFailed = errors.New("failed to publish event")
)

// permanentError marks an error as terminal for the message being processed.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that listeners acknowledge and drop the message instead of
// requesting redelivery. A nil err stays nil.
//
// Example:
//
//	if ws == nil {
//	    return types.Permanent(fmt.Errorf("worksheet %s: %w", id, types.ErrNotFound))
//	}
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried by redelivery.
//
// Errors explicitly wrapped with Permanent are permanent, as are decode and domain
// validation failures. Conflicts, store outages and context errors are not.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}

	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnknownSubject) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMalformedGeneration)
}

// IsNoKeysFoundError checks if an error indicates that a KV bucket has no keys.
//
// NATS reports this condition as "nats: no keys found", possibly wrapped.
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "no keys found")
}
