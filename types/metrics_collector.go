package types

import "time"

// Event dispositions recorded by listeners.
const (
	DispositionApplied = "applied"
	DispositionDropped = "dropped"
	DispositionRetry   = "retry"
)

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and must be safe for concurrent use;
// every listener goroutine reports through the same collector.
type MetricsCollector interface {
	ListenerMetrics
	PublisherMetrics
	StoreMetrics
	SagaMetrics
}

// ListenerMetrics defines metrics for inbound event processing.
type ListenerMetrics interface {
	// RecordEventDisposition records the outcome of one delivery.
	//
	// Parameters:
	//   - subject: Event subject ("quiz.generated", ...)
	//   - disposition: DispositionApplied, DispositionDropped or DispositionRetry
	//   - duration: Time spent decoding and applying the event
	RecordEventDisposition(subject, disposition string, duration time.Duration)

	// RecordRedelivery records a message delivered more than once.
	RecordRedelivery(subject string)
}

// PublisherMetrics defines metrics for outbound events.
type PublisherMetrics interface {
	// RecordEventPublished records a publish attempt after a local commit.
	RecordEventPublished(subject string, success bool)
}

// StoreMetrics defines metrics for the entity store.
type StoreMetrics interface {
	// RecordConflict records an optimistic concurrency rejection.
	RecordConflict(collection string)

	// RecordStoreOperation records backend latency.
	//
	// Parameters:
	//   - operation: "get", "create", "update", "delete" or "keys"
	//   - duration: Time taken
	RecordStoreOperation(operation string, duration time.Duration)
}

// SagaMetrics defines metrics for entity state transitions.
type SagaMetrics interface {
	// RecordQuizTransition records a quiz status change.
	RecordQuizTransition(from, to QuizStatus)

	// RecordWorksheetTransition records a worksheet status change.
	RecordWorksheetTransition(from, to WorksheetStatus)

	// RecordIdempotentSkip records an event that was already applied or stale.
	RecordIdempotentSkip(subject string)
}
