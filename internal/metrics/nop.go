// Package metrics provides types.MetricsCollector implementations.
package metrics

import (
	"time"

	"github.com/arloliu/quizflow/types"
)

// NopMetrics implements a no-op metrics collector.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	node, err := quizflow.NewNode(&cfg, conn, quizflow.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// OrNop returns m, or a NopMetrics when m is nil.
func OrNop(m types.MetricsCollector) types.MetricsCollector {
	if m == nil {
		return NewNop()
	}

	return m
}

// ListenerMetrics implementation

func (n *NopMetrics) RecordEventDisposition(_, _ string, _ time.Duration) {}
func (n *NopMetrics) RecordRedelivery(_ string)                          {}

// PublisherMetrics implementation

func (n *NopMetrics) RecordEventPublished(_ string, _ bool) {}

// StoreMetrics implementation

func (n *NopMetrics) RecordConflict(_ string)                         {}
func (n *NopMetrics) RecordStoreOperation(_ string, _ time.Duration) {}

// SagaMetrics implementation

func (n *NopMetrics) RecordQuizTransition(_, _ types.QuizStatus)           {}
func (n *NopMetrics) RecordWorksheetTransition(_, _ types.WorksheetStatus) {}
func (n *NopMetrics) RecordIdempotentSkip(_ string)                        {}
