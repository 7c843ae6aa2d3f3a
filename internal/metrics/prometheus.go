package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/quizflow/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are registered lazily on first use so that constructing a
// collector never panics on a shared registry.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	eventDispositions *prometheus.CounterVec
	applyLatency      *prometheus.HistogramVec
	redeliveries      *prometheus.CounterVec
	published         *prometheus.CounterVec
	conflicts         *prometheus.CounterVec
	storeLatency      *prometheus.HistogramVec
	quizTransitions   *prometheus.CounterVec
	wsTransitions     *prometheus.CounterVec
	idempotentSkips   *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "quizflow" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "quizflow"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.eventDispositions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Inbound events by subject and disposition (applied, dropped, retry).",
		}, []string{"subject", "disposition"})

		p.applyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "apply_duration_seconds",
			Help:      "Time spent decoding and applying an event.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"subject"})

		p.redeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "redeliveries_total",
			Help:      "Messages delivered more than once.",
		}, []string{"subject"})

		p.published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "publisher",
			Name:      "events_total",
			Help:      "Outbound publish attempts by subject and result.",
		}, []string{"subject", "success"})

		p.conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Optimistic concurrency rejections by collection.",
		}, []string{"collection"})

		p.storeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store backend latency by operation.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"})

		p.quizTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "saga",
			Name:      "quiz_transitions_total",
			Help:      "Quiz status transitions.",
		}, []string{"from", "to"})

		p.wsTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "saga",
			Name:      "worksheet_transitions_total",
			Help:      "Worksheet status transitions.",
		}, []string{"from", "to"})

		p.idempotentSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "saga",
			Name:      "idempotent_skips_total",
			Help:      "Events skipped as duplicate or stale.",
		}, []string{"subject"})

		p.reg.MustRegister(
			p.eventDispositions,
			p.applyLatency,
			p.redeliveries,
			p.published,
			p.conflicts,
			p.storeLatency,
			p.quizTransitions,
			p.wsTransitions,
			p.idempotentSkips,
		)
	})
}

// RecordEventDisposition counts one delivery and observes its apply latency.
func (p *PrometheusCollector) RecordEventDisposition(subject, disposition string, duration time.Duration) {
	p.ensureRegistered()
	p.eventDispositions.WithLabelValues(subject, disposition).Inc()
	p.applyLatency.WithLabelValues(subject).Observe(duration.Seconds())
}

// RecordRedelivery counts a redelivered message.
func (p *PrometheusCollector) RecordRedelivery(subject string) {
	p.ensureRegistered()
	p.redeliveries.WithLabelValues(subject).Inc()
}

// RecordEventPublished counts a publish attempt.
func (p *PrometheusCollector) RecordEventPublished(subject string, success bool) {
	p.ensureRegistered()
	p.published.WithLabelValues(subject, strconv.FormatBool(success)).Inc()
}

// RecordConflict counts an optimistic concurrency rejection.
func (p *PrometheusCollector) RecordConflict(collection string) {
	p.ensureRegistered()
	p.conflicts.WithLabelValues(collection).Inc()
}

// RecordStoreOperation observes backend latency.
func (p *PrometheusCollector) RecordStoreOperation(operation string, duration time.Duration) {
	p.ensureRegistered()
	p.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuizTransition counts a quiz status change.
func (p *PrometheusCollector) RecordQuizTransition(from, to types.QuizStatus) {
	p.ensureRegistered()
	p.quizTransitions.WithLabelValues(labelOrNone(string(from)), string(to)).Inc()
}

// RecordWorksheetTransition counts a worksheet status change.
func (p *PrometheusCollector) RecordWorksheetTransition(from, to types.WorksheetStatus) {
	p.ensureRegistered()
	p.wsTransitions.WithLabelValues(labelOrNone(string(from)), string(to)).Inc()
}

// RecordIdempotentSkip counts a duplicate or stale event.
func (p *PrometheusCollector) RecordIdempotentSkip(subject string) {
	p.ensureRegistered()
	p.idempotentSkips.WithLabelValues(subject).Inc()
}

// labelOrNone maps the empty "from" status of a newly created entity.
func labelOrNone(s string) string {
	if s == "" {
		return "none"
	}

	return s
}
