package quizflow

import (
	"github.com/arloliu/quizflow/analytics"
	"github.com/arloliu/quizflow/generation"
)

// Option configures a Node with optional dependencies.
type Option func(*nodeOptions)

type nodeOptions struct {
	hooks       *Hooks
	metrics     MetricsCollector
	logger      Logger
	generator   generation.Generator
	analyticsDB *analytics.DB
}

// WithHooks sets transition and error hooks for every service the node runs.
//
// Example:
//
//	hooks := &quizflow.Hooks{
//	    OnQuizTransition: func(ctx context.Context, q *quizflow.Quiz, from, to types.QuizStatus) error {
//	        log.Printf("quiz %s: %s -> %s", q.ID, from, to)
//	        return nil
//	    },
//	}
//	node, err := quizflow.NewNode(&cfg, nc, quizflow.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *nodeOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Example:
//
//	mc := metrics.NewPrometheus(prometheus.DefaultRegisterer, "quizflow")
//	node, err := quizflow.NewNode(&cfg, nc, quizflow.WithMetrics(mc))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *nodeOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
func WithLogger(logger Logger) Option {
	return func(o *nodeOptions) {
		o.logger = logger
	}
}

// WithGenerator overrides the generator selected by Config.Generation.
func WithGenerator(gen generation.Generator) Option {
	return func(o *nodeOptions) {
		o.generator = gen
	}
}

// WithAnalyticsDB supplies an already opened analytics database. The node does
// not close a database it did not open.
func WithAnalyticsDB(db *analytics.DB) Option {
	return func(o *nodeOptions) {
		o.analyticsDB = db
	}
}
