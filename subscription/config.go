package subscription

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/types"
)

// ListenerConfig configures a Listener.
//
// Required fields:
//   - StreamName
//   - Subject
//   - QueueGroup
//
// Zero values of the optional fields are replaced by defaults via applyDefaults().
type ListenerConfig struct {
	StreamName string
	Subject    string
	QueueGroup string

	AckWait           time.Duration
	MaxDeliver        int
	InactiveThreshold time.Duration

	BatchSize    int
	MaxWaiting   int
	FetchTimeout time.Duration

	// MaxRetries and RetryBackoff govern consumer creation and iterator restarts.
	MaxRetries   int
	RetryBackoff time.Duration

	// Redelivery delay after a transient handler failure.
	NakBaseDelay  time.Duration
	NakMaxDelay   time.Duration
	NakMultiplier float64

	// RetrySeed makes redelivery jitter deterministic when non-zero.
	RetrySeed int64

	// DeliverPolicy selects where a newly created durable starts. Defaults to all.
	DeliverPolicy jetstream.DeliverPolicy

	Logger  types.Logger
	Metrics types.MetricsCollector

	// OnError is called for every failed delivery, permanent or not.
	OnError func(err error)
}

// applyDefaults fills unset optional fields with project defaults.
func (cfg *ListenerConfig) applyDefaults() {
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.InactiveThreshold == 0 {
		cfg.InactiveThreshold = DefaultInactiveThreshold
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWaiting == 0 {
		cfg.MaxWaiting = DefaultMaxWaiting
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.NakBaseDelay == 0 {
		cfg.NakBaseDelay = DefaultNakBaseDelay
	}
	if cfg.NakMaxDelay == 0 {
		cfg.NakMaxDelay = DefaultNakMaxDelay
	}
	if cfg.NakMultiplier == 0 {
		cfg.NakMultiplier = DefaultNakMultiplier
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
}
