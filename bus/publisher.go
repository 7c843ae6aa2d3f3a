package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/types"
)

// Publisher implements types.Publisher on JetStream.
type Publisher struct {
	js      jetstream.JetStream
	logger  types.Logger
	metrics types.MetricsCollector
	timeout time.Duration
	now     func() time.Time
}

var _ types.Publisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l types.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logging.OrNop(l) }
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(m types.MetricsCollector) PublisherOption {
	return func(p *Publisher) { p.metrics = metrics.OrNop(m) }
}

// WithPublishTimeout bounds each publish when ctx has no earlier deadline.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		js:      js,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish encodes ev and publishes it to its subject, waiting for the stream ack.
func (p *Publisher) Publish(ctx context.Context, ev types.Event) error {
	data, err := types.EncodeEvent(ev, p.now())
	if err != nil {
		p.metrics.RecordEventPublished(subjectOf(ev), false)
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ack, err := p.js.Publish(ctx, ev.Subject(), data, jetstream.WithMsgID(MsgID(ev)))
	if err != nil {
		p.metrics.RecordEventPublished(ev.Subject(), false)
		return fmt.Errorf("%w: %s %s: %w", types.ErrPublishFailed, ev.Subject(), ev.EntityID(), err)
	}

	p.metrics.RecordEventPublished(ev.Subject(), true)
	if ack.Duplicate {
		p.logger.Debug("publish deduplicated by stream", "subject", ev.Subject(), "id", ev.EntityID())
	}

	return nil
}

// PublishBestEffort publishes ev after a committed local write. A failure is
// logged and counted but never returned: the write stands, and the event is
// lost for this attempt.
func PublishBestEffort(ctx context.Context, pub types.Publisher, logger types.Logger, ev types.Event) {
	if err := pub.Publish(ctx, ev); err != nil {
		logging.OrNop(logger).Warn("event publish failed after commit",
			"subject", ev.Subject(),
			"id", ev.EntityID(),
			"version", ev.EntityVersion(),
			"error", err)
	}
}

func subjectOf(ev types.Event) string {
	if ev == nil {
		return "unknown"
	}

	return ev.Subject()
}
