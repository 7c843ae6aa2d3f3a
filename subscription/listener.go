package subscription

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/quizflow/types"
)

// Listener runs a durable pull consumer for one subject on behalf of one queue group.
type Listener struct {
	js      jetstream.JetStream
	config  ListenerConfig
	handler EventHandler
	logger  types.Logger
	metrics types.MetricsCollector
	durable string

	// rng is only touched by the pull goroutine.
	rng *rand.Rand

	mu       sync.Mutex
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewListener creates a Listener. The consumer is not created until Start.
//
// Example:
//
//	l, err := subscription.NewListener(js, subscription.ListenerConfig{
//	    StreamName: "QUIZFLOW",
//	    Subject:    types.SubjectQuizGenerated,
//	    QueueGroup: "quiz",
//	}, subscription.EventHandlerFunc(svc.HandleQuizGenerated))
//	if err != nil {
//	    return err
//	}
//	if err := l.Start(ctx); err != nil {
//	    return err
//	}
//	defer l.Close(context.Background())
func NewListener(js jetstream.JetStream, cfg ListenerConfig, handler EventHandler) (*Listener, error) {
	if js == nil {
		return nil, ErrJetStreamRequired
	}
	if cfg.StreamName == "" {
		return nil, ErrStreamNameRequired
	}
	if cfg.Subject == "" {
		return nil, ErrSubjectRequired
	}
	if cfg.QueueGroup == "" {
		return nil, ErrQueueGroupRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	cfg.applyDefaults()

	return &Listener{
		js:      js,
		config:  cfg,
		handler: handler,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		durable: DurableName(cfg.QueueGroup, cfg.Subject),
		rng:     newRetryRNG(cfg.RetrySeed),
	}, nil
}

// DurableName returns the durable consumer name shared by every instance of a
// queue group listening on subject.
func DurableName(queueGroup, subject string) string {
	return sanitizeConsumerName(queueGroup + "-" + subject)
}

// Durable returns the listener's durable consumer name.
func (l *Listener) Durable() string { return l.durable }

// Subject returns the subject the listener consumes.
func (l *Listener) Subject() string { return l.config.Subject }

// Start creates or binds the durable consumer and starts the pull loop.
//
// The pull loop runs until Close is called; ctx only bounds consumer creation.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return ErrListenerStarted
	}
	l.mu.Unlock()

	cfg := jetstream.ConsumerConfig{
		Name:              l.durable,
		Durable:           l.durable,
		FilterSubject:     l.config.Subject,
		DeliverPolicy:     l.config.DeliverPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           l.config.AckWait,
		MaxDeliver:        l.config.MaxDeliver,
		InactiveThreshold: l.config.InactiveThreshold,
		MaxWaiting:        l.config.MaxWaiting,
	}

	var (
		cons    jetstream.Consumer
		lastErr error
	)
	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cons, lastErr = l.js.CreateOrUpdateConsumer(ctx, l.config.StreamName, cfg)
		if lastErr == nil {
			break
		}
		if attempt >= l.config.MaxRetries {
			return fmt.Errorf("failed to create consumer %s after %d attempts: %w",
				l.durable, l.config.MaxRetries+1, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.RetryBackoff):
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrListenerStarted
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	l.consumer = cons
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.runPullLoop(pullCtx, cons, l.done)

	l.logger.Info("listener started",
		"subject", l.config.Subject,
		"queue_group", l.config.QueueGroup,
		"durable", l.durable)

	return nil
}

// Close stops the pull loop and waits for the in-flight message to finish.
//
// The durable consumer is NOT deleted; it keeps the group's position for the next
// instance and is removed by the server after InactiveThreshold.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done, l.consumer = nil, nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		l.logger.Debug("listener closed", "durable", l.durable)
		return nil
	case <-ctx.Done():
		l.logger.Warn("close context cancelled before pull loop exited", "durable", l.durable)
		return ctx.Err()
	}
}

// ConsumerInfo returns the durable consumer's server-side state.
func (l *Listener) ConsumerInfo(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	l.mu.Lock()
	cons := l.consumer
	l.mu.Unlock()

	if cons == nil {
		return nil, errors.New("listener not started")
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	return info, nil
}

// runPullLoop consumes messages until ctx is cancelled, recreating the iterator
// after heartbeat loss or transient iterator errors.
func (l *Listener) runPullLoop(ctx context.Context, cons jetstream.Consumer, done chan struct{}) {
	defer close(done)

	for {
		iter, err := cons.Messages(
			jetstream.PullMaxMessages(l.config.BatchSize),
			jetstream.PullExpiry(l.config.FetchTimeout),
			jetstream.PullHeartbeat(l.config.FetchTimeout/2),
		)
		if err != nil {
			l.logger.Error("failed to create message iterator", "durable", l.durable, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.config.RetryBackoff):
				continue
			}
		}

		// Next blocks; stopping the iterator unblocks it on cancellation.
		stop := context.AfterFunc(ctx, iter.Stop)

		if !l.drain(ctx, iter) {
			stop()
			iter.Stop()
			return
		}
		stop()
		iter.Stop()

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.config.RetryBackoff):
		}
	}
}

// drain handles messages from iter. It returns false when the loop should exit
// and true when the iterator must be recreated.
func (l *Listener) drain(ctx context.Context, iter jetstream.MessagesContext) bool {
	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, jetstream.ErrNoHeartbeat) {
				l.logger.Warn("pull loop: no heartbeat, recreating iterator", "durable", l.durable)
			} else {
				l.logger.Warn("pull loop: iterator error, recreating", "durable", l.durable, "error", err)
			}

			return true
		}

		l.process(ctx, msg)
	}
}

// process decodes and applies one message, then settles it.
func (l *Listener) process(ctx context.Context, msg jetstream.Msg) {
	start := time.Now()
	subject := msg.Subject()

	var delivered uint64 = 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}
	if delivered > 1 {
		l.metrics.RecordRedelivery(subject)
	}

	err := l.apply(ctx, subject, msg.Data())

	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			l.logger.Warn("ack failed", "subject", subject, "error", ackErr)
		}
		l.metrics.RecordEventDisposition(subject, types.DispositionApplied, time.Since(start))

	case types.IsPermanent(err):
		l.logger.Warn("dropping event",
			"subject", subject,
			"queue_group", l.config.QueueGroup,
			"delivered", delivered,
			"error", err)
		if ackErr := msg.Ack(); ackErr != nil {
			l.logger.Warn("ack failed", "subject", subject, "error", ackErr)
		}
		l.metrics.RecordEventDisposition(subject, types.DispositionDropped, time.Since(start))
		l.reportError(err)

	default:
		delay := nakDelay(delivered, l.config.NakBaseDelay, l.config.NakMultiplier, l.config.NakMaxDelay, l.rng)
		if l.config.MaxDeliver > 0 && delivered >= uint64(l.config.MaxDeliver) { //nolint:gosec // MaxDeliver is positive
			l.logger.Error("event exhausted deliveries",
				"subject", subject,
				"queue_group", l.config.QueueGroup,
				"delivered", delivered,
				"error", err)
		} else {
			l.logger.Warn("event apply failed, will retry",
				"subject", subject,
				"delivered", delivered,
				"delay", delay,
				"error", err)
		}
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			l.logger.Warn("nak failed", "subject", subject, "error", nakErr)
		}
		l.metrics.RecordEventDisposition(subject, types.DispositionRetry, time.Since(start))
		l.reportError(err)
	}
}

func (l *Listener) apply(ctx context.Context, subject string, data []byte) error {
	ev, err := types.DecodeEvent(subject, data)
	if err != nil {
		return err
	}

	// Leave room to settle the message before AckWait expires.
	applyCtx, cancel := context.WithTimeout(ctx, l.config.AckWait*9/10)
	defer cancel()

	return l.handler.HandleEvent(applyCtx, ev)
}

func (l *Listener) reportError(err error) {
	if l.config.OnError != nil {
		l.config.OnError(fmt.Errorf("%s/%s: %w", l.config.QueueGroup, l.config.Subject, err))
	}
}

// sanitizeConsumerName replaces characters NATS forbids in consumer names
// (whitespace, '.', '*', '>', path separators, non-printables) with '_'.
func sanitizeConsumerName(name string) string {
	var result strings.Builder
	result.Grow(len(name))

	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '*' || r == '>' ||
			r == '/' || r == '\\' ||
			r < 32 || r == 127 {
			result.WriteRune('_')
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
