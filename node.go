package quizflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/quizflow/analytics"
	"github.com/arloliu/quizflow/authoring"
	"github.com/arloliu/quizflow/bus"
	"github.com/arloliu/quizflow/generation"
	"github.com/arloliu/quizflow/internal/hooks"
	"github.com/arloliu/quizflow/internal/kvutil"
	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/quiz"
	"github.com/arloliu/quizflow/store"
	"github.com/arloliu/quizflow/subscription"
)

// kvBucketRetries bounds bucket creation attempts during Start.
const kvBucketRetries = 5

// Node runs one or more quizflow services against a NATS connection.
//
// Node is the main entry point of the module. Start ensures the event stream,
// opens each owning service's private store, and binds one durable listener
// per (service, subject) pair. Several nodes running the same role share the
// work through the role's queue group.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Service accessors return nil for roles the node does not run
//
// Lifecycle:
//   - Create with NewNode()
//   - Call Start() to bind listeners
//   - Drive the authoring and quiz services through their accessors
//   - Call Stop() for graceful shutdown
type Node struct {
	cfg  Config
	conn *nats.Conn

	hooks     *Hooks
	errHook   func(ctx context.Context, err error) error
	metrics   MetricsCollector
	logger    Logger
	generator generation.Generator

	analyticsDB *analytics.DB
	ownsDB      bool

	authoring  *authoring.Service
	quiz       *quiz.Service
	generation *generation.Service
	analytics  *analytics.Service
	sweeper    *quiz.Sweeper
	listeners  []*subscription.Listener

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// NewNode creates a Node.
//
// cfg is completed with SetDefaults and validated; the caller's struct is
// updated in place.
//
// Example:
//
//	cfg := quizflow.DefaultConfig()
//	cfg.Roles = []quizflow.Role{quizflow.RoleQuiz}
//	node, err := quizflow.NewNode(&cfg, nc, quizflow.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(ctx); err != nil {
//	    return err
//	}
//	defer node.Stop(context.Background())
func NewNode(cfg *Config, conn *nats.Conn, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &nodeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := logging.OrNop(options.logger)
	cfg.ValidateWithWarnings(logger)

	filled := hooks.Fill(options.hooks)

	return &Node{
		cfg:         *cfg,
		conn:        conn,
		hooks:       options.hooks,
		errHook:     filled.OnError,
		metrics:     metrics.OrNop(options.metrics),
		logger:      logger,
		generator:   options.generator,
		analyticsDB: options.analyticsDB,
	}, nil
}

// Start ensures the stream and stores, builds the configured services and
// starts their listeners.
//
// ctx bounds setup only, further limited by Config.StartupTimeout. On failure
// everything started so far is torn down and Start may be called again.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.ctx != nil {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.mu.Unlock()

	startupCtx := ctx
	if n.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, n.cfg.StartupTimeout)
		defer cancel()
	}

	if err := n.start(startupCtx); err != nil {
		_ = n.teardown(context.Background())

		n.mu.Lock()
		n.cancel()
		n.ctx, n.cancel = nil, nil
		n.authoring, n.quiz, n.generation, n.analytics, n.sweeper = nil, nil, nil, nil, nil
		n.mu.Unlock()

		return err
	}

	n.logger.Info("node started", "roles", n.cfg.EnabledRoles(), "listeners", len(n.Listeners()))

	return nil
}

func (n *Node) start(ctx context.Context) error {
	js, err := jetstream.New(n.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = bus.EnsureStream(ctx, js, bus.StreamConfig{
		Name:            n.cfg.Stream.Name,
		Replicas:        n.cfg.Stream.Replicas,
		MaxAge:          n.cfg.Stream.MaxAge,
		DuplicateWindow: n.cfg.Stream.DuplicateWindow,
		Memory:          n.cfg.Stream.Memory,
	})
	if err != nil {
		return err
	}

	pub := bus.NewPublisher(js,
		bus.WithPublisherLogger(n.logger),
		bus.WithPublisherMetrics(n.metrics),
		bus.WithPublishTimeout(n.cfg.PublishTimeout),
	)

	var bindings []roleBinding
	for _, role := range n.cfg.EnabledRoles() {
		rb, err := n.buildRole(ctx, js, pub, role)
		if err != nil {
			return fmt.Errorf("failed to build %s service: %w", role, err)
		}
		bindings = append(bindings, rb...)
	}

	for _, b := range bindings {
		l, err := subscription.NewListener(js, n.listenerConfig(b.queueGroup, b.Subject), b.Handler)
		if err != nil {
			return err
		}
		if err := l.Start(ctx); err != nil {
			return fmt.Errorf("failed to start listener %s: %w", l.Durable(), err)
		}
		n.mu.Lock()
		n.listeners = append(n.listeners, l)
		n.mu.Unlock()
	}

	if n.sweeper != nil {
		if err := n.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}

	return nil
}

type roleBinding struct {
	subscription.Binding
	queueGroup string
}

func (n *Node) buildRole(ctx context.Context, js jetstream.JetStream, pub *bus.Publisher, role Role) ([]roleBinding, error) {
	switch role {
	case RoleAuthoring:
		backend, err := n.backend(ctx, js, role)
		if err != nil {
			return nil, err
		}
		n.authoring = authoring.NewService(store.NewWorksheetRepo(backend, n.metrics), pub, authoring.Config{
			RetryAttempts: n.cfg.Store.RetryAttempts,
			Logger:        n.logger,
			Metrics:       n.metrics,
			Hooks:         n.hooks,
		})

		return withGroup(authoring.QueueGroup, n.authoring.Bindings()), nil

	case RoleQuiz:
		backend, err := n.backend(ctx, js, role)
		if err != nil {
			return nil, err
		}
		n.quiz = quiz.NewService(
			store.NewQuizRepo(backend, n.metrics),
			store.NewReplicaRepo(backend, n.metrics),
			pub,
			quiz.Config{
				RetryAttempts: n.cfg.Store.RetryAttempts,
				Logger:        n.logger,
				Metrics:       n.metrics,
				Hooks:         n.hooks,
			},
		)
		if n.cfg.Quiz.ProcessingTimeout > 0 {
			n.sweeper = quiz.NewSweeper(n.quiz, n.cfg.Quiz.ProcessingTimeout, n.cfg.Quiz.SweepInterval)
		}

		return withGroup(quiz.QueueGroup, n.quiz.Bindings()), nil

	case RoleGeneration:
		gen, err := n.newGenerator()
		if err != nil {
			return nil, err
		}
		n.generation = generation.NewService(gen, pub, generation.Config{
			Timeout: n.cfg.Generation.Timeout,
			Logger:  n.logger,
		})

		return withGroup(generation.QueueGroup, n.generation.Bindings()), nil

	case RoleAnalytics:
		db := n.analyticsDB
		if db == nil {
			opened, err := analytics.OpenDB(ctx, n.cfg.Analytics.DSN)
			if err != nil {
				return nil, err
			}
			db = opened
			n.analyticsDB = db
			n.ownsDB = true
		}
		n.analytics = analytics.NewService(db, n.logger, n.metrics)

		return withGroup(analytics.QueueGroup, n.analytics.Bindings()), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

func withGroup(group string, bindings []subscription.Binding) []roleBinding {
	out := make([]roleBinding, len(bindings))
	for i, b := range bindings {
		out[i] = roleBinding{Binding: b, queueGroup: group}
	}

	return out
}

// backend opens the private store of an owning service.
func (n *Node) backend(ctx context.Context, js jetstream.JetStream, role Role) (store.Backend, error) {
	if n.cfg.Store.Backend == StoreBackendMemory {
		return store.NewMemoryBackend(), nil
	}

	bucket := n.cfg.Store.BucketPrefix + "-" + string(role)
	kv, err := kvutil.EnsureBucket(ctx, js,
		kvutil.EntityBucketConfig(bucket, n.cfg.Store.Replicas, n.cfg.Store.Memory), kvBucketRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", role, err)
	}

	return store.NewKVBackend(kv, n.metrics), nil
}

func (n *Node) newGenerator() (generation.Generator, error) {
	if n.generator != nil {
		return n.generator, nil
	}

	switch n.cfg.Generation.Provider {
	case GeneratorOpenAI:
		key := os.Getenv(n.cfg.Generation.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%w: %s is not set", ErrInvalidConfig, n.cfg.Generation.APIKeyEnv)
		}

		return generation.NewOpenAIGenerator(generation.OpenAIConfig{
			APIKey:  key,
			BaseURL: n.cfg.Generation.BaseURL,
			Model:   n.cfg.Generation.Model,
			Logger:  n.logger,
		}), nil
	default:
		return generation.NewStaticGenerator(), nil
	}
}

func (n *Node) listenerConfig(queueGroup, subject string) subscription.ListenerConfig {
	return subscription.ListenerConfig{
		StreamName:   n.cfg.Stream.Name,
		Subject:      subject,
		QueueGroup:   queueGroup,
		AckWait:      n.cfg.Listener.AckWait,
		MaxDeliver:   n.cfg.Listener.MaxDeliver,
		BatchSize:    n.cfg.Listener.BatchSize,
		FetchTimeout: n.cfg.Listener.FetchTimeout,
		NakBaseDelay: n.cfg.Listener.NakBaseDelay,
		NakMaxDelay:  n.cfg.Listener.NakMaxDelay,
		Logger:       n.logger,
		Metrics:      n.metrics,
		OnError:      n.reportError,
	}
}

func (n *Node) reportError(err error) {
	n.mu.RLock()
	ctx := n.ctx
	n.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if hookErr := n.errHook(ctx, err); hookErr != nil {
			n.logger.Warn("error hook failed", "error", hookErr)
		}
	}()
}

// Stop stops the sweeper and every listener, waiting for in-flight messages,
// then closes the analytics database if the node opened it.
//
// A ctx without deadline is bounded by Config.ShutdownTimeout.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.ctx == nil || n.ctx.Err() != nil {
		n.mu.Unlock()
		return ErrNotStarted
	}
	n.cancel()
	n.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && n.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := n.teardown(ctx)
	if err != nil {
		n.logger.Error("node stopped with errors", "error", err)
	} else {
		n.logger.Info("node stopped")
	}

	return err
}

// teardown releases everything start acquired, in reverse order.
func (n *Node) teardown(ctx context.Context) error {
	var errs []error

	if n.sweeper != nil {
		if err := n.sweeper.Stop(); err != nil && !errors.Is(err, quiz.ErrSweeperNotStarted) {
			errs = append(errs, fmt.Errorf("sweeper stop failed: %w", err))
		}
	}

	n.mu.Lock()
	listeners := n.listeners
	n.listeners = nil
	n.mu.Unlock()

	for i := len(listeners) - 1; i >= 0; i-- {
		if err := listeners[i].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("listener %s close failed: %w", listeners[i].Durable(), err))
		}
	}

	if n.ownsDB && n.analyticsDB != nil {
		if err := n.analyticsDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("analytics db close failed: %w", err))
		}
		n.analyticsDB, n.ownsDB = nil, false
	}

	return errors.Join(errs...)
}

// Authoring returns the authoring service, or nil when the role is not run.
func (n *Node) Authoring() *authoring.Service { return n.authoring }

// Quiz returns the quiz service, or nil when the role is not run.
func (n *Node) Quiz() *quiz.Service { return n.quiz }

// Analytics returns the analytics service, or nil when the role is not run.
func (n *Node) Analytics() *analytics.Service { return n.analytics }

// Listeners returns the durable consumer names the node is bound to.
func (n *Node) Listeners() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.listeners))
	for i, l := range n.listeners {
		names[i] = l.Durable()
	}

	return names
}
