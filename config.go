package quizflow

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Role names a service a Node can run.
type Role string

// Service roles.
const (
	RoleAuthoring  Role = "authoring"
	RoleQuiz       Role = "quiz"
	RoleGeneration Role = "generation"
	RoleAnalytics  Role = "analytics"

	// RoleAll expands to every role.
	RoleAll Role = "all"
)

// AllRoles lists every concrete role in start order.
var AllRoles = []Role{RoleAuthoring, RoleQuiz, RoleGeneration, RoleAnalytics}

// Store backends.
const (
	StoreBackendKV     = "kv"
	StoreBackendMemory = "memory"
)

// Generator providers.
const (
	GeneratorStatic = "static"
	GeneratorOpenAI = "openai"
)

// StreamConfig configures the JetStream stream carrying every event.
type StreamConfig struct {
	Name     string `yaml:"name"`
	Replicas int    `yaml:"replicas"`

	// MaxAge bounds how long events are retained.
	MaxAge time.Duration `yaml:"maxAge"`

	// DuplicateWindow is the server-side Nats-Msg-Id dedup window.
	DuplicateWindow time.Duration `yaml:"duplicateWindow"`

	Memory bool `yaml:"memory"`
}

// StoreConfig configures the private entity stores.
type StoreConfig struct {
	// Backend is "kv" (JetStream KV, one bucket per owning service) or "memory".
	Backend string `yaml:"backend"`

	// BucketPrefix prefixes every bucket name, e.g. "quizflow-authoring".
	BucketPrefix string `yaml:"bucketPrefix"`

	Replicas int  `yaml:"replicas"`
	Memory   bool `yaml:"memory"`

	// RetryAttempts bounds re-read-and-retry loops on version conflicts.
	RetryAttempts int `yaml:"retryAttempts"`
}

// ListenerConfig configures every event listener the node starts.
type ListenerConfig struct {
	AckWait      time.Duration `yaml:"ackWait"`
	MaxDeliver   int           `yaml:"maxDeliver"`
	BatchSize    int           `yaml:"batchSize"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// NakBaseDelay and NakMaxDelay bound the redelivery backoff after a
	// transient handler failure.
	NakBaseDelay time.Duration `yaml:"nakBaseDelay"`
	NakMaxDelay  time.Duration `yaml:"nakMaxDelay"`
}

// GenerationConfig configures the content generator.
type GenerationConfig struct {
	// Provider is "static" or "openai".
	Provider string `yaml:"provider"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"apiKeyEnv"`

	// Timeout bounds a single generator call.
	Timeout time.Duration `yaml:"timeout"`
}

// QuizConfig configures the quiz service.
type QuizConfig struct {
	// ProcessingTimeout fails quizzes stuck in processing for longer than this.
	// Zero disables the sweeper.
	ProcessingTimeout time.Duration `yaml:"processingTimeout"`

	// SweepInterval defaults to a quarter of ProcessingTimeout.
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// AnalyticsConfig configures the analytics projection.
type AnalyticsConfig struct {
	// DSN is the SQLite data source, e.g. "file:analytics.db" or ":memory:".
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures the logger built by the command.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the Node configuration.
type Config struct {
	// Roles lists the services this node runs. "all" runs every service.
	Roles []Role `yaml:"roles"`

	Stream     StreamConfig     `yaml:"stream"`
	Store      StoreConfig      `yaml:"store"`
	Listener   ListenerConfig   `yaml:"listener"`
	Generation GenerationConfig `yaml:"generation"`
	Quiz       QuizConfig       `yaml:"quiz"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`

	// PublishTimeout bounds a single publish when the caller's context has no deadline.
	PublishTimeout time.Duration `yaml:"publishTimeout"`

	// StartupTimeout bounds stream, bucket and consumer setup in Start.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Roles: []Role{RoleAll},
		Stream: StreamConfig{
			Name:            "QUIZFLOW",
			Replicas:        1,
			MaxAge:          7 * 24 * time.Hour,
			DuplicateWindow: 2 * time.Minute,
		},
		Store: StoreConfig{
			Backend:       StoreBackendKV,
			BucketPrefix:  "quizflow",
			Replicas:      1,
			RetryAttempts: 5,
		},
		Listener: ListenerConfig{
			AckWait:      90 * time.Second,
			MaxDeliver:   20,
			BatchSize:    16,
			FetchTimeout: 5 * time.Second,
			NakBaseDelay: 500 * time.Millisecond,
			NakMaxDelay:  30 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:  GeneratorStatic,
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   60 * time.Second,
		},
		Analytics: AnalyticsConfig{
			DSN: "file:quizflow-analytics.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		PublishTimeout:  5 * time.Second,
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Quiz.ProcessingTimeout is left alone: zero is meaningful and disables the sweeper.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if len(cfg.Roles) == 0 {
		cfg.Roles = defaults.Roles
	}

	if cfg.Stream.Name == "" {
		cfg.Stream.Name = defaults.Stream.Name
	}
	if cfg.Stream.Replicas == 0 {
		cfg.Stream.Replicas = defaults.Stream.Replicas
	}
	if cfg.Stream.MaxAge == 0 {
		cfg.Stream.MaxAge = defaults.Stream.MaxAge
	}
	if cfg.Stream.DuplicateWindow == 0 {
		cfg.Stream.DuplicateWindow = defaults.Stream.DuplicateWindow
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.BucketPrefix == "" {
		cfg.Store.BucketPrefix = defaults.Store.BucketPrefix
	}
	if cfg.Store.Replicas == 0 {
		cfg.Store.Replicas = defaults.Store.Replicas
	}
	if cfg.Store.RetryAttempts == 0 {
		cfg.Store.RetryAttempts = defaults.Store.RetryAttempts
	}

	if cfg.Listener.AckWait == 0 {
		cfg.Listener.AckWait = defaults.Listener.AckWait
	}
	if cfg.Listener.MaxDeliver == 0 {
		cfg.Listener.MaxDeliver = defaults.Listener.MaxDeliver
	}
	if cfg.Listener.BatchSize == 0 {
		cfg.Listener.BatchSize = defaults.Listener.BatchSize
	}
	if cfg.Listener.FetchTimeout == 0 {
		cfg.Listener.FetchTimeout = defaults.Listener.FetchTimeout
	}
	if cfg.Listener.NakBaseDelay == 0 {
		cfg.Listener.NakBaseDelay = defaults.Listener.NakBaseDelay
	}
	if cfg.Listener.NakMaxDelay == 0 {
		cfg.Listener.NakMaxDelay = defaults.Listener.NakMaxDelay
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = defaults.Generation.Provider
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaults.Generation.Model
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = defaults.Generation.APIKeyEnv
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = defaults.Generation.Timeout
	}

	if cfg.Analytics.DSN == "" {
		cfg.Analytics.DSN = defaults.Analytics.DSN
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}

	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// Validate checks configuration constraints.
//
// Hard rules:
//   - every role is known and listed once
//   - store backend and generator provider are known
//   - the listener ack wait outlives the generator timeout, otherwise a slow
//     generation is redelivered while still running
//   - NakBaseDelay <= NakMaxDelay
//   - SweepInterval <= ProcessingTimeout when the sweeper is enabled
func (cfg *Config) Validate() error {
	if len(cfg.Roles) == 0 {
		return fmt.Errorf("%w: at least one role is required", ErrInvalidConfig)
	}
	seen := make(map[Role]bool, len(cfg.Roles))
	for _, r := range cfg.Roles {
		if r != RoleAll && !slices.Contains(AllRoles, r) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrUnknownRole, r)
		}
		if seen[r] {
			return fmt.Errorf("%w: role %q listed twice", ErrInvalidConfig, r)
		}
		seen[r] = true
	}

	switch cfg.Store.Backend {
	case StoreBackendKV, StoreBackendMemory:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, cfg.Store.Backend)
	}
	if cfg.Store.RetryAttempts < 1 {
		return fmt.Errorf("%w: store.retryAttempts must be >= 1, got %d", ErrInvalidConfig, cfg.Store.RetryAttempts)
	}

	switch cfg.Generation.Provider {
	case GeneratorStatic, GeneratorOpenAI:
	default:
		return fmt.Errorf("%w: unknown generator provider %q", ErrInvalidConfig, cfg.Generation.Provider)
	}

	if cfg.Listener.AckWait <= cfg.Generation.Timeout {
		return fmt.Errorf("%w: listener.ackWait (%v) must exceed generation.timeout (%v)",
			ErrInvalidConfig, cfg.Listener.AckWait, cfg.Generation.Timeout)
	}
	if cfg.Listener.MaxDeliver < 1 {
		return fmt.Errorf("%w: listener.maxDeliver must be >= 1, got %d", ErrInvalidConfig, cfg.Listener.MaxDeliver)
	}
	if cfg.Listener.NakBaseDelay > cfg.Listener.NakMaxDelay {
		return fmt.Errorf("%w: listener.nakBaseDelay (%v) must be <= nakMaxDelay (%v)",
			ErrInvalidConfig, cfg.Listener.NakBaseDelay, cfg.Listener.NakMaxDelay)
	}

	if cfg.Quiz.ProcessingTimeout < 0 {
		return fmt.Errorf("%w: quiz.processingTimeout must not be negative", ErrInvalidConfig)
	}
	if cfg.Quiz.ProcessingTimeout > 0 && cfg.Quiz.SweepInterval > cfg.Quiz.ProcessingTimeout {
		return fmt.Errorf("%w: quiz.sweepInterval (%v) must be <= processingTimeout (%v)",
			ErrInvalidConfig, cfg.Quiz.SweepInterval, cfg.Quiz.ProcessingTimeout)
	}

	return nil
}

// ValidateWithWarnings logs warnings for legal but risky values.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Store.Backend == StoreBackendMemory && !cfg.runsAll() {
		logger.Warn("memory store is private to this process; state is lost on restart",
			"roles", cfg.Roles)
	}
	if cfg.Quiz.ProcessingTimeout > 0 && cfg.Quiz.ProcessingTimeout < cfg.Generation.Timeout {
		logger.Warn("quiz processing timeout is shorter than the generator timeout, slow generations will be swept",
			"processingTimeout", cfg.Quiz.ProcessingTimeout,
			"generationTimeout", cfg.Generation.Timeout)
	}
}

// EnabledRoles returns the concrete roles the node runs, in start order.
func (cfg *Config) EnabledRoles() []Role {
	if cfg.runsAll() {
		return slices.Clone(AllRoles)
	}

	out := make([]Role, 0, len(cfg.Roles))
	for _, r := range AllRoles {
		if slices.Contains(cfg.Roles, r) {
			out = append(out, r)
		}
	}

	return out
}

func (cfg *Config) runsAll() bool {
	return slices.Contains(cfg.Roles, RoleAll)
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration, applies defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// TestConfig returns a configuration for fast test execution: memory storage
// everywhere, an in-memory analytics database and short listener timings.
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Stream.Memory = true
	cfg.Store.Memory = true
	cfg.Listener.AckWait = 5 * time.Second
	cfg.Listener.FetchTimeout = 200 * time.Millisecond
	cfg.Listener.NakBaseDelay = 20 * time.Millisecond
	cfg.Listener.NakMaxDelay = 200 * time.Millisecond
	cfg.Generation.Timeout = 2 * time.Second
	cfg.Analytics.DSN = ":memory:"
	cfg.StartupTimeout = 10 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}
