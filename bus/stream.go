package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream defaults.
const (
	StreamName             = "QUIZFLOW"
	DefaultDuplicateWindow = 2 * time.Minute
	DefaultMaxAge          = 7 * 24 * time.Hour
)

// StreamSubjects are the subject filters bound to the stream.
var StreamSubjects = []string{"worksheet.>", "quiz.>"}

// StreamConfig configures EnsureStream.
type StreamConfig struct {
	Name            string
	Replicas        int
	MaxAge          time.Duration
	DuplicateWindow time.Duration

	// Memory selects memory storage instead of file storage.
	Memory bool
}

func (cfg *StreamConfig) applyDefaults() {
	if cfg.Name == "" {
		cfg.Name = StreamName
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.DuplicateWindow == 0 {
		cfg.DuplicateWindow = DefaultDuplicateWindow
	}
}

// EnsureStream creates the event stream, or updates it to cfg if it already exists.
//
// The stream uses limits retention so that every queue group's durable consumer
// sees every message.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	cfg.applyDefaults()

	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}

	sc := jetstream.StreamConfig{
		Name:        cfg.Name,
		Description: "quizflow domain events",
		Subjects:    StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		Storage:     storage,
		Replicas:    cfg.Replicas,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.DuplicateWindow,
		Discard:     jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return js.Stream(ctx, cfg.Name)
		}

		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}
