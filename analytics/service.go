package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/subscription"
	"github.com/arloliu/quizflow/types"
)

// QueueGroup is the queue group analytics listeners join.
const QueueGroup = "analytics"

// Service records quiz.complete events.
type Service struct {
	db      *DB
	logger  types.Logger
	metrics types.MetricsCollector
	now     func() time.Time
}

// NewService creates the analytics service on db.
func NewService(db *DB, logger types.Logger, mc types.MetricsCollector) *Service {
	return &Service{
		db:      db,
		logger:  logging.OrNop(logger),
		metrics: metrics.OrNop(mc),
		now:     time.Now,
	}
}

// DB returns the projection for queries.
func (s *Service) DB() *DB { return s.db }

// HandleEvent implements subscription.EventHandler.
func (s *Service) HandleEvent(ctx context.Context, ev types.Event) error {
	e, ok := ev.(*types.QuizComplete)
	if !ok {
		return types.Permanent(fmt.Errorf("analytics: %w: %s", types.ErrUnknownSubject, ev.Subject()))
	}

	inserted, err := s.db.Record(ctx, Completion{
		QuizID:      e.ID,
		WorksheetID: e.WorksheetID,
		UserID:      e.UserID,
		Difficulty:  e.Difficulty,
		Score:       e.Score,
		CompletedAt: e.CompletedAt,
		RecordedAt:  s.now(),
	})
	if err != nil {
		return err
	}

	if !inserted {
		s.metrics.RecordIdempotentSkip(e.Subject())
		s.logger.Debug("completion already recorded", "quiz_id", e.ID)
		return nil
	}
	s.logger.Info("completion recorded", "quiz_id", e.ID, "difficulty", e.Difficulty, "score", e.Score)

	return nil
}

// Bindings returns the events the analytics service consumes.
func (s *Service) Bindings() []subscription.Binding {
	return []subscription.Binding{
		{Subject: types.SubjectQuizComplete, Handler: s},
	}
}
