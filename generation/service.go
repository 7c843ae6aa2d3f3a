package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/subscription"
	"github.com/arloliu/quizflow/types"
)

// QueueGroup is the queue group generation listeners join.
const QueueGroup = "generation"

// DefaultTimeout bounds a single generator call.
const DefaultTimeout = 60 * time.Second

// Config configures the generation Service.
type Config struct {
	// Timeout bounds each generator call. A call that times out is published as a
	// failed result.
	Timeout time.Duration
	Logger  types.Logger
}

// Service turns creation events into generated content events.
//
// Unlike the owning services it does not publish best-effort: the published
// result is its only output, so a publish failure is returned and the request
// is redelivered.
type Service struct {
	gen     Generator
	pub     types.Publisher
	timeout time.Duration
	logger  types.Logger
}

// NewService creates the generation service.
func NewService(gen Generator, pub types.Publisher, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Service{
		gen:     gen,
		pub:     pub,
		timeout: cfg.Timeout,
		logger:  logging.OrNop(cfg.Logger),
	}
}

// HandleEvent implements subscription.EventHandler.
func (s *Service) HandleEvent(ctx context.Context, ev types.Event) error {
	switch e := ev.(type) {
	case *types.QuizCreated:
		return s.generateQuiz(ctx, e)
	case *types.WorksheetCreated:
		return s.generateWorksheet(ctx, &e.WorksheetSnapshot)
	case *types.WorksheetUpdated:
		return s.generateWorksheet(ctx, &e.WorksheetSnapshot)
	default:
		return types.Permanent(fmt.Errorf("generation: %w: %s", types.ErrUnknownSubject, ev.Subject()))
	}
}

// Bindings returns the events the generation service consumes.
func (s *Service) Bindings() []subscription.Binding {
	return []subscription.Binding{
		{Subject: types.SubjectQuizCreated, Handler: s},
		{Subject: types.SubjectWorksheetCreated, Handler: s},
		{Subject: types.SubjectWorksheetUpdated, Handler: s},
	}
}

func (s *Service) generateQuiz(ctx context.Context, ev *types.QuizCreated) error {
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	questions, err := s.gen.GenerateQuiz(genCtx, QuizRequest{
		QuizID:     ev.ID,
		Title:      ev.Title,
		Keywords:   ev.Keywords,
		Difficulty: ev.Difficulty,
	})
	cancel()

	if abandoned(ctx, err) {
		return err
	}

	result := &types.QuizGenerated{
		ID:      ev.ID,
		Version: ev.Version,
		Attempt: ev.Attempt,
	}
	if err != nil {
		s.logger.Warn("quiz generation failed", "quiz_id", ev.ID, "attempt", ev.Attempt, "error", err)
		result.Status = types.QuizFailed
		result.Reason = err.Error()
	} else {
		result.Status = types.QuizAvailable
		result.Questions = questions
	}

	return s.publish(ctx, result)
}

func (s *Service) generateWorksheet(ctx context.Context, snap *types.WorksheetSnapshot) error {
	// A snapshot not in processing carries no content change.
	if snap.Status != types.WorksheetProcessing {
		s.logger.Debug("worksheet content unchanged, skipping", "worksheet_id", snap.ID, "version", snap.Version)
		return nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	content, err := s.gen.GenerateWorksheet(genCtx, WorksheetRequest{
		WorksheetID: snap.ID,
		Title:       snap.Title,
		Keywords:    snap.Keywords,
		Questions:   snap.Questions,
	})
	cancel()

	if abandoned(ctx, err) {
		return err
	}

	result := &types.WorksheetGenerated{
		ID:      snap.ID,
		Version: snap.Version,
	}
	if err != nil {
		s.logger.Warn("worksheet generation failed", "worksheet_id", snap.ID, "error", err)
		result.Status = types.WorksheetFailed
	} else {
		result.Status = types.WorksheetCompleted
		result.KeywordDefinitions = content.KeywordDefinitions
		result.QuestionAnswers = content.QuestionAnswers
	}

	return s.publish(ctx, result)
}

func (s *Service) publish(ctx context.Context, ev types.Event) error {
	if err := s.pub.Publish(ctx, ev); err != nil {
		// An invalid result will never encode; drop it rather than loop.
		if errors.Is(err, types.ErrMalformedEvent) {
			return types.Permanent(err)
		}

		return err
	}

	s.logger.Info("generation result published", "subject", ev.Subject(), "id", ev.EntityID())

	return nil
}

// abandoned reports whether err comes from the handler context ending, in
// which case the request is redelivered instead of failed.
func abandoned(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}
