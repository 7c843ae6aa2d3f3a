// Package quiz owns quizzes. It keeps a replica of the worksheets it needs,
// drives the generation saga for each quiz and derives tier progression from
// completed quizzes.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/quizflow/bus"
	"github.com/arloliu/quizflow/internal/hooks"
	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/progression"
	"github.com/arloliu/quizflow/store"
	"github.com/arloliu/quizflow/subscription"
	"github.com/arloliu/quizflow/types"
)

// QueueGroup is the queue group quiz listeners join.
const QueueGroup = "quiz"

// Config configures the quiz Service.
type Config struct {
	// RetryAttempts bounds re-read-and-retry loops on version conflicts.
	RetryAttempts int

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

func (cfg *Config) applyDefaults() {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = store.DefaultRetryAttempts
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
}

// Service is the quiz service.
type Service struct {
	quizzes  *store.QuizRepo
	replicas *store.ReplicaRepo
	pub      types.Publisher
	cfg      Config
	logger   types.Logger
	metrics  types.MetricsCollector
	hooks    types.Hooks
}

// NewService creates the quiz service.
func NewService(quizzes *store.QuizRepo, replicas *store.ReplicaRepo, pub types.Publisher, cfg Config) *Service {
	cfg.applyDefaults()

	return &Service{
		quizzes:  quizzes,
		replicas: replicas,
		pub:      pub,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		hooks:    hooks.Fill(cfg.Hooks),
	}
}

// HandleEvent implements subscription.EventHandler.
func (s *Service) HandleEvent(ctx context.Context, ev types.Event) error {
	switch e := ev.(type) {
	case *types.WorksheetCreated:
		return s.ApplyWorksheet(ctx, ev.Subject(), &e.WorksheetSnapshot)
	case *types.WorksheetUpdated:
		return s.ApplyWorksheet(ctx, ev.Subject(), &e.WorksheetSnapshot)
	case *types.WorksheetDeleted:
		return s.ApplyWorksheetDeleted(ctx, e)
	case *types.QuizGenerated:
		return s.ApplyGenerated(ctx, e)
	default:
		return types.Permanent(fmt.Errorf("quiz: %w: %s", types.ErrUnknownSubject, ev.Subject()))
	}
}

// Bindings returns the events the quiz service consumes.
func (s *Service) Bindings() []subscription.Binding {
	return []subscription.Binding{
		{Subject: types.SubjectWorksheetCreated, Handler: s},
		{Subject: types.SubjectWorksheetUpdated, Handler: s},
		{Subject: types.SubjectWorksheetDeleted, Handler: s},
		{Subject: types.SubjectQuizGenerated, Handler: s},
	}
}

// RequestQuiz returns the quiz for (worksheetID, userID, difficulty), creating
// it in processing and publishing quiz.created when none exists. A failed quiz
// is restarted with the next attempt number.
//
// Errors: types.ErrValidation for an unknown difficulty, types.ErrNotFound for a
// missing or foreign worksheet, types.ErrTierLocked when the tier is locked.
func (s *Service) RequestQuiz(ctx context.Context, worksheetID, userID string, d types.Difficulty) (*types.Quiz, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown difficulty %q", types.ErrValidation, d)
	}

	rep, err := s.ownedReplica(ctx, worksheetID, userID)
	if err != nil {
		return nil, err
	}

	// A concurrent request may win the tuple between lookup and create.
	for range 2 {
		existing, err := s.quizzes.FindByTuple(ctx, worksheetID, userID, d)
		switch {
		case err == nil:
			if existing.Status == types.QuizFailed {
				return s.restart(ctx, existing.ID)
			}

			return existing, nil
		case !errors.Is(err, types.ErrNotFound):
			return nil, err
		}

		infos, err := s.infos(ctx, worksheetID, userID)
		if err != nil {
			return nil, err
		}
		if !progression.Unlocked(d, infos) {
			return nil, fmt.Errorf("%s tier of worksheet %s: %w", d, worksheetID, types.ErrTierLocked)
		}

		now := s.cfg.Now().UTC()
		q := &types.Quiz{
			ID:          s.cfg.NewID(),
			WorksheetID: worksheetID,
			UserID:      userID,
			Difficulty:  d,
			Title:       rep.Title,
			Keywords:    slices.Clone(rep.Keywords),
			Status:      types.QuizProcessing,
			Attempt:     1,
			RequestedAt: now,
			UpdatedAt:   now,
		}

		err = s.quizzes.Create(ctx, q)
		if errors.Is(err, types.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		q, err = s.reconcileCreated(ctx, q, rep)
		if err != nil {
			return nil, err
		}

		s.logger.Info("quiz requested", "quiz_id", q.ID, "worksheet_id", worksheetID, "difficulty", d)
		s.transition(ctx, q, "", q.Status)
		bus.PublishBestEffort(ctx, s.pub, s.logger, quizCreated(q))

		return q.Clone(), nil
	}

	return nil, fmt.Errorf("request quiz %s/%s: %w", worksheetID, d, types.ErrConflict)
}

// reconcileCreated re-reads the replica after q was stored. Deletes and updates
// applied since rep was read found no quiz to act on, so they are applied to q
// here: a deleted worksheet removes q, a newer snapshot re-syncs its title and
// keywords.
func (s *Service) reconcileCreated(ctx context.Context, q *types.Quiz, rep *types.WorksheetReplica) (*types.Quiz, error) {
	current, err := s.replicas.FindByID(ctx, q.WorksheetID)
	switch {
	case errors.Is(err, types.ErrNotFound) || (err == nil && current.Deleted):
		if err := s.removeQuiz(ctx, q.ID); err != nil {
			return nil, fmt.Errorf("remove quiz %s of deleted worksheet: %w", q.ID, err)
		}
		s.logger.Info("quiz dropped, worksheet deleted during request", "quiz_id", q.ID, "worksheet_id", q.WorksheetID)

		return nil, fmt.Errorf("worksheet %s: %w", q.WorksheetID, types.ErrNotFound)
	case err != nil:
		return nil, err
	case current.SourceVersion == rep.SourceVersion:
		return q, nil
	}

	synced, err := s.resyncQuiz(ctx, q.ID, current.Title, current.Keywords)
	if err != nil {
		return nil, err
	}
	if synced == nil {
		return nil, fmt.Errorf("quiz %s: %w", q.ID, types.ErrNotFound)
	}

	return synced, nil
}

// restart moves a failed quiz back to processing with the next attempt.
func (s *Service) restart(ctx context.Context, quizID string) (*types.Quiz, error) {
	var (
		out       *types.Quiz
		restarted bool
	)

	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		q, err := s.quizzes.FindByID(ctx, quizID)
		if err != nil {
			return err
		}
		if q.Status != types.QuizFailed {
			out = q
			return nil
		}

		now := s.cfg.Now().UTC()
		q.Status = types.QuizProcessing
		q.Attempt++
		q.FailureReason = ""
		q.Questions = nil
		q.RequestedAt = now
		q.UpdatedAt = now
		if err := s.quizzes.Save(ctx, q); err != nil {
			return err
		}
		out, restarted = q, true

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restart quiz %s: %w", quizID, err)
	}

	if restarted {
		s.logger.Info("quiz restarted", "quiz_id", out.ID, "attempt", out.Attempt)
		s.transition(ctx, out, types.QuizFailed, out.Status)
		bus.PublishBestEffort(ctx, s.pub, s.logger, quizCreated(out))
	}

	return out.Clone(), nil
}

// CompleteQuiz records score for the user's quiz and publishes quiz.complete.
//
// Errors: types.ErrValidation for a score outside 0..100, types.ErrNotFound,
// types.ErrAlreadyCompleted, types.ErrInvalidTransition when the quiz is not
// available, types.ErrConflict when the quiz changed concurrently.
func (s *Service) CompleteQuiz(ctx context.Context, quizID, userID string, score int) (*types.Quiz, error) {
	if score < 0 || score > types.MaxScore {
		return nil, fmt.Errorf("%w: score %d outside 0..%d", types.ErrValidation, score, types.MaxScore)
	}

	q, err := s.owned(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if q.IsCompleted() {
		return nil, fmt.Errorf("quiz %s: %w", quizID, types.ErrAlreadyCompleted)
	}
	if q.Status != types.QuizAvailable {
		return nil, fmt.Errorf("complete quiz %s in status %s: %w", quizID, q.Status, types.ErrInvalidTransition)
	}

	now := s.cfg.Now().UTC()
	q.Score = &score
	q.CompletedAt = &now
	q.UpdatedAt = now
	if err := s.quizzes.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("complete quiz %s: %w", quizID, err)
	}

	s.logger.Info("quiz completed", "quiz_id", q.ID, "difficulty", q.Difficulty, "score", score)
	s.transition(ctx, q, types.QuizAvailable, types.QuizCompleted)
	bus.PublishBestEffort(ctx, s.pub, s.logger, &types.QuizComplete{
		ID:          q.ID,
		WorksheetID: q.WorksheetID,
		UserID:      q.UserID,
		Difficulty:  q.Difficulty,
		Score:       score,
		CompletedAt: now,
		Version:     q.Version,
	})

	return q.Clone(), nil
}

// GetQuiz returns the user's quiz, or types.ErrNotFound.
func (s *Service) GetQuiz(ctx context.Context, quizID, userID string) (*types.Quiz, error) {
	return s.owned(ctx, quizID, userID)
}

// ListQuizzes returns the user's quizzes for the worksheet in tier order.
func (s *Service) ListQuizzes(ctx context.Context, worksheetID, userID string) ([]*types.Quiz, error) {
	return s.quizzes.FindByWorksheetAndUser(ctx, worksheetID, userID)
}

// Dashboard computes the user's tier progression for the worksheet.
func (s *Service) Dashboard(ctx context.Context, worksheetID, userID string) (progression.Progression, error) {
	if _, err := s.ownedReplica(ctx, worksheetID, userID); err != nil {
		return progression.Progression{}, err
	}

	infos, err := s.infos(ctx, worksheetID, userID)
	if err != nil {
		return progression.Progression{}, err
	}

	return progression.Compute(infos), nil
}

func (s *Service) infos(ctx context.Context, worksheetID, userID string) (map[types.Difficulty]*types.DashboardQuizInfo, error) {
	quizzes, err := s.quizzes.FindByWorksheetAndUser(ctx, worksheetID, userID)
	if err != nil {
		return nil, err
	}

	infos := make(map[types.Difficulty]*types.DashboardQuizInfo, len(quizzes))
	for _, q := range quizzes {
		info := q.Info()
		infos[q.Difficulty] = &info
	}

	return infos, nil
}

func (s *Service) owned(ctx context.Context, quizID, userID string) (*types.Quiz, error) {
	q, err := s.quizzes.FindByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if q.UserID != userID {
		return nil, fmt.Errorf("quiz %s: %w", quizID, types.ErrNotFound)
	}

	return q, nil
}

func (s *Service) ownedReplica(ctx context.Context, worksheetID, userID string) (*types.WorksheetReplica, error) {
	rep, err := s.replicas.FindByID(ctx, worksheetID)
	if err != nil {
		return nil, err
	}
	if rep.Deleted || rep.UserID != userID {
		return nil, fmt.Errorf("worksheet %s: %w", worksheetID, types.ErrNotFound)
	}

	return rep, nil
}

func (s *Service) skip(subject, id, reason string) {
	s.metrics.RecordIdempotentSkip(subject)
	s.logger.Debug("skipping event", "subject", subject, "id", id, "reason", reason)
}

func (s *Service) transition(ctx context.Context, q *types.Quiz, from, to types.QuizStatus) {
	s.metrics.RecordQuizTransition(from, to)

	snap := q.Clone()
	hookCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.hooks.OnQuizTransition(hookCtx, snap, from, to); err != nil {
			s.logger.Warn("quiz transition hook failed", "quiz_id", snap.ID, "error", err)
		}
	}()
}

func quizCreated(q *types.Quiz) *types.QuizCreated {
	return &types.QuizCreated{
		ID:          q.ID,
		WorksheetID: q.WorksheetID,
		UserID:      q.UserID,
		Title:       q.Title,
		Keywords:    slices.Clone(q.Keywords),
		Difficulty:  q.Difficulty,
		Status:      q.Status,
		Version:     q.Version,
		Attempt:     q.Attempt,
	}
}
