package quiz

import (
	"context"
	"errors"
	"slices"

	"github.com/arloliu/quizflow/store"
	"github.com/arloliu/quizflow/types"
)

// ApplyWorksheet upserts the worksheet replica from a created or updated
// snapshot. Snapshots not newer than the replica's source version, and any
// snapshot for a deleted worksheet, are skipped. When the replica changes, the
// title and keywords of the worksheet's quizzes are re-synced.
//
// subject is the subject the snapshot arrived on.
func (s *Service) ApplyWorksheet(ctx context.Context, subject string, snap *types.WorksheetSnapshot) error {
	var applied bool
	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		applied = false

		rep, err := s.replicas.FindByID(ctx, snap.ID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			rep = &types.WorksheetReplica{ID: snap.ID}
		case err != nil:
			return err
		}

		if rep.Deleted {
			s.skip(subject, snap.ID, "worksheet deleted")
			return nil
		}
		if snap.Version <= rep.SourceVersion {
			s.skip(subject, snap.ID, "stale worksheet version")
			return nil
		}

		rep.Title = snap.Title
		rep.UserID = snap.UserID
		rep.Keywords = slices.Clone(snap.Keywords)
		rep.Status = snap.Status
		rep.SourceVersion = snap.Version
		rep.UpdatedAt = s.cfg.Now().UTC()
		if err := s.replicas.Save(ctx, rep); err != nil {
			return err
		}
		applied = true

		return nil
	})
	if err != nil || !applied {
		return err
	}

	s.logger.Debug("worksheet replica applied", "worksheet_id", snap.ID, "source_version", snap.Version)

	return s.resyncQuizzes(ctx, snap)
}

func (s *Service) resyncQuizzes(ctx context.Context, snap *types.WorksheetSnapshot) error {
	quizzes, err := s.quizzes.FindByWorksheet(ctx, snap.ID)
	if err != nil {
		return err
	}

	for _, found := range quizzes {
		if _, err := s.resyncQuiz(ctx, found.ID, snap.Title, snap.Keywords); err != nil {
			return err
		}
	}

	return nil
}

// resyncQuiz copies title and keywords onto the quiz and returns its stored
// state, or nil when the quiz is gone.
func (s *Service) resyncQuiz(ctx context.Context, quizID, title string, keywords []string) (*types.Quiz, error) {
	var out *types.Quiz
	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		out = nil

		q, err := s.quizzes.FindByID(ctx, quizID)
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if q.Title == title && slices.Equal(q.Keywords, keywords) {
			out = q
			return nil
		}

		q.Title = title
		q.Keywords = slices.Clone(keywords)
		q.UpdatedAt = s.cfg.Now().UTC()
		if err := s.quizzes.Save(ctx, q); err != nil {
			return err
		}
		out = q

		return nil
	})

	return out, err
}

// removeQuiz deletes the quiz and its tuple claim. A quiz already gone is not an
// error.
func (s *Service) removeQuiz(ctx context.Context, quizID string) error {
	return store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		q, err := s.quizzes.FindByID(ctx, quizID)
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return s.quizzes.Delete(ctx, q)
	})
}

// ApplyWorksheetDeleted tombstones the replica and deletes every quiz for the
// worksheet, releasing their tuples.
func (s *Service) ApplyWorksheetDeleted(ctx context.Context, ev *types.WorksheetDeleted) error {
	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		rep, err := s.replicas.FindByID(ctx, ev.ID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			rep = &types.WorksheetReplica{ID: ev.ID, UserID: ev.UserID}
		case err != nil:
			return err
		}

		if rep.Deleted {
			s.skip(ev.Subject(), ev.ID, "already tombstoned")
			return nil
		}

		rep.Deleted = true
		rep.SourceVersion = max(rep.SourceVersion, ev.Version)
		rep.UpdatedAt = s.cfg.Now().UTC()

		return s.replicas.Save(ctx, rep)
	})
	if err != nil {
		return err
	}

	// Runs on every delivery so a crash between tombstone and cleanup is repaired.
	quizzes, err := s.quizzes.FindByWorksheet(ctx, ev.ID)
	if err != nil {
		return err
	}
	for _, found := range quizzes {
		if err := s.removeQuiz(ctx, found.ID); err != nil {
			return err
		}
	}

	if len(quizzes) > 0 {
		s.logger.Info("worksheet quizzes removed", "worksheet_id", ev.ID, "count", len(quizzes))
	}

	return nil
}

// ApplyGenerated moves a processing quiz to available or failed.
//
// Results for another attempt, for a quiz no longer processing, or for a quiz
// that no longer exists are skipped. Questions that break the quiz invariants
// fail the quiz with the validation error as reason.
func (s *Service) ApplyGenerated(ctx context.Context, ev *types.QuizGenerated) error {
	var (
		applied *types.Quiz
		from    types.QuizStatus
	)

	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		applied = nil

		q, err := s.quizzes.FindByID(ctx, ev.ID)
		if errors.Is(err, types.ErrNotFound) {
			s.skip(ev.Subject(), ev.ID, "quiz gone")
			return nil
		}
		if err != nil {
			return err
		}

		if q.Attempt != ev.Attempt {
			s.skip(ev.Subject(), ev.ID, "other attempt")
			return nil
		}
		if q.Status != types.QuizProcessing {
			s.skip(ev.Subject(), ev.ID, "quiz not processing")
			return nil
		}

		from = q.Status
		switch ev.Status {
		case types.QuizAvailable:
			if err := types.ValidateQuestions(ev.Questions); err != nil {
				q.Status = types.QuizFailed
				q.FailureReason = err.Error()
			} else {
				q.Status = types.QuizAvailable
				q.Questions = ev.Questions
			}
		default:
			q.Status = types.QuizFailed
			q.FailureReason = ev.Reason
			if q.FailureReason == "" {
				q.FailureReason = "generation failed"
			}
		}
		q.UpdatedAt = s.cfg.Now().UTC()

		if err := s.quizzes.Save(ctx, q); err != nil {
			return err
		}
		applied = q

		return nil
	})
	if err != nil || applied == nil {
		return err
	}

	if applied.Status == types.QuizFailed {
		s.logger.Warn("quiz generation failed", "quiz_id", applied.ID, "attempt", applied.Attempt, "reason", applied.FailureReason)
	} else {
		s.logger.Info("quiz available", "quiz_id", applied.ID, "attempt", applied.Attempt)
	}
	s.transition(ctx, applied, from, applied.Status)

	return nil
}
