// Package authoring owns worksheets: it validates and stores them, publishes
// worksheet lifecycle events and attaches generated content when it arrives.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arloliu/quizflow/bus"
	"github.com/arloliu/quizflow/internal/hooks"
	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/internal/metrics"
	"github.com/arloliu/quizflow/store"
	"github.com/arloliu/quizflow/subscription"
	"github.com/arloliu/quizflow/types"
)

// QueueGroup is the queue group authoring listeners join.
const QueueGroup = "authoring"

// Config configures the authoring Service.
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

// Service is the authoring service.
type Service struct {
	repo   *store.WorksheetRepo
	pub    types.Publisher
	cfg    Config
	logger types.Logger
	hooks  types.Hooks
}

// NewService creates the authoring service.
func NewService(repo *store.WorksheetRepo, pub types.Publisher, cfg Config) *Service {
	cfg.applyDefaults()

	return &Service{
		repo:   repo,
		pub:    pub,
		cfg:    cfg,
		logger: cfg.Logger,
		hooks:  hooks.Fill(cfg.Hooks),
	}
}

// CreateWorksheetInput is the input of CreateWorksheet.
type CreateWorksheetInput struct {
	UserID    string   `validate:"required"`
	Title     string   `validate:"required,max=200"`
	Keywords  []string `validate:"required,min=1,max=30,unique,dive,required"`
	Questions []string `validate:"required,min=1,max=30,dive,required"`
}

// UpdateWorksheetInput is the input of UpdateWorksheet. Nil fields are left unchanged.
type UpdateWorksheetInput struct {
	Title     *string  `validate:"omitempty,max=200"`
	Keywords  []string `validate:"omitempty,min=1,max=30,unique,dive,required"`
	Questions []string `validate:"omitempty,min=1,max=30,dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateWorksheet validates and stores a new worksheet in status processing and
// publishes worksheet.created.
//
// Errors: types.ErrValidation for bad input, types.ErrDuplicate when the user
// already has a worksheet with the same title.
func (s *Service) CreateWorksheet(ctx context.Context, in CreateWorksheetInput) (*types.Worksheet, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Title = strings.TrimSpace(in.Title)
	in.Keywords = trimAll(in.Keywords)
	in.Questions = trimAll(in.Questions)

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, err)
	}

	now := s.cfg.Now().UTC()
	ws := &types.Worksheet{
		ID:             s.cfg.NewID(),
		Title:          in.Title,
		UserID:         in.UserID,
		Keywords:       in.Keywords,
		Questions:      in.Questions,
		Status:         types.WorksheetProcessing,
		ContentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, ws); err != nil {
		return nil, fmt.Errorf("create worksheet %q: %w", ws.Title, err)
	}

	s.logger.Info("worksheet created", "worksheet_id", ws.ID, "user_id", ws.UserID)
	s.transition(ctx, ws, "", ws.Status)
	bus.PublishBestEffort(ctx, s.pub, s.logger, &types.WorksheetCreated{WorksheetSnapshot: snapshot(ws)})

	return ws.Clone(), nil
}

// UpdateWorksheet applies in to the worksheet if expectedVersion is current.
//
// Changing keywords or questions resets status to processing and discards derived
// content. Changing the title moves the title claim. An update that changes
// nothing returns the stored worksheet without saving or publishing.
//
// Errors: types.ErrNotFound for a missing or foreign worksheet, types.ErrConflict
// for a stale expectedVersion, types.ErrValidation, types.ErrDuplicate.
func (s *Service) UpdateWorksheet(
	ctx context.Context,
	id, userID string,
	expectedVersion int64,
	in UpdateWorksheetInput,
) (*types.Worksheet, error) {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title must not be empty", types.ErrValidation)
		}
		in.Title = &t
	}
	in.Keywords = trimAll(in.Keywords)
	in.Questions = trimAll(in.Questions)

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, err)
	}

	ws, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if ws.Version != expectedVersion {
		return nil, fmt.Errorf("worksheet %s at version %d, expected %d: %w",
			id, ws.Version, expectedVersion, types.ErrConflict)
	}

	oldTitle := ws.Title
	titleChanged := in.Title != nil && store.NormalizeTitle(*in.Title) != store.NormalizeTitle(oldTitle)
	titleEdited := in.Title != nil && *in.Title != oldTitle
	keywordsChanged := in.Keywords != nil && !slices.Equal(in.Keywords, ws.Keywords)
	questionsChanged := in.Questions != nil && !slices.Equal(in.Questions, ws.Questions)

	if !titleEdited && !keywordsChanged && !questionsChanged {
		return ws, nil
	}

	if titleChanged {
		if err := s.repo.CheckTitle(ctx, userID, *in.Title, ws.ID); err != nil {
			return nil, err
		}
	}
	prev := ws.Clone()
	if titleEdited {
		ws.Title = *in.Title
	}

	from := ws.Status
	if keywordsChanged || questionsChanged {
		if keywordsChanged {
			ws.Keywords = in.Keywords
		}
		if questionsChanged {
			ws.Questions = in.Questions
		}
		ws.Status = types.WorksheetProcessing
		ws.KeywordDefinitions = nil
		ws.QuestionAnswers = nil
		ws.ContentVersion = ws.Version + 1
	}
	ws.UpdatedAt = s.cfg.Now().UTC()

	if err := s.repo.Save(ctx, ws); err != nil {
		return nil, fmt.Errorf("save worksheet: %w", err)
	}

	// The title is claimed after it is stored; a claim lost to a concurrent
	// writer puts the previous state back.
	if titleChanged {
		if err := s.repo.ClaimTitle(ctx, userID, ws.Title, ws.ID); err != nil {
			return nil, s.revertUpdate(ctx, prev, ws.Version, fmt.Errorf("claim title %q: %w", ws.Title, err))
		}
		if err := s.repo.ReleaseTitle(ctx, userID, oldTitle, ws.ID); err != nil {
			s.logger.Warn("failed to release old title", "worksheet_id", ws.ID, "error", err)
		}
	}

	s.logger.Info("worksheet updated", "worksheet_id", ws.ID, "version", ws.Version)
	if from != ws.Status {
		s.transition(ctx, ws, from, ws.Status)
	}
	bus.PublishBestEffort(ctx, s.pub, s.logger, &types.WorksheetUpdated{WorksheetSnapshot: snapshot(ws)})

	return ws.Clone(), nil
}

// revertUpdate stores prev over the update saved at version and returns cause.
func (s *Service) revertUpdate(ctx context.Context, prev *types.Worksheet, version int64, cause error) error {
	restore := prev.Clone()
	restore.Version = version
	restore.UpdatedAt = s.cfg.Now().UTC()
	if err := s.repo.Save(ctx, restore); err != nil {
		return fmt.Errorf("%w (rollback: %w)", cause, err)
	}
	s.logger.Warn("worksheet update reverted", "worksheet_id", prev.ID, "error", cause)

	return cause
}

// DeleteWorksheet removes the worksheet, frees its title and publishes
// worksheet.deleted. Quiz data is removed by the quiz service on that event.
func (s *Service) DeleteWorksheet(ctx context.Context, id, userID string) error {
	var deleted *types.Worksheet

	err := store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		ws, err := s.owned(ctx, id, userID)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, ws); err != nil {
			return err
		}
		deleted = ws

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete worksheet %s: %w", id, err)
	}

	if err := s.repo.ReleaseTitle(ctx, userID, deleted.Title, deleted.ID); err != nil {
		s.logger.Warn("failed to release title", "worksheet_id", id, "error", err)
	}

	s.logger.Info("worksheet deleted", "worksheet_id", id, "user_id", userID)
	bus.PublishBestEffort(ctx, s.pub, s.logger, &types.WorksheetDeleted{
		ID:      deleted.ID,
		UserID:  deleted.UserID,
		Version: deleted.Version + 1,
	})

	return nil
}

// GetWorksheet returns the user's worksheet, or types.ErrNotFound.
func (s *Service) GetWorksheet(ctx context.Context, id, userID string) (*types.Worksheet, error) {
	return s.owned(ctx, id, userID)
}

// ListWorksheets returns the user's worksheets, oldest first.
func (s *Service) ListWorksheets(ctx context.Context, userID string) ([]*types.Worksheet, error) {
	return s.repo.FindByOwner(ctx, userID)
}

// ApplyGenerated attaches generated content to a worksheet.
//
// The event is skipped when the worksheet no longer exists, when it was produced
// for content older than the worksheet's current content, or when status and
// content already match. Version conflicts are retried from a fresh read.
func (s *Service) ApplyGenerated(ctx context.Context, ev *types.WorksheetGenerated) error {
	return store.Retry(ctx, s.cfg.RetryAttempts, func(ctx context.Context) error {
		ws, err := s.repo.FindByID(ctx, ev.ID)
		if errors.Is(err, types.ErrNotFound) {
			s.skip(ev, "worksheet gone")
			return nil
		}
		if err != nil {
			return err
		}

		if ev.Version < ws.ContentVersion {
			s.skip(ev, "stale content version")
			return nil
		}
		if ws.Status == ev.Status &&
			maps.Equal(ws.KeywordDefinitions, ev.KeywordDefinitions) &&
			maps.Equal(ws.QuestionAnswers, ev.QuestionAnswers) {
			s.skip(ev, "already applied")
			return nil
		}

		from := ws.Status
		ws.Status = ev.Status
		ws.KeywordDefinitions = maps.Clone(ev.KeywordDefinitions)
		ws.QuestionAnswers = maps.Clone(ev.QuestionAnswers)
		ws.UpdatedAt = s.cfg.Now().UTC()

		if err := s.repo.Save(ctx, ws); err != nil {
			return err
		}

		s.logger.Info("worksheet generation applied", "worksheet_id", ws.ID, "status", ws.Status)
		if from != ws.Status {
			s.transition(ctx, ws, from, ws.Status)
		}

		return nil
	})
}

// HandleEvent implements subscription.EventHandler.
func (s *Service) HandleEvent(ctx context.Context, ev types.Event) error {
	switch e := ev.(type) {
	case *types.WorksheetGenerated:
		return s.ApplyGenerated(ctx, e)
	default:
		return types.Permanent(fmt.Errorf("authoring: %w: %s", types.ErrUnknownSubject, ev.Subject()))
	}
}

// Bindings returns the events the authoring service consumes.
func (s *Service) Bindings() []subscription.Binding {
	return []subscription.Binding{
		{Subject: types.SubjectWorksheetGenerated, Handler: s},
	}
}

func (s *Service) owned(ctx context.Context, id, userID string) (*types.Worksheet, error) {
	ws, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.UserID != userID {
		return nil, fmt.Errorf("worksheet %s: %w", id, types.ErrNotFound)
	}

	return ws, nil
}

func (s *Service) skip(ev types.Event, reason string) {
	s.cfg.Metrics.RecordIdempotentSkip(ev.Subject())
	s.logger.Debug("skipping event", "subject", ev.Subject(), "id", ev.EntityID(), "reason", reason)
}

func (s *Service) transition(ctx context.Context, ws *types.Worksheet, from, to types.WorksheetStatus) {
	s.cfg.Metrics.RecordWorksheetTransition(from, to)

	snap := ws.Clone()
	hookCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.hooks.OnWorksheetTransition(hookCtx, snap, from, to); err != nil {
			s.logger.Warn("worksheet transition hook failed", "worksheet_id", snap.ID, "error", err)
		}
	}()
}

func snapshot(ws *types.Worksheet) types.WorksheetSnapshot {
	return types.WorksheetSnapshot{
		ID:        ws.ID,
		Title:     ws.Title,
		UserID:    ws.UserID,
		Keywords:  slices.Clone(ws.Keywords),
		Questions: slices.Clone(ws.Questions),
		Status:    ws.Status,
		Version:   ws.Version,
	}
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}

	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}

	return out
}
