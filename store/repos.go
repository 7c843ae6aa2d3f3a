package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/arloliu/quizflow/types"
)

// Collection names.
const (
	WorksheetCollection = "worksheets"
	ReplicaCollection   = "worksheet_replicas"
	QuizCollection      = "quizzes"
)

// NormalizeTitle returns the form in which worksheet titles are compared.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// WorksheetRepo is the authoring service's worksheet store.
type WorksheetRepo struct {
	coll   *Collection[types.Worksheet, *types.Worksheet]
	titles *Index
}

// NewWorksheetRepo creates a WorksheetRepo on backend.
func NewWorksheetRepo(backend Backend, mc types.MetricsCollector) *WorksheetRepo {
	return &WorksheetRepo{
		coll:   NewCollection[types.Worksheet](WorksheetCollection, "worksheet", backend, mc),
		titles: NewIndex("title", backend),
	}
}

func (r *WorksheetRepo) FindByID(ctx context.Context, id string) (*types.Worksheet, error) {
	return r.coll.FindByID(ctx, id)
}

// FindByOwner returns the user's worksheets ordered by creation time.
func (r *WorksheetRepo) FindByOwner(ctx context.Context, userID string) ([]*types.Worksheet, error) {
	out, err := r.coll.Find(ctx, func(w *types.Worksheet) bool { return w.UserID == userID })
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *types.Worksheet) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return out, nil
}

func (r *WorksheetRepo) Save(ctx context.Context, ws *types.Worksheet) error {
	return r.coll.Save(ctx, ws)
}

func (r *WorksheetRepo) Delete(ctx context.Context, ws *types.Worksheet) error {
	return r.coll.Delete(ctx, ws)
}

// Create stores a new worksheet and then claims its title. When the claim
// fails the worksheet is removed again and ws.Version reset to zero.
func (r *WorksheetRepo) Create(ctx context.Context, ws *types.Worksheet) error {
	if err := r.coll.Save(ctx, ws); err != nil {
		return fmt.Errorf("save worksheet: %w", err)
	}

	if err := r.ClaimTitle(ctx, ws.UserID, ws.Title, ws.ID); err != nil {
		if delErr := r.coll.Delete(ctx, ws); delErr != nil {
			return fmt.Errorf("%w (rollback: %w)", err, delErr)
		}
		ws.Version = 0

		return err
	}

	return nil
}

// ClaimTitle reserves title for worksheetID within the user's worksheets.
//
// A claim left behind by a worksheet that is gone, or that no longer carries
// the title, is released and claimed again. Callers must therefore persist the
// title before claiming it.
func (r *WorksheetRepo) ClaimTitle(ctx context.Context, userID, title, worksheetID string) error {
	norm := NormalizeTitle(title)

	err := r.titles.Claim(ctx, worksheetID, userID, norm)
	if !errors.Is(err, types.ErrDuplicate) {
		return err
	}

	holder, live, lookupErr := r.titleHolder(ctx, userID, norm)
	if lookupErr != nil {
		return lookupErr
	}
	if live {
		return err
	}
	if holder != "" {
		if err := r.titles.Release(ctx, holder, userID, norm); err != nil {
			return err
		}
	}

	return r.titles.Claim(ctx, worksheetID, userID, norm)
}

// CheckTitle reports types.ErrDuplicate if another of the user's worksheets
// holds title. It does not claim anything.
func (r *WorksheetRepo) CheckTitle(ctx context.Context, userID, title, worksheetID string) error {
	holder, live, err := r.titleHolder(ctx, userID, NormalizeTitle(title))
	if err != nil {
		return err
	}
	if live && holder != worksheetID {
		return fmt.Errorf("title %q: %w", title, types.ErrDuplicate)
	}

	return nil
}

// ReleaseTitle frees title if worksheetID holds it.
func (r *WorksheetRepo) ReleaseTitle(ctx context.Context, userID, title, worksheetID string) error {
	return r.titles.Release(ctx, worksheetID, userID, NormalizeTitle(title))
}

// titleHolder returns the worksheet holding the normalized title and whether
// that worksheet still exists under the title. An unclaimed title returns "".
func (r *WorksheetRepo) titleHolder(ctx context.Context, userID, norm string) (string, bool, error) {
	holder, err := r.titles.Lookup(ctx, userID, norm)
	if errors.Is(err, types.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	ws, err := r.coll.FindByID(ctx, holder)
	if errors.Is(err, types.ErrNotFound) {
		return holder, false, nil
	}
	if err != nil {
		return "", false, err
	}

	return holder, ws.UserID == userID && NormalizeTitle(ws.Title) == norm, nil
}

// ReplicaRepo is the quiz service's worksheet replica store.
type ReplicaRepo struct {
	coll *Collection[types.WorksheetReplica, *types.WorksheetReplica]
}

// NewReplicaRepo creates a ReplicaRepo on backend.
func NewReplicaRepo(backend Backend, mc types.MetricsCollector) *ReplicaRepo {
	return &ReplicaRepo{
		coll: NewCollection[types.WorksheetReplica](ReplicaCollection, "replica", backend, mc),
	}
}

func (r *ReplicaRepo) FindByID(ctx context.Context, id string) (*types.WorksheetReplica, error) {
	return r.coll.FindByID(ctx, id)
}

func (r *ReplicaRepo) Save(ctx context.Context, rep *types.WorksheetReplica) error {
	return r.coll.Save(ctx, rep)
}

// QuizRepo is the quiz service's quiz store. The (worksheet, user, difficulty)
// tuple is kept unique by an index.
type QuizRepo struct {
	coll   *Collection[types.Quiz, *types.Quiz]
	tuples *Index
}

// NewQuizRepo creates a QuizRepo on backend.
func NewQuizRepo(backend Backend, mc types.MetricsCollector) *QuizRepo {
	return &QuizRepo{
		coll:   NewCollection[types.Quiz](QuizCollection, "quiz", backend, mc),
		tuples: NewIndex("quiz", backend),
	}
}

func (r *QuizRepo) FindByID(ctx context.Context, id string) (*types.Quiz, error) {
	return r.coll.FindByID(ctx, id)
}

// FindByTuple returns the quiz for (worksheetID, userID, difficulty), or
// types.ErrNotFound. A claim whose quiz is gone is released.
func (r *QuizRepo) FindByTuple(ctx context.Context, worksheetID, userID string, d types.Difficulty) (*types.Quiz, error) {
	id, err := r.tuples.Lookup(ctx, worksheetID, userID, string(d))
	if err != nil {
		return nil, err
	}

	q, err := r.coll.FindByID(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		if relErr := r.tuples.Release(ctx, id, worksheetID, userID, string(d)); relErr != nil {
			return nil, relErr
		}
	}

	return q, err
}

// FindByWorksheet returns every quiz for the worksheet.
func (r *QuizRepo) FindByWorksheet(ctx context.Context, worksheetID string) ([]*types.Quiz, error) {
	return r.coll.Find(ctx, func(q *types.Quiz) bool { return q.WorksheetID == worksheetID })
}

// FindByWorksheetAndUser returns the user's quizzes for the worksheet in tier order.
func (r *QuizRepo) FindByWorksheetAndUser(ctx context.Context, worksheetID, userID string) ([]*types.Quiz, error) {
	out, err := r.coll.Find(ctx, func(q *types.Quiz) bool {
		return q.WorksheetID == worksheetID && q.UserID == userID
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *types.Quiz) int {
		return slices.Index(types.Difficulties, a.Difficulty) - slices.Index(types.Difficulties, b.Difficulty)
	})

	return out, nil
}

// FindProcessing returns every quiz still waiting for generated content.
func (r *QuizRepo) FindProcessing(ctx context.Context) ([]*types.Quiz, error) {
	return r.coll.Find(ctx, func(q *types.Quiz) bool { return q.Status == types.QuizProcessing })
}

// Create saves q and then claims its tuple. It returns types.ErrDuplicate,
// after removing q again, when another quiz holds the tuple.
//
// Saving first means a claim always points at a stored quiz, so FindByTuple can
// treat a claim without a quiz as left over from Delete.
func (r *QuizRepo) Create(ctx context.Context, q *types.Quiz) error {
	if err := r.coll.Save(ctx, q); err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}

	if err := r.tuples.Claim(ctx, q.ID, q.WorksheetID, q.UserID, string(q.Difficulty)); err != nil {
		if delErr := r.coll.Delete(ctx, q); delErr != nil {
			return fmt.Errorf("%w (rollback: %w)", err, delErr)
		}
		q.Version = 0

		return err
	}

	return nil
}

func (r *QuizRepo) Save(ctx context.Context, q *types.Quiz) error {
	return r.coll.Save(ctx, q)
}

// Delete removes q and releases its tuple.
func (r *QuizRepo) Delete(ctx context.Context, q *types.Quiz) error {
	if err := r.coll.Delete(ctx, q); err != nil {
		return err
	}

	return r.tuples.Release(ctx, q.ID, q.WorksheetID, q.UserID, string(q.Difficulty))
}
