package authoring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/quizflow/store"
	qftest "github.com/arloliu/quizflow/testing"
	"github.com/arloliu/quizflow/types"
)

func newTestService(t *testing.T) (*Service, *store.WorksheetRepo, *qftest.RecordingPublisher) {
	t.Helper()

	return newTestServiceOn(t, store.NewMemoryBackend())
}

func newTestServiceOn(t *testing.T, backend store.Backend) (*Service, *store.WorksheetRepo, *qftest.RecordingPublisher) {
	t.Helper()

	repo := store.NewWorksheetRepo(backend, nil)
	pub := qftest.NewRecordingPublisher()

	var n int
	var mu sync.Mutex
	svc := NewService(repo, pub, Config{
		Logger: qftest.NewTestLogger(t),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("w-%d", n)
		},
	})

	return svc, repo, pub
}

func validInput() CreateWorksheetInput {
	return CreateWorksheetInput{
		UserID:    "u-1",
		Title:     "  Go Concurrency ",
		Keywords:  []string{"goroutine", "channel", "select"},
		Questions: []string{"What is a goroutine?", "When does select block?"},
	}
}

func TestCreateWorksheet_PublishesProcessing(t *testing.T) {
	svc, repo, pub := newTestService(t)

	ws, err := svc.CreateWorksheet(t.Context(), validInput())
	require.NoError(t, err)
	require.Equal(t, "w-1", ws.ID)
	require.Equal(t, "Go Concurrency", ws.Title)
	require.Equal(t, types.WorksheetProcessing, ws.Status)
	require.Equal(t, int64(1), ws.Version)
	require.Equal(t, int64(1), ws.ContentVersion)

	stored, err := repo.FindByID(t.Context(), ws.ID)
	require.NoError(t, err)
	require.Equal(t, ws.Keywords, stored.Keywords)

	created, ok := pub.Last(types.SubjectWorksheetCreated).(*types.WorksheetCreated)
	require.True(t, ok)
	require.Equal(t, types.WorksheetProcessing, created.Status)
	require.Equal(t, []string{"goroutine", "channel", "select"}, created.Keywords)
	require.Len(t, created.Questions, 2)
	require.Equal(t, int64(1), created.Version)
}

func TestCreateWorksheet_Validation(t *testing.T) {
	svc, _, pub := newTestService(t)

	tooMany := make([]string, types.MaxKeywords+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("kw-%d", i)
	}

	cases := map[string]func(in *CreateWorksheetInput){
		"empty title":        func(in *CreateWorksheetInput) { in.Title = "   " },
		"no keywords":        func(in *CreateWorksheetInput) { in.Keywords = nil },
		"duplicate keywords": func(in *CreateWorksheetInput) { in.Keywords = []string{"a", " a"} },
		"blank keyword":      func(in *CreateWorksheetInput) { in.Keywords = []string{"a", " "} },
		"too many keywords":  func(in *CreateWorksheetInput) { in.Keywords = tooMany },
		"no questions":       func(in *CreateWorksheetInput) { in.Questions = []string{} },
		"no user":            func(in *CreateWorksheetInput) { in.UserID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.CreateWorksheet(t.Context(), in)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}
	require.Empty(t, pub.Events())
}

func TestCreateWorksheet_DuplicateTitle(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateWorksheet(t.Context(), validInput())
	require.NoError(t, err)

	in := validInput()
	in.Title = "go concurrency"
	_, err = svc.CreateWorksheet(t.Context(), in)
	require.ErrorIs(t, err, types.ErrDuplicate)

	// Titles are unique per user only.
	in.UserID = "u-2"
	_, err = svc.CreateWorksheet(t.Context(), in)
	require.NoError(t, err)
}

func TestUpdateWorksheet(t *testing.T) {
	ctx := t.Context()
	svc, _, pub := newTestService(t)

	ws, err := svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, svc.ApplyGenerated(ctx, &types.WorksheetGenerated{
		ID: ws.ID, Status: types.WorksheetCompleted, Version: 1,
		KeywordDefinitions: map[string]string{"goroutine": "a thread"},
	}))

	t.Run("stale version conflicts", func(t *testing.T) {
		title := "Other"
		_, err := svc.UpdateWorksheet(ctx, ws.ID, "u-1", 1, UpdateWorksheetInput{Title: &title})
		require.ErrorIs(t, err, types.ErrConflict)
	})

	t.Run("foreign user sees not found", func(t *testing.T) {
		title := "Other"
		_, err := svc.UpdateWorksheet(ctx, ws.ID, "u-2", 2, UpdateWorksheetInput{Title: &title})
		require.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("title change keeps status and moves claim", func(t *testing.T) {
		title := "Renamed"
		got, err := svc.UpdateWorksheet(ctx, ws.ID, "u-1", 2, UpdateWorksheetInput{Title: &title})
		require.NoError(t, err)
		require.Equal(t, types.WorksheetCompleted, got.Status)
		require.Equal(t, int64(3), got.Version)
		require.Equal(t, int64(1), got.ContentVersion)
		require.NotEmpty(t, got.KeywordDefinitions)

		// The old title is free again.
		in := validInput()
		_, err = svc.CreateWorksheet(ctx, in)
		require.NoError(t, err)
	})

	t.Run("content change resets to processing", func(t *testing.T) {
		got, err := svc.UpdateWorksheet(ctx, ws.ID, "u-1", 3, UpdateWorksheetInput{
			Keywords: []string{"goroutine", "mutex"},
		})
		require.NoError(t, err)
		require.Equal(t, types.WorksheetProcessing, got.Status)
		require.Equal(t, int64(4), got.Version)
		require.Equal(t, int64(4), got.ContentVersion)
		require.Nil(t, got.KeywordDefinitions)

		upd := pub.Last(types.SubjectWorksheetUpdated).(*types.WorksheetUpdated)
		require.Equal(t, int64(4), upd.Version)
		require.Equal(t, []string{"goroutine", "mutex"}, upd.Keywords)
	})

	t.Run("no-op update does not save or publish", func(t *testing.T) {
		before := len(pub.Events())
		got, err := svc.UpdateWorksheet(ctx, ws.ID, "u-1", 4, UpdateWorksheetInput{
			Keywords: []string{"goroutine", "mutex"},
		})
		require.NoError(t, err)
		require.Equal(t, int64(4), got.Version)
		require.Len(t, pub.Events(), before)
	})

	t.Run("title taken by another worksheet", func(t *testing.T) {
		title := "go concurrency"
		_, err := svc.UpdateWorksheet(ctx, ws.ID, "u-1", 4, UpdateWorksheetInput{Title: &title})
		require.ErrorIs(t, err, types.ErrDuplicate)
	})
}

func TestApplyGenerated_Idempotence(t *testing.T) {
	ctx := t.Context()
	svc, repo, _ := newTestService(t)

	ws, err := svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)

	ev := &types.WorksheetGenerated{
		ID:                 ws.ID,
		Status:             types.WorksheetCompleted,
		Version:            1,
		KeywordDefinitions: map[string]string{"goroutine": "a lightweight thread"},
		QuestionAnswers:    map[string]string{"What is a goroutine?": "a function running concurrently"},
	}
	require.NoError(t, svc.HandleEvent(ctx, ev))
	require.NoError(t, svc.HandleEvent(ctx, ev))

	stored, err := repo.FindByID(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorksheetCompleted, stored.Status)
	require.Equal(t, int64(2), stored.Version, "duplicate delivery must not save again")

	// Content edited after the request: the old result is stale.
	_, err = svc.UpdateWorksheet(ctx, ws.ID, "u-1", 2, UpdateWorksheetInput{Questions: []string{"new?"}})
	require.NoError(t, err)
	require.NoError(t, svc.ApplyGenerated(ctx, ev))

	stored, err = repo.FindByID(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorksheetProcessing, stored.Status)

	// Missing worksheet is dropped without error.
	require.NoError(t, svc.ApplyGenerated(ctx, &types.WorksheetGenerated{ID: "gone", Status: types.WorksheetFailed, Version: 1}))
}

func TestApplyGenerated_RetriesConflicts(t *testing.T) {
	ctx := t.Context()
	svc, repo, _ := newTestService(t)

	ws, err := svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)

	ev := &types.WorksheetGenerated{ID: ws.ID, Status: types.WorksheetFailed, Version: 1}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, svc.ApplyGenerated(ctx, ev))
		}()
	}
	wg.Wait()

	stored, err := repo.FindByID(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, types.WorksheetFailed, stored.Status)
	require.Equal(t, int64(2), stored.Version)
}

func TestDeleteWorksheet(t *testing.T) {
	ctx := t.Context()
	svc, repo, pub := newTestService(t)

	ws, err := svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteWorksheet(ctx, ws.ID, "u-2"), types.ErrNotFound)
	require.NoError(t, svc.DeleteWorksheet(ctx, ws.ID, "u-1"))

	_, err = repo.FindByID(ctx, ws.ID)
	require.ErrorIs(t, err, types.ErrNotFound)

	del := pub.Last(types.SubjectWorksheetDeleted).(*types.WorksheetDeleted)
	require.Equal(t, ws.ID, del.ID)
	require.Equal(t, int64(2), del.Version)

	// Title is reusable after delete.
	_, err = svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)

	list, err := svc.ListWorksheets(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

// flakyIndexBackend fails the first delete of an index key.
type flakyIndexBackend struct {
	store.Backend
	failed atomic.Bool
}

func (b *flakyIndexBackend) Delete(ctx context.Context, key string, revision uint64) error {
	if strings.HasPrefix(key, "idx.") && b.failed.CompareAndSwap(false, true) {
		return fmt.Errorf("delete %s: %w", key, types.ErrStoreUnavailable)
	}

	return b.Backend.Delete(ctx, key, revision)
}

func TestTitleClaimSurvivesFailedRelease(t *testing.T) {
	ctx := t.Context()

	t.Run("after delete", func(t *testing.T) {
		backend := &flakyIndexBackend{Backend: store.NewMemoryBackend()}
		svc, _, _ := newTestServiceOn(t, backend)

		ws, err := svc.CreateWorksheet(ctx, validInput())
		require.NoError(t, err)
		require.NoError(t, svc.DeleteWorksheet(ctx, ws.ID, "u-1"))
		require.True(t, backend.failed.Load(), "title release must have failed")

		again, err := svc.CreateWorksheet(ctx, validInput())
		require.NoError(t, err)
		require.NotEqual(t, ws.ID, again.ID)
	})

	t.Run("after rename", func(t *testing.T) {
		backend := &flakyIndexBackend{Backend: store.NewMemoryBackend()}
		svc, _, _ := newTestServiceOn(t, backend)

		ws, err := svc.CreateWorksheet(ctx, validInput())
		require.NoError(t, err)
		title := "Go Channels"
		_, err = svc.UpdateWorksheet(ctx, ws.ID, "u-1", ws.Version, UpdateWorksheetInput{Title: &title})
		require.NoError(t, err)
		require.True(t, backend.failed.Load(), "old title release must have failed")

		_, err = svc.CreateWorksheet(ctx, validInput())
		require.NoError(t, err)
	})
}

// racingBackend runs onUpdate once, just before the first update of key.
type racingBackend struct {
	store.Backend
	key      string
	once     sync.Once
	onUpdate func(ctx context.Context)
}

func (b *racingBackend) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if key == b.key && b.onUpdate != nil {
		b.once.Do(func() { b.onUpdate(ctx) })
	}

	return b.Backend.Update(ctx, key, value, revision)
}

func TestUpdateWorksheet_LostClaimRevertsTitle(t *testing.T) {
	ctx := t.Context()
	backend := &racingBackend{Backend: store.NewMemoryBackend(), key: "worksheet.w-1"}
	svc, repo, pub := newTestServiceOn(t, backend)

	ws, err := svc.CreateWorksheet(ctx, validInput())
	require.NoError(t, err)

	// Another worksheet takes the title after the update checked it.
	backend.onUpdate = func(ctx context.Context) {
		require.NoError(t, repo.Create(ctx, &types.Worksheet{ID: "w-other", UserID: "u-1", Title: "Go Channels"}))
	}
	before := len(pub.Events())

	title := "go channels"
	_, err = svc.UpdateWorksheet(ctx, ws.ID, "u-1", ws.Version, UpdateWorksheetInput{Title: &title})
	require.ErrorIs(t, err, types.ErrDuplicate)
	require.Len(t, pub.Events(), before)

	stored, err := repo.FindByID(ctx, ws.ID)
	require.NoError(t, err)
	require.Equal(t, "Go Concurrency", stored.Title)
	require.NoError(t, repo.CheckTitle(ctx, "u-1", "go concurrency", ws.ID))
	require.ErrorIs(t, repo.CheckTitle(ctx, "u-1", "go channels", ws.ID), types.ErrDuplicate)
}

func TestHooksAndMetrics(t *testing.T) {
	transitions := make(chan types.WorksheetStatus, 4)
	repo := store.NewWorksheetRepo(store.NewMemoryBackend(), nil)
	svc := NewService(repo, qftest.NewRecordingPublisher(), Config{
		Hooks: &types.Hooks{
			OnWorksheetTransition: func(_ context.Context, _ *types.Worksheet, _, to types.WorksheetStatus) error {
				transitions <- to
				return nil
			},
		},
	})

	ws, err := svc.CreateWorksheet(t.Context(), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.ApplyGenerated(t.Context(), &types.WorksheetGenerated{
		ID: ws.ID, Status: types.WorksheetCompleted, Version: 1,
	}))

	seen := map[types.WorksheetStatus]bool{}
	for range 2 {
		select {
		case to := <-transitions:
			seen[to] = true
		case <-time.After(2 * time.Second):
			t.Fatal("hook not called")
		}
	}
	require.True(t, seen[types.WorksheetProcessing])
	require.True(t, seen[types.WorksheetCompleted])
}
