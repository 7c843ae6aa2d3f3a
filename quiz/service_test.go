package quiz

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

type fixture struct {
	svc      *Service
	quizzes  *store.QuizRepo
	replicas *store.ReplicaRepo
	pub      *qftest.RecordingPublisher
	now      atomic.Pointer[time.Time]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureOn(t, store.NewMemoryBackend())
}

func newFixtureOn(t *testing.T, backend store.Backend) *fixture {
	t.Helper()

	f := &fixture{
		quizzes:  store.NewQuizRepo(backend, nil),
		replicas: store.NewReplicaRepo(backend, nil),
		pub:      qftest.NewRecordingPublisher(),
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now.Store(&start)

	var ids atomic.Int64
	f.svc = NewService(f.quizzes, f.replicas, f.pub, Config{
		Logger: qftest.NewTestLogger(t),
		Now:    func() time.Time { return *f.now.Load() },
		NewID:  func() string { return fmt.Sprintf("q-%d", ids.Add(1)) },
	})

	return f
}

func (f *fixture) advance(d time.Duration) {
	next := f.now.Load().Add(d)
	f.now.Store(&next)
}

func snapshot(version int64, title string) *types.WorksheetSnapshot {
	return &types.WorksheetSnapshot{
		ID:        "w-1",
		Title:     title,
		UserID:    "u-1",
		Keywords:  []string{"goroutine", "channel", "select"},
		Questions: []string{"q1", "q2"},
		Status:    types.WorksheetProcessing,
		Version:   version,
	}
}

func (f *fixture) seedWorksheet(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.HandleEvent(t.Context(), &types.WorksheetCreated{WorksheetSnapshot: *snapshot(1, "Go")}))
}

// interleavingBackend runs onCreate once, just before the first quiz record is
// written, to interleave another event with a request.
type interleavingBackend struct {
	store.Backend
	once     sync.Once
	onCreate func(ctx context.Context)
}

func (b *interleavingBackend) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if strings.HasPrefix(key, "quiz.") && b.onCreate != nil {
		b.once.Do(func() { b.onCreate(ctx) })
	}

	return b.Backend.Create(ctx, key, value)
}

func validQuestions() []types.Question {
	out := make([]types.Question, types.QuestionsPerQuiz)
	for i := range out {
		out[i] = types.Question{
			Text:          fmt.Sprintf("question %d", i),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "c",
		}
	}

	return out
}

// makeAvailable requests the tier's quiz and applies a valid generation result.
func (f *fixture) makeAvailable(t *testing.T, d types.Difficulty) *types.Quiz {
	t.Helper()

	q, err := f.svc.RequestQuiz(t.Context(), "w-1", "u-1", d)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleEvent(t.Context(), &types.QuizGenerated{
		ID: q.ID, Status: types.QuizAvailable, Version: q.Version, Attempt: q.Attempt, Questions: validQuestions(),
	}))

	q, err = f.svc.GetQuiz(t.Context(), q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, types.QuizAvailable, q.Status)

	return q
}

func TestApplyWorksheet_ReplicaOrdering(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetUpdated{WorksheetSnapshot: *snapshot(3, "Go v3")}))
	// Older events arriving late change nothing.
	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetCreated{WorksheetSnapshot: *snapshot(1, "Go")}))
	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetUpdated{WorksheetSnapshot: *snapshot(2, "Go v2")}))
	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetUpdated{WorksheetSnapshot: *snapshot(3, "Go v3")}))

	rep, err := f.replicas.FindByID(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, "Go v3", rep.Title)
	require.Equal(t, int64(3), rep.SourceVersion)
	require.Equal(t, int64(1), rep.Version, "stale and duplicate events must not write")
}

func TestApplyWorksheet_SameStateForAnyOrder(t *testing.T) {
	events := []types.Event{
		&types.WorksheetCreated{WorksheetSnapshot: *snapshot(1, "Go")},
		&types.WorksheetUpdated{WorksheetSnapshot: *snapshot(2, "Go v2")},
		&types.WorksheetUpdated{WorksheetSnapshot: *snapshot(4, "Go v4")},
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {0, 2, 1, 2, 0}}

	for _, order := range orders {
		f := newFixture(t)
		for _, i := range order {
			require.NoError(t, f.svc.HandleEvent(t.Context(), events[i]))
		}

		rep, err := f.replicas.FindByID(t.Context(), "w-1")
		require.NoError(t, err)
		require.Equal(t, "Go v4", rep.Title, "order %v", order)
		require.Equal(t, int64(4), rep.SourceVersion, "order %v", order)
	}
}

func TestApplyWorksheet_ResyncsQuizSnapshots(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)

	upd := snapshot(2, "Go Renamed")
	upd.Keywords = []string{"mutex"}
	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetUpdated{WorksheetSnapshot: *upd}))

	got, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, "Go Renamed", got.Title)
	require.Equal(t, []string{"mutex"}, got.Keywords)
}

func TestWorksheetDeleted_RemovesQuizzesAndBlocksResurrection(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q := f.makeAvailable(t, types.Beginner)

	del := &types.WorksheetDeleted{ID: "w-1", UserID: "u-1", Version: 2}
	require.NoError(t, f.svc.HandleEvent(ctx, del))
	require.NoError(t, f.svc.HandleEvent(ctx, del))

	remaining, err := f.quizzes.FindByWorksheet(ctx, "w-1")
	require.NoError(t, err)
	require.Empty(t, remaining)

	_, err = f.quizzes.FindByTuple(ctx, "w-1", "u-1", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.ErrorIs(t, err, types.ErrNotFound)

	// A late created event does not bring the worksheet back.
	require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetCreated{WorksheetSnapshot: *snapshot(1, "Go")}))
	_, err = f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestRequestQuiz_WorksheetDeletedDuringRequest(t *testing.T) {
	ctx := t.Context()
	backend := &interleavingBackend{Backend: store.NewMemoryBackend()}
	f := newFixtureOn(t, backend)
	f.seedWorksheet(t)

	backend.onCreate = func(ctx context.Context) {
		require.NoError(t, f.svc.ApplyWorksheetDeleted(ctx, &types.WorksheetDeleted{ID: "w-1", UserID: "u-1", Version: 2}))
	}

	_, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)

	remaining, err := f.quizzes.FindByWorksheet(ctx, "w-1")
	require.NoError(t, err)
	require.Empty(t, remaining)
	_, err = f.quizzes.FindByTuple(ctx, "w-1", "u-1", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.Empty(t, f.pub.BySubject(types.SubjectQuizCreated), "no quiz.created for a dropped quiz")
}

func TestRequestQuiz_WorksheetUpdatedDuringRequest(t *testing.T) {
	ctx := t.Context()
	backend := &interleavingBackend{Backend: store.NewMemoryBackend()}
	f := newFixtureOn(t, backend)
	f.seedWorksheet(t)

	updated := snapshot(2, "Go v2")
	updated.Keywords = []string{"mutex"}
	backend.onCreate = func(ctx context.Context) {
		require.NoError(t, f.svc.HandleEvent(ctx, &types.WorksheetUpdated{WorksheetSnapshot: *updated}))
	}

	q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, "Go v2", q.Title)
	require.Equal(t, []string{"mutex"}, q.Keywords)

	stored, err := f.quizzes.FindByID(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, "Go v2", stored.Title)
	require.Equal(t, []string{"mutex"}, stored.Keywords)

	created, ok := f.pub.Last(types.SubjectQuizCreated).(*types.QuizCreated)
	require.True(t, ok)
	require.Equal(t, []string{"mutex"}, created.Keywords)
}

func TestRequestQuiz_Idempotent(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	first, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, types.QuizProcessing, first.Status)
	require.Equal(t, 1, first.Attempt)
	require.Equal(t, "Go", first.Title)

	second, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	list, err := f.svc.ListQuizzes(ctx, "w-1", "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	created := f.pub.BySubject(types.SubjectQuizCreated)
	require.Len(t, created, 1)
	ev := created[0].(*types.QuizCreated)
	require.Equal(t, first.ID, ev.ID)
	require.Equal(t, types.Beginner, ev.Difficulty)
}

func TestRequestQuiz_ConcurrentRequestsShareOneQuiz(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
			require.NoError(t, err)
			ids[i] = q.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	list, err := f.svc.ListQuizzes(ctx, "w-1", "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRequestQuiz_Errors(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	_, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Difficulty("expert"))
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = f.svc.RequestQuiz(ctx, "w-missing", "u-1", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.RequestQuiz(ctx, "w-1", "u-2", types.Beginner)
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Intermediate)
	require.ErrorIs(t, err, types.ErrTierLocked)

	_, err = f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Advanced)
	require.ErrorIs(t, err, types.ErrTierLocked)
}

func TestApplyGenerated_Available(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q := f.makeAvailable(t, types.Beginner)
	require.Len(t, q.Questions, types.QuestionsPerQuiz)
	require.NoError(t, q.CheckInvariants())

	// Duplicate delivery is a no-op.
	version := q.Version
	require.NoError(t, f.svc.ApplyGenerated(ctx, &types.QuizGenerated{
		ID: q.ID, Status: types.QuizAvailable, Version: 1, Attempt: 1, Questions: validQuestions(),
	}))
	got, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, version, got.Version)
}

func TestApplyGenerated_MalformedFails(t *testing.T) {
	cases := map[string]func(qs []types.Question) []types.Question{
		"nine questions": func(qs []types.Question) []types.Question { return qs[:9] },
		"three options": func(qs []types.Question) []types.Question {
			qs[4].Options = qs[4].Options[:3]
			return qs
		},
		"answer not an option": func(qs []types.Question) []types.Question {
			qs[2].CorrectAnswer = "z"
			return qs
		},
		"duplicate options": func(qs []types.Question) []types.Question {
			qs[0].Options = []string{"a", "a", "b", "c"}
			qs[0].CorrectAnswer = "a"
			return qs
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			f := newFixture(t)
			f.seedWorksheet(t)

			q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
			require.NoError(t, err)

			require.NoError(t, f.svc.ApplyGenerated(ctx, &types.QuizGenerated{
				ID: q.ID, Status: types.QuizAvailable, Version: 1, Attempt: 1, Questions: mutate(validQuestions()),
			}))

			got, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
			require.NoError(t, err)
			require.Equal(t, types.QuizFailed, got.Status)
			require.Empty(t, got.Questions)
			require.Contains(t, got.FailureReason, types.ErrMalformedGeneration.Error())
			require.NoError(t, got.CheckInvariants())
		})
	}
}

func TestRestartAfterFailure_IgnoresOldAttempt(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyGenerated(ctx, &types.QuizGenerated{
		ID: q.ID, Status: types.QuizFailed, Version: 1, Attempt: 1, Reason: "model overloaded",
	}))

	failed, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, types.QuizFailed, failed.Status)
	require.Equal(t, "model overloaded", failed.FailureReason)

	restarted, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, q.ID, restarted.ID)
	require.Equal(t, types.QuizProcessing, restarted.Status)
	require.Equal(t, 2, restarted.Attempt)
	require.Empty(t, restarted.FailureReason)

	last := f.pub.Last(types.SubjectQuizCreated).(*types.QuizCreated)
	require.Equal(t, 2, last.Attempt)

	// A late result of attempt 1 does not touch attempt 2.
	require.NoError(t, f.svc.ApplyGenerated(ctx, &types.QuizGenerated{
		ID: q.ID, Status: types.QuizAvailable, Version: 1, Attempt: 1, Questions: validQuestions(),
	}))
	got, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, types.QuizProcessing, got.Status)
}

func TestCompleteQuiz(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	processing, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	_, err = f.svc.CompleteQuiz(ctx, processing.ID, "u-1", 100)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	q := f.makeAvailable(t, types.Beginner)

	for _, score := range []int{-1, 101} {
		_, err = f.svc.CompleteQuiz(ctx, q.ID, "u-1", score)
		require.ErrorIs(t, err, types.ErrValidation)
	}
	_, err = f.svc.CompleteQuiz(ctx, q.ID, "u-2", 100)
	require.ErrorIs(t, err, types.ErrNotFound)

	before, err := f.svc.Dashboard(ctx, "w-1", "u-1")
	require.NoError(t, err)
	require.Equal(t, types.TierLocked, before.Tier(types.Intermediate).Status)

	done, err := f.svc.CompleteQuiz(ctx, q.ID, "u-1", 100)
	require.NoError(t, err)
	require.True(t, done.IsCompleted())
	require.NoError(t, done.CheckInvariants())

	_, err = f.svc.CompleteQuiz(ctx, q.ID, "u-1", 90)
	require.ErrorIs(t, err, types.ErrAlreadyCompleted)

	ev := f.pub.Last(types.SubjectQuizComplete).(*types.QuizComplete)
	require.Equal(t, 100, ev.Score)
	require.Equal(t, "w-1", ev.WorksheetID)

	after, err := f.svc.Dashboard(ctx, "w-1", "u-1")
	require.NoError(t, err)
	require.Equal(t, types.TierCompleted, after.Tier(types.Beginner).Status)
	require.Equal(t, types.TierAvailable, after.Tier(types.Intermediate).Status)
	require.Equal(t, types.TierLocked, after.Tier(types.Advanced).Status)

	next, ok := after.NextTier()
	require.True(t, ok)
	require.Equal(t, types.Intermediate, next)
}

func TestDashboard_ImperfectScoreKeepsNextTierLocked(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q := f.makeAvailable(t, types.Beginner)
	_, err := f.svc.CompleteQuiz(ctx, q.ID, "u-1", 80)
	require.NoError(t, err)

	p, err := f.svc.Dashboard(ctx, "w-1", "u-1")
	require.NoError(t, err)
	require.Equal(t, types.TierCompleted, p.Tier(types.Beginner).Status)
	require.Equal(t, types.TierLocked, p.Tier(types.Intermediate).Status)

	_, err = f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Intermediate)
	require.ErrorIs(t, err, types.ErrTierLocked)
}

func TestSweeper(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.seedWorksheet(t)

	q, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)

	sw := NewSweeper(f.svc, time.Minute, 0)

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.advance(2 * time.Minute)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.svc.GetQuiz(ctx, q.ID, "u-1")
	require.NoError(t, err)
	require.Equal(t, types.QuizFailed, got.Status)
	require.Equal(t, TimeoutReason, got.FailureReason)

	// The timed-out quiz can be requested again.
	again, err := f.svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, 2, again.Attempt)
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	sw := NewSweeper(f.svc, time.Minute, 10*time.Millisecond)

	require.ErrorIs(t, sw.Stop(), ErrSweeperNotStarted)
	require.NoError(t, sw.Start(t.Context()))
	require.ErrorIs(t, sw.Start(t.Context()), ErrSweeperStarted)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, sw.Stop())
}

func TestQuizTransitionHook(t *testing.T) {
	backend := store.NewMemoryBackend()
	seen := make(chan types.QuizStatus, 8)
	svc := NewService(store.NewQuizRepo(backend, nil), store.NewReplicaRepo(backend, nil), qftest.NewRecordingPublisher(), Config{
		Hooks: &types.Hooks{
			OnQuizTransition: func(_ context.Context, _ *types.Quiz, _, to types.QuizStatus) error {
				seen <- to
				return nil
			},
		},
	})

	ctx := t.Context()
	require.NoError(t, svc.HandleEvent(ctx, &types.WorksheetCreated{WorksheetSnapshot: *snapshot(1, "Go")}))
	q, err := svc.RequestQuiz(ctx, "w-1", "u-1", types.Beginner)
	require.NoError(t, err)
	require.NoError(t, svc.ApplyGenerated(ctx, &types.QuizGenerated{
		ID: q.ID, Status: types.QuizAvailable, Version: 1, Attempt: 1, Questions: validQuestions(),
	}))
	_, err = svc.CompleteQuiz(ctx, q.ID, "u-1", 100)
	require.NoError(t, err)

	got := map[types.QuizStatus]bool{}
	for range 3 {
		select {
		case to := <-seen:
			got[to] = true
		case <-time.After(2 * time.Second):
			t.Fatal("hook not called")
		}
	}
	require.Equal(t, map[types.QuizStatus]bool{
		types.QuizProcessing: true,
		types.QuizAvailable:  true,
		types.QuizCompleted:  true,
	}, got)
}
