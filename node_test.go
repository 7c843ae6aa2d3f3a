package quizflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/quizflow/authoring"
	"github.com/arloliu/quizflow/generation"
	qftest "github.com/arloliu/quizflow/testing"
	"github.com/arloliu/quizflow/types"
)

const (
	waitFor = 10 * time.Second
	tick    = 20 * time.Millisecond
)

func startNode(t *testing.T, nc *nats.Conn, cfg Config, opts ...Option) *Node {
	t.Helper()

	opts = append([]Option{WithLogger(qftest.NewTestLogger(t))}, opts...)
	node, err := NewNode(&cfg, nc, opts...)
	require.NoError(t, err)
	require.NoError(t, node.Start(t.Context()))
	t.Cleanup(func() {
		_ = node.Stop(context.Background())
	})

	return node
}

func TestNewNode_RequiredParameters(t *testing.T) {
	cfg := TestConfig()

	t.Run("nil config", func(t *testing.T) {
		node, err := NewNode(nil, &nats.Conn{})
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Nil(t, node)
	})

	t.Run("nil connection", func(t *testing.T) {
		node, err := NewNode(&cfg, nil)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
		require.Nil(t, node)
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := TestConfig()
		bad.Roles = []Role{"grading"}
		node, err := NewNode(&bad, &nats.Conn{})
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.ErrorIs(t, err, ErrUnknownRole)
		require.Nil(t, node)
	})

	t.Run("defaults optional dependencies", func(t *testing.T) {
		node, err := NewNode(&cfg, &nats.Conn{})
		require.NoError(t, err)
		require.NotNil(t, node.logger)
		require.NotNil(t, node.metrics)
		require.NotNil(t, node.errHook)
		require.Nil(t, node.Authoring())
	})
}

func TestNode_Lifecycle(t *testing.T) {
	_, nc := qftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	cfg.Roles = []Role{RoleQuiz}
	cfg.Quiz.ProcessingTimeout = time.Minute
	node, err := NewNode(&cfg, nc)
	require.NoError(t, err)

	require.ErrorIs(t, node.Stop(t.Context()), ErrNotStarted)

	require.NoError(t, node.Start(t.Context()))
	require.ErrorIs(t, node.Start(t.Context()), ErrAlreadyStarted)

	require.NotNil(t, node.Quiz())
	require.Nil(t, node.Authoring())
	require.Nil(t, node.Analytics())
	require.Len(t, node.Listeners(), len(node.Quiz().Bindings()))
	require.Contains(t, node.Listeners(), "quiz-worksheet_created")

	require.NoError(t, node.Stop(t.Context()))
	require.Empty(t, node.Listeners())
	require.ErrorIs(t, node.Stop(t.Context()), ErrNotStarted)
}

func TestNode_StartFailureIsRetryable(t *testing.T) {
	_, nc := qftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	cfg.Roles = []Role{RoleGeneration}
	cfg.Generation.Provider = GeneratorOpenAI
	cfg.Generation.APIKeyEnv = "QUIZFLOW_TEST_UNSET_KEY"
	t.Setenv("QUIZFLOW_TEST_UNSET_KEY", "")

	node, err := NewNode(&cfg, nc)
	require.NoError(t, err)

	err = node.Start(t.Context())
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Empty(t, node.Listeners())

	// A generator supplied as an option replaces the configured provider.
	node, err = NewNode(&cfg, nc, WithGenerator(generation.NewStaticGenerator()))
	require.NoError(t, err)
	require.NoError(t, node.Start(t.Context()))
	require.NoError(t, node.Stop(t.Context()))
}

func TestNode_EndToEnd(t *testing.T) {
	_, nc := qftest.StartEmbeddedNATS(t)

	var (
		mu          sync.Mutex
		transitions []types.QuizStatus
	)
	hooks := &Hooks{
		OnQuizTransition: func(_ context.Context, _ *types.Quiz, _, to types.QuizStatus) error {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
			return nil
		},
	}

	node := startNode(t, nc, TestConfig(), WithHooks(hooks))
	ctx := t.Context()

	ws, err := node.Authoring().CreateWorksheet(ctx, authoring.CreateWorksheetInput{
		UserID:    "u1",
		Title:     "Photosynthesis",
		Keywords:  []string{"chlorophyll", "light", "glucose"},
		Questions: []string{"Where does it happen?", "What is produced?"},
	})
	require.NoError(t, err)
	require.Equal(t, types.WorksheetProcessing, ws.Status)

	require.Eventually(t, func() bool {
		got, err := node.Authoring().GetWorksheet(ctx, ws.ID, "u1")
		return err == nil && got.Status == types.WorksheetCompleted
	}, waitFor, tick, "worksheet content was not generated")

	got, err := node.Authoring().GetWorksheet(ctx, ws.ID, "u1")
	require.NoError(t, err)
	require.Len(t, got.KeywordDefinitions, 3)
	require.Len(t, got.QuestionAnswers, 2)

	// The replica arrives asynchronously; until then the worksheet is unknown.
	var q *types.Quiz
	require.Eventually(t, func() bool {
		q, err = node.Quiz().RequestQuiz(ctx, ws.ID, "u1", types.Beginner)
		return err == nil
	}, waitFor, tick, "quiz request never succeeded")

	again, err := node.Quiz().RequestQuiz(ctx, ws.ID, "u1", types.Beginner)
	require.NoError(t, err)
	require.Equal(t, q.ID, again.ID)

	_, err = node.Quiz().RequestQuiz(ctx, ws.ID, "u1", types.Intermediate)
	require.ErrorIs(t, err, ErrTierLocked)

	require.Eventually(t, func() bool {
		got, err := node.Quiz().GetQuiz(ctx, q.ID, "u1")
		return err == nil && got.Status == types.QuizAvailable
	}, waitFor, tick, "quiz was not generated")

	available, err := node.Quiz().GetQuiz(ctx, q.ID, "u1")
	require.NoError(t, err)
	require.Len(t, available.Questions, types.QuestionsPerQuiz)
	require.Equal(t, "Photosynthesis", available.Title)

	_, err = node.Quiz().CompleteQuiz(ctx, q.ID, "u1", types.MaxScore)
	require.NoError(t, err)

	dash, err := node.Quiz().Dashboard(ctx, ws.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, types.TierCompleted, dash.Tier(types.Beginner).Status)
	require.Equal(t, types.TierAvailable, dash.Tier(types.Intermediate).Status)
	require.Equal(t, types.TierLocked, dash.Tier(types.Advanced).Status)
	next, ok := dash.NextTier()
	require.True(t, ok)
	require.Equal(t, types.Intermediate, next)

	require.Eventually(t, func() bool {
		stats, err := node.Analytics().DB().WorksheetStats(ctx, ws.ID)
		return err == nil && len(stats) == 1 && stats[0].Perfect == 1
	}, waitFor, tick, "completion was not projected")

	// Title edits reach existing quizzes without regenerating them.
	title := "Photosynthesis basics"
	_, err = node.Authoring().UpdateWorksheet(ctx, ws.ID, "u1", got.Version, authoring.UpdateWorksheetInput{Title: &title})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := node.Quiz().GetQuiz(ctx, q.ID, "u1")
		return err == nil && got.Title == title && got.Status == types.QuizCompleted
	}, waitFor, tick, "quiz title was not re-synced")

	require.NoError(t, node.Authoring().DeleteWorksheet(ctx, ws.ID, "u1"))
	require.Eventually(t, func() bool {
		quizzes, err := node.Quiz().ListQuizzes(ctx, ws.ID, "u1")
		return err == nil && len(quizzes) == 0
	}, waitFor, tick, "quizzes were not removed with the worksheet")

	_, err = node.Quiz().RequestQuiz(ctx, ws.ID, "u1", types.Beginner)
	require.ErrorIs(t, err, ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, transitions, types.QuizAvailable)
	require.Contains(t, transitions, types.QuizCompleted)
}

func TestNode_GenerationFailureReachesQuiz(t *testing.T) {
	_, nc := qftest.StartEmbeddedNATS(t)

	gen := &generation.StaticGenerator{Err: errors.New("model overloaded")}
	node := startNode(t, nc, TestConfig(), WithGenerator(gen))
	ctx := t.Context()

	ws, err := node.Authoring().CreateWorksheet(ctx, authoring.CreateWorksheetInput{
		UserID:    "u1",
		Title:     "Tides",
		Keywords:  []string{"moon"},
		Questions: []string{"Why two a day?"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := node.Authoring().GetWorksheet(ctx, ws.ID, "u1")
		return err == nil && got.Status == types.WorksheetFailed
	}, waitFor, tick)

	var q *types.Quiz
	require.Eventually(t, func() bool {
		q, err = node.Quiz().RequestQuiz(ctx, ws.ID, "u1", types.Beginner)
		return err == nil
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		got, err := node.Quiz().GetQuiz(ctx, q.ID, "u1")
		return err == nil && got.Status == types.QuizFailed && got.FailureReason == "model overloaded"
	}, waitFor, tick)
}

func TestNode_SplitRoles(t *testing.T) {
	_, nc := qftest.StartEmbeddedNATS(t)

	front := TestConfig()
	front.Roles = []Role{RoleAuthoring, RoleQuiz}
	back := TestConfig()
	back.Roles = []Role{RoleGeneration}

	api := startNode(t, nc, front)
	startNode(t, nc, back)
	require.Nil(t, api.Analytics())
	ctx := t.Context()

	ws, err := api.Authoring().CreateWorksheet(ctx, authoring.CreateWorksheetInput{
		UserID:    "u1",
		Title:     "Volcanoes",
		Keywords:  []string{"magma", "crust"},
		Questions: []string{"What is lava?"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := api.Authoring().GetWorksheet(ctx, ws.ID, "u1")
		return err == nil && got.Status == types.WorksheetCompleted
	}, waitFor, tick)
}
