package hooks

import (
	"context"
	"testing"

	"github.com/arloliu/quizflow/types"
	"github.com/stretchr/testify/require"
)

func TestNewNop(t *testing.T) {
	h := NewNop()
	ctx := context.Background()

	require.NoError(t, h.OnQuizTransition(ctx, &types.Quiz{ID: "q-1"}, types.QuizProcessing, types.QuizAvailable))
	require.NoError(t, h.OnWorksheetTransition(ctx, &types.Worksheet{ID: "w-1"}, "", types.WorksheetProcessing))
	require.NoError(t, h.OnError(ctx, context.Canceled))
}

func TestFill(t *testing.T) {
	filled := Fill(nil)
	require.NotNil(t, filled.OnQuizTransition)
	require.NotNil(t, filled.OnWorksheetTransition)
	require.NotNil(t, filled.OnError)

	var seen []types.QuizStatus
	custom := &types.Hooks{
		OnQuizTransition: func(_ context.Context, _ *types.Quiz, _, to types.QuizStatus) error {
			seen = append(seen, to)
			return nil
		},
	}

	filled = Fill(custom)
	require.NotNil(t, filled.OnError)
	require.NoError(t, filled.OnQuizTransition(context.Background(), &types.Quiz{}, "", types.QuizFailed))
	require.Equal(t, []types.QuizStatus{types.QuizFailed}, seen)
}
