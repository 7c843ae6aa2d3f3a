// Package hooks provides default types.Hooks implementations.
package hooks

import (
	"context"

	"github.com/arloliu/quizflow/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// Services install it when no custom hooks are provided so that call sites never
// need nil checks.
type NopHooks struct{}

// NewNop creates hooks whose callbacks do nothing.
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnQuizTransition:      h.OnQuizTransition,
		OnWorksheetTransition: h.OnWorksheetTransition,
		OnError:               h.OnError,
	}
}

// Fill returns h with every nil callback replaced by a no-op. A nil h yields NewNop().
func Fill(h *types.Hooks) types.Hooks {
	nop := NewNop()
	if h == nil {
		return nop
	}

	out := *h
	if out.OnQuizTransition == nil {
		out.OnQuizTransition = nop.OnQuizTransition
	}
	if out.OnWorksheetTransition == nil {
		out.OnWorksheetTransition = nop.OnWorksheetTransition
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return out
}

// OnQuizTransition is a no-op implementation.
func (h *NopHooks) OnQuizTransition(_ context.Context, _ *types.Quiz, _, _ types.QuizStatus) error {
	return nil
}

// OnWorksheetTransition is a no-op implementation.
func (h *NopHooks) OnWorksheetTransition(_ context.Context, _ *types.Worksheet, _, _ types.WorksheetStatus) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
