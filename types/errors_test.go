package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("wrapped errors keep identity", func(t *testing.T) {
		wrapped := fmt.Errorf("save quiz q-1: %w", ErrConflict)
		require.ErrorIs(t, wrapped, ErrConflict)
		require.NotErrorIs(t, wrapped, ErrNotFound)
	})

	t.Run("all errors are distinct", func(t *testing.T) {
		allErrors := []error{
			ErrInvalidConfig,
			ErrNATSConnectionRequired,
			ErrAlreadyStarted,
			ErrNotStarted,
			ErrUnknownRole,
			ErrNotFound,
			ErrExists,
			ErrConflict,
			ErrStoreUnavailable,
			ErrValidation,
			ErrDuplicate,
			ErrTierLocked,
			ErrInvalidTransition,
			ErrAlreadyCompleted,
			ErrMalformedGeneration,
			ErrMalformedEvent,
			ErrUnknownSubject,
			ErrPublishFailed,
		}

		for i, a := range allErrors {
			for j, b := range allErrors {
				if i != j {
					require.NotErrorIs(t, a, b, "%v should not match %v", a, b)
				}
			}
		}
	})
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit permanent", Permanent(errors.New("boom")), true},
		{"wrapped permanent", fmt.Errorf("apply: %w", Permanent(ErrNotFound)), true},
		{"malformed event", fmt.Errorf("decode: %w", ErrMalformedEvent), true},
		{"unknown subject", ErrUnknownSubject, true},
		{"validation", fmt.Errorf("score: %w", ErrValidation), true},
		{"conflict is transient", ErrConflict, false},
		{"store outage is transient", fmt.Errorf("get: %w", ErrStoreUnavailable), false},
		{"context deadline is transient", context.DeadlineExceeded, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsPermanent(tc.err))
		})
	}
}

func TestPermanent_PreservesChain(t *testing.T) {
	err := Permanent(fmt.Errorf("quiz q-1: %w", ErrNotFound))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, "quiz q-1: not found", err.Error())
	require.NoError(t, Permanent(nil))
}

func TestIsNoKeysFoundError(t *testing.T) {
	require.False(t, IsNoKeysFoundError(nil))
	require.True(t, IsNoKeysFoundError(errors.New("nats: no keys found")))
	require.True(t, IsNoKeysFoundError(fmt.Errorf("list keys: %w", errors.New("nats: no keys found"))))
	require.False(t, IsNoKeysFoundError(errors.New("nats: timeout")))
}
