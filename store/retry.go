package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/arloliu/quizflow/types"
)

// DefaultRetryAttempts is the number of attempts Retry makes when attempts <= 0.
const DefaultRetryAttempts = 5

// Retry runs fn until it returns something other than types.ErrConflict, up to
// attempts times. fn must re-read the entity on every call.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	var err error
	for attempt := range attempts {
		if err = fn(ctx); !errors.Is(err, types.ErrConflict) {
			return err
		}

		if attempt < attempts-1 {
			wait := time.Duration(1+rand.IntN(5*(attempt+1))) * time.Millisecond //nolint:gosec // jitter only
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return err
}
