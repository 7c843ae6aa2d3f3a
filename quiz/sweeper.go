package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/quizflow/store"
	"github.com/arloliu/quizflow/types"
)

// Sweeper errors.
var (
	ErrSweeperStarted    = errors.New("sweeper already started")
	ErrSweeperNotStarted = errors.New("sweeper not started")
)

// TimeoutReason is the failure reason recorded on swept quizzes.
const TimeoutReason = "generation timed out"

// Sweeper periodically fails quizzes that have been processing for longer than
// a timeout, so a lost generation request does not leave a quiz stuck. A swept
// quiz can be requested again like any failed quiz.
type Sweeper struct {
	svc      *Service
	timeout  time.Duration
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper over svc. A non-positive interval defaults to a
// quarter of timeout.
func NewSweeper(svc *Service, timeout, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = timeout / 4
	}

	return &Sweeper{
		svc:      svc,
		timeout:  timeout,
		interval: interval,
	}
}

// Start runs one sweep immediately and then one every interval until Stop.
func (sw *Sweeper) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.started {
		return ErrSweeperStarted
	}
	if sw.timeout <= 0 {
		return fmt.Errorf("sweeper timeout must be positive, got %s", sw.timeout)
	}

	if _, err := sw.Sweep(ctx); err != nil {
		sw.svc.logger.Warn("initial sweep failed", "error", err)
	}

	sw.started = true
	sw.stopCh = make(chan struct{})
	sw.doneCh = make(chan struct{})
	go sw.loop(sw.stopCh, sw.doneCh)

	return nil
}

// Stop stops the sweep loop and waits for an in-progress sweep to finish.
func (sw *Sweeper) Stop() error {
	sw.mu.Lock()
	if !sw.started {
		sw.mu.Unlock()
		return ErrSweeperNotStarted
	}
	close(sw.stopCh)
	done := sw.doneCh
	sw.started = false
	sw.mu.Unlock()

	<-done

	return nil
}

func (sw *Sweeper) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sw.interval)
			if _, err := sw.Sweep(ctx); err != nil {
				sw.svc.logger.Warn("sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// Sweep fails every quiz processing for longer than the timeout and returns how
// many it failed.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	processing, err := sw.svc.quizzes.FindProcessing(ctx)
	if err != nil {
		return 0, err
	}

	now := sw.svc.cfg.Now()
	swept := 0
	for _, found := range processing {
		if now.Sub(found.RequestedAt) < sw.timeout {
			continue
		}

		ok, err := sw.expire(ctx, found.ID, found.Attempt)
		if err != nil {
			return swept, err
		}
		if ok {
			swept++
		}
	}

	return swept, nil
}

func (sw *Sweeper) expire(ctx context.Context, quizID string, attempt int) (bool, error) {
	var expired *types.Quiz

	err := store.Retry(ctx, sw.svc.cfg.RetryAttempts, func(ctx context.Context) error {
		expired = nil

		q, err := sw.svc.quizzes.FindByID(ctx, quizID)
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// Re-check: the result or a restart may have landed since the scan.
		if q.Status != types.QuizProcessing || q.Attempt != attempt {
			return nil
		}

		q.Status = types.QuizFailed
		q.FailureReason = TimeoutReason
		q.UpdatedAt = sw.svc.cfg.Now().UTC()
		if err := sw.svc.quizzes.Save(ctx, q); err != nil {
			return err
		}
		expired = q

		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}

	sw.svc.logger.Warn("quiz generation timed out", "quiz_id", quizID, "attempt", attempt)
	sw.svc.transition(ctx, expired, types.QuizProcessing, types.QuizFailed)

	return true, nil
}
