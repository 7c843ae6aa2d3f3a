package subscription

import (
	"context"

	"github.com/arloliu/quizflow/types"
)

// EventHandler applies one decoded event.
//
// Handlers run on the listener's single pull goroutine: the next message is not
// handled until the current call returns. The message is acknowledged only after
// Handle returns, so the handler must persist its effects before returning.
//
// Delivery is at-least-once and may be out of order. Handlers must be idempotent:
// applying the same event twice, or an older event after a newer one, must leave
// the same state as applying it once.
//
// Return values:
//   - nil: the event was applied or deliberately skipped
//   - types.Permanent(err) or a permanent sentinel: the event can never be applied
//   - anything else: retry later
type EventHandler interface {
	HandleEvent(ctx context.Context, ev types.Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, ev types.Event) error

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev types.Event) error { return f(ctx, ev) }

// Binding pairs a subject with the handler that applies it. Services describe the
// events they consume as Bindings; the node turns each into a Listener for the
// service's queue group.
type Binding struct {
	Subject string
	Handler EventHandler
}
