package types

import "context"

// Publisher emits domain events onto the bus.
//
// Publish is called only after the local write that produced the event has been
// committed. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
