package types

import "context"

// Hooks defines callbacks for entity transitions.
//
// All hooks are optional. They are invoked after the transition has been persisted,
// in a background goroutine, with the service's lifecycle context. Hook errors are
// logged and never affect the transition.
//
// Example:
//
//	hooks := &types.Hooks{
//	    OnQuizTransition: func(ctx context.Context, q *types.Quiz, from, to types.QuizStatus) error {
//	        if to == types.QuizFailed {
//	            alerts <- q.ID
//	        }
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnQuizTransition is called when a quiz changes status or is completed.
	// A completed quiz reports to as QuizCompleted.
	OnQuizTransition func(ctx context.Context, quiz *Quiz, from, to QuizStatus) error

	// OnWorksheetTransition is called when a worksheet changes status.
	OnWorksheetTransition func(ctx context.Context, ws *Worksheet, from, to WorksheetStatus) error

	// OnError is called when an event could not be applied.
	OnError func(ctx context.Context, err error) error
}
