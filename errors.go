package quizflow

import "github.com/arloliu/quizflow/types"

// Sentinel errors re-exported from the types package so callers of the root
// package can branch with errors.Is without a second import.
var (
	ErrInvalidConfig          = types.ErrInvalidConfig
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired
	ErrAlreadyStarted         = types.ErrAlreadyStarted
	ErrNotStarted             = types.ErrNotStarted
	ErrUnknownRole            = types.ErrUnknownRole

	ErrNotFound          = types.ErrNotFound
	ErrConflict          = types.ErrConflict
	ErrValidation        = types.ErrValidation
	ErrDuplicate         = types.ErrDuplicate
	ErrTierLocked        = types.ErrTierLocked
	ErrInvalidTransition = types.ErrInvalidTransition
	ErrAlreadyCompleted  = types.ErrAlreadyCompleted
)
