package quizflow

import "github.com/arloliu/quizflow/types"

// Re-export the domain types so that a caller holding a Node can work with
// short names such as quizflow.Quiz and quizflow.Hooks without importing
// the types subpackage. Internal packages depend on types directly, which
// keeps the root package free of import cycles.
type (
	Worksheet  = types.Worksheet
	Quiz       = types.Quiz
	Question   = types.Question
	Difficulty = types.Difficulty
	TierState  = types.TierState
)

// Re-export interfaces from the types package for convenience.
type (
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Publisher        = types.Publisher
	Hooks            = types.Hooks
)

// Re-export difficulty tiers.
const (
	Beginner     = types.Beginner
	Intermediate = types.Intermediate
	Advanced     = types.Advanced
)
