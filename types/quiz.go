package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Difficulty is one of the three fixed progression tiers.
type Difficulty string

const (
	// Beginner is the first tier and is never locked.
	Beginner Difficulty = "beginner"

	// Intermediate unlocks after a perfect beginner score.
	Intermediate Difficulty = "intermediate"

	// Advanced unlocks after a perfect intermediate score.
	Advanced Difficulty = "advanced"
)

// Difficulties lists the tiers in progression order.
var Difficulties = []Difficulty{Beginner, Intermediate, Advanced}

// Valid reports whether d is a known tier.
func (d Difficulty) Valid() bool {
	return slices.Contains(Difficulties, d)
}

// Previous returns the tier that gates d and false for Beginner.
func (d Difficulty) Previous() (Difficulty, bool) {
	switch d {
	case Intermediate:
		return Beginner, true
	case Advanced:
		return Intermediate, true
	default:
		return "", false
	}
}

// QuizStatus is the generation status of a quiz. Completion is tracked separately by
// Score and CompletedAt.
type QuizStatus string

const (
	// QuizProcessing means questions are being generated.
	QuizProcessing QuizStatus = "processing"

	// QuizAvailable means 10 validated questions are attached.
	QuizAvailable QuizStatus = "available"

	// QuizFailed means generation failed or produced malformed output.
	QuizFailed QuizStatus = "failed"

	// QuizCompleted is reported in dashboard data once a score is recorded.
	// It is never stored as Quiz.Status.
	QuizCompleted QuizStatus = "completed"
)

// Quiz content constraints.
const (
	QuestionsPerQuiz   = 10
	OptionsPerQuestion = 4
	MaxScore           = 100
)

// Question is a single multiple choice question.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Quiz is owned by the quiz service, one per (worksheet, user, difficulty).
type Quiz struct {
	ID          string     `json:"id"`
	WorksheetID string     `json:"worksheetId"`
	UserID      string     `json:"userId"`
	Difficulty  Difficulty `json:"difficulty"`
	Title       string     `json:"title"`
	Keywords    []string   `json:"keywords"`
	Questions   []Question `json:"questions"`
	Status      QuizStatus `json:"status"`

	// Attempt increments on every (re)request; quiz.generated echoes it.
	Attempt       int    `json:"attempt"`
	FailureReason string `json:"failureReason,omitempty"`

	Score       *int       `json:"score,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Version     int64     `json:"version"`
	RequestedAt time.Time `json:"requestedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// GetID returns the quiz id.
func (q *Quiz) GetID() string { return q.ID }

// GetVersion returns the optimistic-concurrency version.
func (q *Quiz) GetVersion() int64 { return q.Version }

// SetVersion sets the optimistic-concurrency version.
func (q *Quiz) SetVersion(v int64) { q.Version = v }

// Clone returns a deep copy of the quiz.
func (q *Quiz) Clone() *Quiz {
	c := *q
	c.Keywords = slices.Clone(q.Keywords)
	if q.Questions != nil {
		c.Questions = make([]Question, len(q.Questions))
		for i, qq := range q.Questions {
			qq.Options = slices.Clone(qq.Options)
			c.Questions[i] = qq
		}
	}
	if q.Score != nil {
		score := *q.Score
		c.Score = &score
	}
	if q.CompletedAt != nil {
		at := *q.CompletedAt
		c.CompletedAt = &at
	}

	return &c
}

// IsCompleted reports whether a score has been recorded.
func (q *Quiz) IsCompleted() bool {
	return q.Score != nil && q.CompletedAt != nil
}

// Info returns the dashboard view of the quiz.
func (q *Quiz) Info() DashboardQuizInfo {
	info := DashboardQuizInfo{QuizID: q.ID, Status: q.Status}
	if q.IsCompleted() {
		score := *q.Score
		at := *q.CompletedAt
		info.Status = QuizCompleted
		info.Score = &score
		info.CompletedAt = &at
	}

	return info
}

// CheckInvariants verifies the structural quiz invariants.
func (q *Quiz) CheckInvariants() error {
	switch q.Status {
	case QuizProcessing:
		if len(q.Questions) != 0 {
			return fmt.Errorf("%w: processing quiz has %d questions", ErrValidation, len(q.Questions))
		}
	case QuizAvailable:
		if len(q.Questions) != QuestionsPerQuiz {
			return fmt.Errorf("%w: available quiz has %d questions", ErrValidation, len(q.Questions))
		}
	case QuizFailed:
		if len(q.Questions) != 0 {
			return fmt.Errorf("%w: failed quiz has %d questions", ErrValidation, len(q.Questions))
		}
	default:
		return fmt.Errorf("%w: unknown quiz status %q", ErrValidation, q.Status)
	}

	if (q.Score == nil) != (q.CompletedAt == nil) {
		return fmt.Errorf("%w: score and completedAt must be set together", ErrValidation)
	}
	if q.Score != nil && q.Status != QuizAvailable {
		return fmt.Errorf("%w: completed quiz must be available", ErrValidation)
	}

	return nil
}

// ValidateQuestions checks generated content before a quiz may become available:
// exactly 10 questions, each with non-empty text, exactly 4 distinct non-empty options
// and a correct answer that is one of the options.
func ValidateQuestions(questions []Question) error {
	if len(questions) != QuestionsPerQuiz {
		return fmt.Errorf("%w: expected %d questions, got %d",
			ErrMalformedGeneration, QuestionsPerQuiz, len(questions))
	}

	for i, q := range questions {
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("%w: question %d has empty text", ErrMalformedGeneration, i)
		}
		if len(q.Options) != OptionsPerQuestion {
			return fmt.Errorf("%w: question %d has %d options",
				ErrMalformedGeneration, i, len(q.Options))
		}

		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("%w: question %d has an empty option", ErrMalformedGeneration, i)
			}
			if _, dup := seen[opt]; dup {
				return fmt.Errorf("%w: question %d repeats option %q", ErrMalformedGeneration, i, opt)
			}
			seen[opt] = struct{}{}
		}

		if _, ok := seen[q.CorrectAnswer]; !ok {
			return fmt.Errorf("%w: question %d correct answer is not an option", ErrMalformedGeneration, i)
		}
	}

	return nil
}

// DashboardQuizInfo is the per-tier completion record the progression engine reads.
type DashboardQuizInfo struct {
	QuizID      string     `json:"quizId,omitempty"`
	Status      QuizStatus `json:"status"`
	Score       *int       `json:"score,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TierStatus is the externally visible state of one progression tier.
type TierStatus string

const (
	TierLocked     TierStatus = "locked"
	TierAvailable  TierStatus = "available"
	TierProcessing TierStatus = "processing"
	TierFailed     TierStatus = "failed"
	TierCompleted  TierStatus = "completed"
)

// TierState is the progression engine output for one difficulty.
type TierState struct {
	Difficulty  Difficulty `json:"difficulty"`
	Status      TierStatus `json:"status"`
	QuizID      string     `json:"quizId,omitempty"`
	Score       *int       `json:"score,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
