package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Event subjects. Every subject lives on the QUIZFLOW stream.
const (
	SubjectWorksheetCreated   = "worksheet.created"
	SubjectWorksheetUpdated   = "worksheet.updated"
	SubjectWorksheetDeleted   = "worksheet.deleted"
	SubjectWorksheetGenerated = "worksheet.generated"
	SubjectQuizCreated        = "quiz.created"
	SubjectQuizGenerated      = "quiz.generated"
	SubjectQuizComplete       = "quiz.complete"
)

// Subjects lists every known event subject.
var Subjects = []string{
	SubjectWorksheetCreated,
	SubjectWorksheetUpdated,
	SubjectWorksheetDeleted,
	SubjectWorksheetGenerated,
	SubjectQuizCreated,
	SubjectQuizGenerated,
	SubjectQuizComplete,
}

// Event is one of the typed event payloads below. The set is closed.
type Event interface {
	// Subject returns the bus subject the event is published on.
	Subject() string

	// EntityID returns the id of the entity the event describes.
	EntityID() string

	// EntityVersion returns the producer-side version the event was emitted at.
	EntityVersion() int64

	// AttemptNumber returns the generation attempt, or 0 for events without one.
	AttemptNumber() int

	isEvent()
}

// WorksheetSnapshot is the worksheet content carried by created and updated events.
type WorksheetSnapshot struct {
	ID        string          `json:"id" validate:"required"`
	Title     string          `json:"title" validate:"required,max=200"`
	UserID    string          `json:"userId" validate:"required"`
	Keywords  []string        `json:"keywords" validate:"required,min=1,max=30,dive,required"`
	Questions []string        `json:"questions" validate:"max=30,dive,required"`
	Status    WorksheetStatus `json:"status" validate:"required,oneof=processing completed failed"`
	Version   int64           `json:"version" validate:"gte=1"`
}

// WorksheetCreated is published by authoring after a worksheet is first saved.
type WorksheetCreated struct {
	WorksheetSnapshot
}

// WorksheetUpdated is published by authoring after a worksheet is modified.
type WorksheetUpdated struct {
	WorksheetSnapshot
}

// WorksheetDeleted is published by authoring after a worksheet is removed.
type WorksheetDeleted struct {
	ID      string `json:"id" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
	Version int64  `json:"version" validate:"gte=1"`
}

// WorksheetGenerated carries derived worksheet content back to authoring.
// Version is the worksheet version the content was generated for.
type WorksheetGenerated struct {
	ID                 string            `json:"id" validate:"required"`
	Status             WorksheetStatus   `json:"status" validate:"required,oneof=completed failed"`
	Version            int64             `json:"version" validate:"gte=1"`
	KeywordDefinitions map[string]string `json:"keywordDefinitions,omitempty"`
	QuestionAnswers    map[string]string `json:"questionAnswers,omitempty"`
}

// QuizCreated asks the generation collaborator for quiz content.
type QuizCreated struct {
	ID          string     `json:"id" validate:"required"`
	WorksheetID string     `json:"worksheetId" validate:"required"`
	UserID      string     `json:"userId" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Keywords    []string   `json:"keywords" validate:"required,min=1,dive,required"`
	Difficulty  Difficulty `json:"difficulty" validate:"required,oneof=beginner intermediate advanced"`
	Status      QuizStatus `json:"status" validate:"required,eq=processing"`
	Version     int64      `json:"version" validate:"gte=1"`
	Attempt     int        `json:"attempt" validate:"gte=1"`
}

// QuizGenerated carries generated questions back to the quiz service.
//
// Questions are not structurally validated here: malformed content is a valid event
// that moves the quiz to failed.
type QuizGenerated struct {
	ID        string     `json:"id" validate:"required"`
	Status    QuizStatus `json:"status" validate:"required,oneof=available failed"`
	Version   int64      `json:"version" validate:"gte=1"`
	Attempt   int        `json:"attempt" validate:"gte=1"`
	Questions []Question `json:"questions"`
	Reason    string     `json:"reason,omitempty"`
}

// QuizComplete is published once a quiz is scored.
type QuizComplete struct {
	ID          string     `json:"id" validate:"required"`
	WorksheetID string     `json:"worksheetId" validate:"required"`
	UserID      string     `json:"userId" validate:"required"`
	Difficulty  Difficulty `json:"difficulty" validate:"required,oneof=beginner intermediate advanced"`
	Score       int        `json:"score" validate:"gte=0,lte=100"`
	CompletedAt time.Time  `json:"completedAt" validate:"required"`
	Version     int64      `json:"version" validate:"gte=1"`
}

func (e *WorksheetCreated) Subject() string      { return SubjectWorksheetCreated }
func (e *WorksheetCreated) EntityID() string     { return e.ID }
func (e *WorksheetCreated) EntityVersion() int64 { return e.Version }
func (e *WorksheetCreated) AttemptNumber() int   { return 0 }
func (*WorksheetCreated) isEvent()               {}

func (e *WorksheetUpdated) Subject() string      { return SubjectWorksheetUpdated }
func (e *WorksheetUpdated) EntityID() string     { return e.ID }
func (e *WorksheetUpdated) EntityVersion() int64 { return e.Version }
func (e *WorksheetUpdated) AttemptNumber() int   { return 0 }
func (*WorksheetUpdated) isEvent()               {}

func (e *WorksheetDeleted) Subject() string      { return SubjectWorksheetDeleted }
func (e *WorksheetDeleted) EntityID() string     { return e.ID }
func (e *WorksheetDeleted) EntityVersion() int64 { return e.Version }
func (e *WorksheetDeleted) AttemptNumber() int   { return 0 }
func (*WorksheetDeleted) isEvent()               {}

func (e *WorksheetGenerated) Subject() string      { return SubjectWorksheetGenerated }
func (e *WorksheetGenerated) EntityID() string     { return e.ID }
func (e *WorksheetGenerated) EntityVersion() int64 { return e.Version }
func (e *WorksheetGenerated) AttemptNumber() int   { return 0 }
func (*WorksheetGenerated) isEvent()               {}

func (e *QuizCreated) Subject() string      { return SubjectQuizCreated }
func (e *QuizCreated) EntityID() string     { return e.ID }
func (e *QuizCreated) EntityVersion() int64 { return e.Version }
func (e *QuizCreated) AttemptNumber() int   { return e.Attempt }
func (*QuizCreated) isEvent()               {}

func (e *QuizGenerated) Subject() string      { return SubjectQuizGenerated }
func (e *QuizGenerated) EntityID() string     { return e.ID }
func (e *QuizGenerated) EntityVersion() int64 { return e.Version }
func (e *QuizGenerated) AttemptNumber() int   { return e.Attempt }
func (*QuizGenerated) isEvent()               {}

func (e *QuizComplete) Subject() string      { return SubjectQuizComplete }
func (e *QuizComplete) EntityID() string     { return e.ID }
func (e *QuizComplete) EntityVersion() int64 { return e.Version }
func (e *QuizComplete) AttemptNumber() int   { return 0 }
func (*QuizComplete) isEvent()               {}

// Envelope is the wire form of every event.
type Envelope struct {
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

var eventFactories = map[string]func() Event{
	SubjectWorksheetCreated:   func() Event { return &WorksheetCreated{} },
	SubjectWorksheetUpdated:   func() Event { return &WorksheetUpdated{} },
	SubjectWorksheetDeleted:   func() Event { return &WorksheetDeleted{} },
	SubjectWorksheetGenerated: func() Event { return &WorksheetGenerated{} },
	SubjectQuizCreated:        func() Event { return &QuizCreated{} },
	SubjectQuizGenerated:      func() Event { return &QuizGenerated{} },
	SubjectQuizComplete:       func() Event { return &QuizComplete{} },
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEvent checks the payload's field constraints.
func ValidateEvent(ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if err := validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedEvent, ev.Subject(), err)
	}

	return nil
}

// EncodeEvent validates ev and wraps it in an Envelope.
func EncodeEvent(ev Event, occurredAt time.Time) ([]byte, error) {
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %w", ErrMalformedEvent, ev.Subject(), err)
	}

	data, err := json.Marshal(Envelope{
		Subject:    ev.Subject(),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal envelope: %w", ErrMalformedEvent, err)
	}

	return data, nil
}

// DecodeEvent parses an envelope received on subject and validates its payload.
//
// The envelope subject must match the delivery subject. Failures wrap
// ErrMalformedEvent or ErrUnknownSubject, both permanent.
func DecodeEvent(subject string, data []byte) (Event, error) {
	newEvent, ok := eventFactories[subject]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %w", ErrMalformedEvent, err)
	}
	if env.Subject != subject {
		return nil, fmt.Errorf("%w: envelope subject %q delivered on %q", ErrMalformedEvent, env.Subject, subject)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s: empty payload", ErrMalformedEvent, subject)
	}

	ev := newEvent()
	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrMalformedEvent, subject, err)
	}
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	return ev, nil
}
