package types

import (
	"slices"
	"time"
)

// WorksheetStatus is the generation status of a worksheet's derived content.
type WorksheetStatus string

const (
	// WorksheetProcessing means keyword definitions and answers are being generated.
	WorksheetProcessing WorksheetStatus = "processing"

	// WorksheetCompleted means derived content has been attached.
	WorksheetCompleted WorksheetStatus = "completed"

	// WorksheetFailed means generation failed; the worksheet content is still usable.
	WorksheetFailed WorksheetStatus = "failed"
)

// Valid reports whether s is a known worksheet status.
func (s WorksheetStatus) Valid() bool {
	switch s {
	case WorksheetProcessing, WorksheetCompleted, WorksheetFailed:
		return true
	default:
		return false
	}
}

// Worksheet limits.
const (
	MaxKeywords  = 30
	MaxQuestions = 30
	MaxTitleLen  = 200
)

// Worksheet is the authoring service's source-of-truth copy of a worksheet.
type Worksheet struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	UserID             string            `json:"userId"`
	Keywords           []string          `json:"keywords"`
	Questions          []string          `json:"questions"`
	KeywordDefinitions map[string]string `json:"keywordDefinitions,omitempty"`
	QuestionAnswers    map[string]string `json:"questionAnswers,omitempty"`
	Status             WorksheetStatus   `json:"status"`
	Version            int64             `json:"version"`

	// ContentVersion is the Version at which Keywords or Questions last changed.
	// Generation results produced for an older content version are stale.
	ContentVersion int64     `json:"contentVersion"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// GetID returns the worksheet id.
func (w *Worksheet) GetID() string { return w.ID }

// GetVersion returns the optimistic-concurrency version.
func (w *Worksheet) GetVersion() int64 { return w.Version }

// SetVersion sets the optimistic-concurrency version.
func (w *Worksheet) SetVersion(v int64) { w.Version = v }

// Clone returns a deep copy of the worksheet.
func (w *Worksheet) Clone() *Worksheet {
	c := *w
	c.Keywords = slices.Clone(w.Keywords)
	c.Questions = slices.Clone(w.Questions)
	c.KeywordDefinitions = cloneMap(w.KeywordDefinitions)
	c.QuestionAnswers = cloneMap(w.QuestionAnswers)

	return &c
}

// WorksheetReplica is the quiz service's partial copy of a worksheet, mutated only by
// inbound worksheet events.
type WorksheetReplica struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	UserID   string          `json:"userId"`
	Keywords []string        `json:"keywords"`
	Status   WorksheetStatus `json:"status"`

	// SourceVersion is the authoring-side version carried by the last applied event.
	SourceVersion int64 `json:"sourceVersion"`

	// Deleted marks a tombstone left by worksheet.deleted so that a late
	// worksheet.created or worksheet.updated cannot resurrect the replica.
	Deleted bool `json:"deleted,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetID returns the replica id.
func (r *WorksheetReplica) GetID() string { return r.ID }

// GetVersion returns the local optimistic-concurrency version.
func (r *WorksheetReplica) GetVersion() int64 { return r.Version }

// SetVersion sets the local optimistic-concurrency version.
func (r *WorksheetReplica) SetVersion(v int64) { r.Version = v }

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
