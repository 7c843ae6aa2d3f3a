package testing

import (
	"context"
	"sync"

	"github.com/arloliu/quizflow/types"
)

// RecordingPublisher is a types.Publisher that records events in memory.
//
// Set Err to make every Publish fail after recording nothing.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []types.Event
	Err    error
}

var _ types.Publisher = (*RecordingPublisher)(nil)

// NewRecordingPublisher creates an empty RecordingPublisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records ev unless Err is set.
func (p *RecordingPublisher) Publish(_ context.Context, ev types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)

	return nil
}

// Events returns a copy of every recorded event.
func (p *RecordingPublisher) Events() []types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Event, len(p.events))
	copy(out, p.events)

	return out
}

// BySubject returns the recorded events published on subject.
func (p *RecordingPublisher) BySubject(subject string) []types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.Event
	for _, ev := range p.events {
		if ev.Subject() == subject {
			out = append(out, ev)
		}
	}

	return out
}

// Last returns the most recent event published on subject, or nil.
func (p *RecordingPublisher) Last(subject string) types.Event {
	evs := p.BySubject(subject)
	if len(evs) == 0 {
		return nil
	}

	return evs[len(evs)-1]
}

// Reset discards recorded events.
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}
