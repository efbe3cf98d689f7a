package server

import (
	"sync"
	"time"
)

// Event is one progress change, published after every completion write and
// streamed to live subscribers of the affected user.
type Event struct {
	UserID string    `json:"user_id"`
	Kind   string    `json:"kind"`
	Ref    string    `json:"ref"`
	At     time.Time `json:"at"`
}

// Event kinds.
const (
	EventStepCompleted        = "step_completed"
	EventStepUncompleted      = "step_uncompleted"
	EventQuestionPassed       = "question_passed"
	EventRequirementValidated = "requirement_validated"
	EventCertificateIssued    = "certificate_issued"
)

// Bus is an in-process publish/subscribe fanout keyed by user id. Slow
// subscribers drop events rather than blocking writers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for the user's events. The returned cancel func must be
// called to release the subscription.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set := b.subs[userID]; set != nil {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.UserID without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
