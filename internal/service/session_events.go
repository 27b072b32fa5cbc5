package service

import (
	"sync"
	"time"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

// SessionEventType names a state change in a coding session.
type SessionEventType string

const (
	EventMounted          SessionEventType = "mounted"
	EventDraftUpdated     SessionEventType = "draft_updated"
	EventLanguageChanged  SessionEventType = "language_changed"
	EventNavigated        SessionEventType = "navigated"
	EventPrefsUpdated     SessionEventType = "prefs_updated"
	EventStatusChanged    SessionEventType = "status_changed"
	EventResultsUpdated   SessionEventType = "results_updated"
	EventRunProgress      SessionEventType = "run_progress"
	EventSectionCompleted SessionEventType = "section_completed"
	EventEnded            SessionEventType = "ended"
)

// Persists reports whether the event represents a durable state change.
func (t SessionEventType) Persists() bool {
	switch t {
	case EventRunProgress, EventEnded:
		return false
	default:
		return true
	}
}

// SessionEvent is published on every state change of a session.
type SessionEvent struct {
	Type        SessionEventType        `json:"type"`
	TestID      string                  `json:"testId"`
	CandidateID string                  `json:"candidateId"`
	ChallengeID string                  `json:"challengeId,omitempty"`
	Index       int                     `json:"index"`
	Status      models.SubmissionStatus `json:"status,omitempty"`
	Progress    *ProgressEvent          `json:"progress,omitempty"`
	At          time.Time               `json:"at"`

	snapshot models.SessionSnapshot
}

// eventBus fans session events out to subscribers. Publish is synchronous and runs
// subscribers in registration order, so the persistence subscriber observes events in
// the order the session produced them.
type eventBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(SessionEvent)
	order       []int
}

func newEventBus() *eventBus {
	return &eventBus{subscribers: make(map[int]func(SessionEvent))}
}

func (b *eventBus) Subscribe(fn func(SessionEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			for i, candidate := range b.order {
				if candidate == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *eventBus) Publish(evt SessionEvent) {
	b.mu.RLock()
	handlers := make([]func(SessionEvent), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subscribers[id])
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

func (b *eventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
