// Package eventstore persists the append-only log of activation events.
// Events are immutable once recorded; their total order within a workspace
// is (occurred_at, seq), where seq is the arrival order assigned on append.
package eventstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/growthos/activations/activation"
)

// EventStore manages event persistence and retrieval
type EventStore interface {
	// Append records a batch of events for a workspace, assigning Seq
	Append(workspaceID string, events []activation.Event) error

	// ListBySubject returns one subject's events ordered by (occurred_at, seq).
	// A zero from or to leaves that side of the range unbounded.
	ListBySubject(workspaceID, subjectID string, from, to time.Time) ([]activation.Event, error)
}

// InMemoryEventStore implements EventStore with an in-memory log per
// workspace. Thread-safe with an RWMutex.
type InMemoryEventStore struct {
	logs    map[string][]activation.Event
	nextSeq int64
	mu      sync.RWMutex
}

// NewInMemoryEventStore creates a new in-memory event store
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		logs: make(map[string][]activation.Event),
	}
}

// Append records events in arrival order
func (s *InMemoryEventStore) Append(workspaceID string, events []activation.Event) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.SubjectID == "" || e.Name == "" {
			return fmt.Errorf("event subject_id and name are required")
		}
		s.nextSeq++
		e.Seq = s.nextSeq
		s.logs[workspaceID] = append(s.logs[workspaceID], e)
	}
	return nil
}

// ListBySubject returns the subject's events inside the time range
func (s *InMemoryEventStore) ListBySubject(workspaceID, subjectID string, from, to time.Time) ([]activation.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []activation.Event
	for _, e := range s.logs[workspaceID] {
		if e.SubjectID != subjectID {
			continue
		}
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})

	return out, nil
}
