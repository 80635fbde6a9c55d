// Package events holds the append-only billing audit trail. Entries are never
// mutated or deleted; replaying a session's events in order reconstructs its state.
package events

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-consult/backend/internal/models"
)

// Store is the append-only billing event log.
type Store interface {
	// Append records an event. The store assigns Seq; the caller's Seq is ignored.
	Append(ctx context.Context, ev models.BillingEvent) error
	// ListBySession returns a session's events ordered by Seq.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.BillingEvent, error)
}

// MemoryStore keeps events in process memory. Used in tests and as a fallback
// when the engine runs without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	events map[uuid.UUID][]models.BillingEvent
}

// NewMemoryStore creates an in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID][]models.BillingEvent)}
}

// Append records an event, assigning the next sequence number for its session.
func (m *MemoryStore) Append(ctx context.Context, ev models.BillingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Seq = int64(len(m.events[ev.SessionID])) + 1
	m.events[ev.SessionID] = append(m.events[ev.SessionID], ev)
	return nil
}

// ListBySession returns a copy of a session's events ordered by Seq.
func (m *MemoryStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[sessionID]
	out := make([]models.BillingEvent, len(evs))
	copy(out, evs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
