package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	audit "paycore/pkg/platform/audit"
)

// InMemoryStore is an append-only audit log held in process memory. Appends are
// visible immediately and never rolled back.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
	seen    map[uuid.UUID]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[uuid.UUID]struct{})}
}

// Append stores record once; re-appending the same ID is a no-op.
func (s *InMemoryStore) Append(_ context.Context, record audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[record.ID]; dup {
		return nil
	}
	s.seen[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType string, entityID int64) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Record
	for _, r := range s.records {
		if r.EntityType == entityType && r.EntityID != nil && *r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListByEventType(_ context.Context, eventType audit.EventType) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Record
	for _, r := range s.records {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAll returns every record in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Record{}, s.records...), nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
