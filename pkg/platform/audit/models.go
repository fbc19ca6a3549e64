package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit record. It is stored as its own field so the
// log can be filtered without parsing messages.
type EventType string

const (
	EventAttempt               EventType = "ATTEMPT"
	EventSuccess               EventType = "SUCCESS"
	EventFailure               EventType = "FAILURE"
	EventBusinessRuleViolation EventType = "BUSINESS_RULE_VIOLATION"
	EventBatchSummary          EventType = "BATCH_SUMMARY"
	EventGeneral               EventType = "GENERAL"
)

var knownEventTypes = map[EventType]struct{}{
	EventAttempt:               {},
	EventSuccess:               {},
	EventFailure:               {},
	EventBusinessRuleViolation: {},
	EventBatchSummary:          {},
	EventGeneral:               {},
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Entity types referenced by audit records.
const (
	EntityEmployee    = "Employee"
	EntitySalaryBatch = "SalaryBatch"
)

// Record is an immutable audit log entry. EntityID is a denormalized copy of the
// affected entity's id taken at write time; the log holds no reference to the
// entity itself, so records stay valid after the entity changes or is removed.
type Record struct {
	ID         uuid.UUID
	EventType  EventType
	Message    string
	EntityType string
	EntityID   *int64
	Timestamp  time.Time
}

// Ref returns a pointer suitable for Record.EntityID.
func Ref(id int64) *int64 {
	return &id
}

// Sink persists audit records. Every Append is its own durability scope: the
// record must be committed independently of any transaction the caller holds.
// Sinks expose no update or delete.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// Reader queries persisted audit records, oldest first.
type Reader interface {
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]Record, error)
	ListByEventType(ctx context.Context, eventType EventType) ([]Record, error)
}

// Store is a sink that can also be queried.
type Store interface {
	Sink
	Reader
}
