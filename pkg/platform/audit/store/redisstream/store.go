// Package redisstream stores audit records in a Redis stream. XADD commits on
// its own, outside any database transaction held by the caller.
package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	audit "paycore/pkg/platform/audit"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "paycore:audit"

const (
	fieldID         = "id"
	fieldEventType  = "event_type"
	fieldMessage    = "message"
	fieldEntityType = "entity_type"
	fieldEntityID   = "entity_id"
	fieldTimestamp  = "timestamp"
)

// Store appends audit records to a Redis stream.
type Store struct {
	client redis.Cmdable
	stream string
}

// New creates a stream-backed audit store.
func New(client redis.Cmdable, stream string) *Store {
	if stream == "" {
		stream = DefaultStream
	}
	return &Store{client: client, stream: stream}
}

// Append adds record as one stream entry. The stream is never trimmed.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	entityID := ""
	if record.EntityID != nil {
		entityID = strconv.FormatInt(*record.EntityID, 10)
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: []any{
			fieldID, record.ID.String(),
			fieldEventType, string(record.EventType),
			fieldMessage, record.Message,
			fieldEntityType, record.EntityType,
			fieldEntityID, entityID,
			fieldTimestamp, record.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd audit record: %w", err)
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]audit.Record, error) {
	return s.list(ctx, func(r audit.Record) bool {
		return r.EntityType == entityType && r.EntityID != nil && *r.EntityID == entityID
	})
}

func (s *Store) ListByEventType(ctx context.Context, eventType audit.EventType) ([]audit.Record, error) {
	return s.list(ctx, func(r audit.Record) bool {
		return r.EventType == eventType
	})
}

// list scans the whole stream. Entries written twice by a retried append share
// an id and are reported once.
func (s *Store) list(ctx context.Context, match func(audit.Record) bool) ([]audit.Record, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange audit stream: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(msgs))
	var records []audit.Record
	for _, msg := range msgs {
		record, err := decode(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
		}
		if _, dup := seen[record.ID]; dup {
			continue
		}
		seen[record.ID] = struct{}{}
		if match(record) {
			records = append(records, record)
		}
	}
	return records, nil
}

func decode(values map[string]any) (audit.Record, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}

	id, err := uuid.Parse(str(fieldID))
	if err != nil {
		return audit.Record{}, fmt.Errorf("parse id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, str(fieldTimestamp))
	if err != nil {
		return audit.Record{}, fmt.Errorf("parse timestamp: %w", err)
	}
	record := audit.Record{
		ID:         id,
		EventType:  audit.EventType(str(fieldEventType)),
		Message:    str(fieldMessage),
		EntityType: str(fieldEntityType),
		Timestamp:  ts,
	}
	if raw := str(fieldEntityID); raw != "" {
		entityID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return audit.Record{}, fmt.Errorf("parse entity id: %w", err)
		}
		record.EntityID = audit.Ref(entityID)
	}
	return record, nil
}
