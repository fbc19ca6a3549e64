package postgres

import (
	"context"
	"database/sql"
	"fmt"

	audit "paycore/pkg/platform/audit"
)

// Store persists audit records in the audit_records table.
//
// Every write goes through the pool in autocommit mode. The store never looks
// for a transaction in the context, so records survive rollback of whatever
// transaction the caller holds.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts record. Idempotent on record.ID so retried appends do not
// duplicate entries.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	query := `
		INSERT INTO audit_records (id, event_type, message, entity_type, entity_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	var entityID sql.NullInt64
	if record.EntityID != nil {
		entityID = sql.NullInt64{Int64: *record.EntityID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		string(record.EventType),
		record.Message,
		record.EntityType,
		entityID,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByEntity returns records for one entity in append order.
func (s *Store) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]audit.Record, error) {
	query := `
		SELECT id, event_type, message, entity_type, entity_id, recorded_at
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListByEventType returns records of one event type in append order.
func (s *Store) ListByEventType(ctx context.Context, eventType audit.EventType) ([]audit.Record, error) {
	query := `
		SELECT id, event_type, message, entity_type, entity_id, recorded_at
		FROM audit_records
		WHERE event_type = $1
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, string(eventType))
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var records []audit.Record

	for rows.Next() {
		var (
			record    audit.Record
			eventType string
			entityID  sql.NullInt64
		)
		if err := rows.Scan(
			&record.ID,
			&eventType,
			&record.Message,
			&record.EntityType,
			&entityID,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		record.EventType = audit.EventType(eventType)
		if entityID.Valid {
			record.EntityID = audit.Ref(entityID.Int64)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
