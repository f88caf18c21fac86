package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	events "piam-analytics/internal/events/domain"
)

const defaultEventTable = "fact_access_events"

// EventStore is a Postgres implementation of the append-only event store.
type EventStore struct {
	db    *sql.DB
	table string
}

// NewEventStore constructs an event store with the default table name.
func NewEventStore(db *sql.DB, opts ...StoreOption) *EventStore {
	store := &EventStore{db: db, table: defaultEventTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// StoreOption configures the event store.
type StoreOption func(*EventStore)

// WithEventTable overrides the default table name.
func WithEventTable(table string) StoreOption {
	return func(store *EventStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Append inserts a batch of events. Replayed event ids are absorbed by
// the primary key conflict, so re-delivery never duplicates rows.
func (s *EventStore) Append(ctx context.Context, batch []events.AccessEvent) error {
	if s == nil || s.db == nil {
		return errors.New("event store: nil db")
	}
	if len(batch) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	event_id,
	tenant_id,
	event_time,
	person_id,
	badge_id,
	site_id,
	location_id,
	direction,
	result,
	event_type,
	deny_reason,
	deny_code,
	suspicious_flag,
	suspicious_reason,
	suspicious_score,
	pacs_source,
	pacs_event_id,
	raw_payload
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
ON CONFLICT (event_id)
DO NOTHING`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, event := range batch {
		if err := event.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if event.EventID == "" {
			_ = tx.Rollback()
			return errors.New("event store: event_id required")
		}
		if _, err := stmt.ExecContext(
			ctx,
			event.EventID,
			event.TenantID,
			event.EventTime.UTC(),
			nullString(event.PersonID),
			event.BadgeID,
			event.SiteID,
			event.LocationID,
			string(event.Direction),
			string(event.Result),
			event.EventType,
			nullString(event.DenyReason),
			nullString(event.DenyCode),
			event.SuspiciousFlag,
			nullString(event.SuspiciousReason),
			event.SuspiciousScore,
			event.PACSSource,
			event.PACSEventID,
			event.RawPayload,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ReadBatch returns events for the partition past afterSeq, oldest first.
func (s *EventStore) ReadBatch(ctx context.Context, partition string, afterSeq int64, limit int) ([]events.StoredEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("event store: nil db")
	}
	if partition == "" {
		return nil, errors.New("event store: partition required")
	}
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf(`
SELECT
	seq,
	event_id,
	tenant_id,
	event_time,
	person_id,
	badge_id,
	site_id,
	location_id,
	direction,
	result,
	event_type,
	deny_reason,
	suspicious_flag,
	suspicious_score
FROM %s
WHERE tenant_id = $1
	AND seq > $2
ORDER BY seq ASC
LIMIT $3`, s.table)

	rows, err := s.db.QueryContext(ctx, query, partition, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []events.StoredEvent
	for rows.Next() {
		var stored events.StoredEvent
		var personID, denyReason sql.NullString
		var direction, eventResult string
		if err := rows.Scan(
			&stored.Seq,
			&stored.Event.EventID,
			&stored.Event.TenantID,
			&stored.Event.EventTime,
			&personID,
			&stored.Event.BadgeID,
			&stored.Event.SiteID,
			&stored.Event.LocationID,
			&direction,
			&eventResult,
			&stored.Event.EventType,
			&denyReason,
			&stored.Event.SuspiciousFlag,
			&stored.Event.SuspiciousScore,
		); err != nil {
			return nil, err
		}
		stored.Event.EventTime = stored.Event.EventTime.UTC()
		stored.Event.PersonID = personID.String
		stored.Event.DenyReason = denyReason.String
		stored.Event.Direction = events.Direction(direction)
		stored.Event.Result = events.Result(eventResult)
		result = append(result, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPartitions returns the distinct tenant partitions present in the store.
func (s *EventStore) ListPartitions(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("event store: nil db")
	}
	query := fmt.Sprintf(`SELECT DISTINCT tenant_id FROM %s`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, err
		}
		partitions = append(partitions, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return partitions, nil
}

// ScanRange reads raw events for audit drill-down.
func (s *EventStore) ScanRange(ctx context.Context, tenantID string, from, to time.Time) ([]events.AccessEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("event store: nil db")
	}
	if tenantID == "" || from.IsZero() || to.IsZero() {
		return nil, errors.New("event store: invalid arguments")
	}

	query := fmt.Sprintf(`
SELECT
	event_id,
	tenant_id,
	event_time,
	person_id,
	badge_id,
	site_id,
	location_id,
	direction,
	result,
	event_type,
	deny_reason,
	deny_code,
	suspicious_flag,
	suspicious_reason,
	suspicious_score,
	pacs_source,
	pacs_event_id
FROM %s
WHERE tenant_id = $1
	AND event_time >= $2
	AND event_time < $3
ORDER BY event_time ASC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []events.AccessEvent
	for rows.Next() {
		var event events.AccessEvent
		var personID, denyReason, denyCode, suspiciousReason sql.NullString
		var direction, eventResult string
		if err := rows.Scan(
			&event.EventID,
			&event.TenantID,
			&event.EventTime,
			&personID,
			&event.BadgeID,
			&event.SiteID,
			&event.LocationID,
			&direction,
			&eventResult,
			&event.EventType,
			&denyReason,
			&denyCode,
			&event.SuspiciousFlag,
			&suspiciousReason,
			&event.SuspiciousScore,
			&event.PACSSource,
			&event.PACSEventID,
		); err != nil {
			return nil, err
		}
		event.EventTime = event.EventTime.UTC()
		event.PersonID = personID.String
		event.DenyReason = denyReason.String
		event.DenyCode = denyCode.String
		event.SuspiciousReason = suspiciousReason.String
		event.Direction = events.Direction(direction)
		event.Result = events.Result(eventResult)
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
