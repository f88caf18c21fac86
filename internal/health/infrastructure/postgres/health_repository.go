package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	health "piam-analytics/internal/health/domain"
)

const defaultHealthTable = "fact_connector_health"

// HealthRepository persists connector heartbeats append-only.
type HealthRepository struct {
	db    *sql.DB
	table string
}

// NewHealthRepository constructs a repository with the default table.
func NewHealthRepository(db *sql.DB, opts ...RepositoryOption) *HealthRepository {
	repo := &HealthRepository{db: db, table: defaultHealthTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*HealthRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *HealthRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Record appends one heartbeat.
func (r *HealthRepository) Record(ctx context.Context, report health.Report) error {
	if r == nil || r.db == nil {
		return errors.New("health repo: nil db")
	}
	if err := report.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id,
	connector_id,
	connector_name,
	pacs_type,
	pacs_version,
	check_time,
	status,
	latency_ms,
	events_per_minute,
	error_count_1h,
	last_event_time,
	error_message,
	error_code
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)`, r.table)

	var lastEvent interface{}
	if !report.LastEventTime.IsZero() {
		lastEvent = report.LastEventTime.UTC()
	}
	_, err := r.db.ExecContext(
		ctx,
		query,
		report.TenantID,
		report.ConnectorID,
		report.ConnectorName,
		report.PACSType,
		nullString(report.PACSVersion),
		report.CheckTime.UTC(),
		string(report.Status),
		report.LatencyMS,
		report.EventsPerMinute,
		report.ErrorCount1h,
		lastEvent,
		nullString(report.ErrorMessage),
		nullString(report.ErrorCode),
	)
	return err
}

// Latest returns the most recent heartbeat per connector for a tenant.
func (r *HealthRepository) Latest(ctx context.Context, tenantID string) ([]health.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("health repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (connector_id)
	tenant_id,
	connector_id,
	connector_name,
	pacs_type,
	pacs_version,
	check_time,
	status,
	latency_ms,
	events_per_minute,
	error_count_1h,
	last_event_time,
	error_message,
	error_code
FROM %s
WHERE tenant_id = $1
ORDER BY connector_id, check_time DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []health.Report
	for rows.Next() {
		var report health.Report
		var status string
		var pacsVersion, errorMessage, errorCode sql.NullString
		var lastEvent sql.NullTime
		if err := rows.Scan(
			&report.TenantID,
			&report.ConnectorID,
			&report.ConnectorName,
			&report.PACSType,
			&pacsVersion,
			&report.CheckTime,
			&status,
			&report.LatencyMS,
			&report.EventsPerMinute,
			&report.ErrorCount1h,
			&lastEvent,
			&errorMessage,
			&errorCode,
		); err != nil {
			return nil, err
		}
		report.Status = health.Status(status)
		report.PACSVersion = pacsVersion.String
		report.ErrorMessage = errorMessage.String
		report.ErrorCode = errorCode.String
		if lastEvent.Valid {
			report.LastEventTime = lastEvent.Time.UTC()
		}
		report.CheckTime = report.CheckTime.UTC()
		result = append(result, report)
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
