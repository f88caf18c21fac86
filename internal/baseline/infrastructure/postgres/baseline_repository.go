package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	baseline "piam-analytics/internal/baseline/domain"
)

const defaultBaselineTable = "location_baselines"

// BaselineRepository is a Postgres implementation with replace-on-write
// semantics: every calculator run overwrites the table wholesale.
type BaselineRepository struct {
	db    *sql.DB
	table string
}

// NewBaselineRepository constructs a repository with the default table.
func NewBaselineRepository(db *sql.DB, opts ...RepositoryOption) *BaselineRepository {
	repo := &BaselineRepository{db: db, table: defaultBaselineTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*BaselineRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *BaselineRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ReplaceAll overwrites the baseline table in one transaction.
func (r *BaselineRepository) ReplaceAll(ctx context.Context, baselines []baseline.Baseline) error {
	if r == nil || r.db == nil {
		return errors.New("baseline repo: nil db")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table)); err != nil {
		_ = tx.Rollback()
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id,
	site_id,
	location_id,
	hour_of_week,
	avg_events_per_hour,
	avg_denies_per_hour,
	stddev_events,
	stddev_denies,
	sample_weeks,
	low_confidence,
	computed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range baselines {
		if b.HourOfWeek < 0 || b.HourOfWeek >= baseline.HoursPerWeek {
			_ = tx.Rollback()
			return baseline.ErrInvalidHourOfWeek
		}
		if _, err := stmt.ExecContext(
			ctx,
			b.TenantID,
			b.SiteID,
			b.LocationID,
			b.HourOfWeek,
			b.AvgEventsPerHour,
			b.AvgDeniesPerHour,
			b.StddevEvents,
			b.StddevDenies,
			b.SampleWeeks,
			b.LowConfidence,
			b.ComputedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Get returns the baseline for a slot, nil when absent.
func (r *BaselineRepository) Get(ctx context.Context, key baseline.Key) (*baseline.Baseline, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("baseline repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT
	tenant_id,
	site_id,
	location_id,
	hour_of_week,
	avg_events_per_hour,
	avg_denies_per_hour,
	stddev_events,
	stddev_denies,
	sample_weeks,
	low_confidence,
	computed_at
FROM %s
WHERE tenant_id = $1
	AND site_id = $2
	AND location_id = $3
	AND hour_of_week = $4`, r.table)

	var b baseline.Baseline
	err := r.db.QueryRowContext(ctx, query, key.TenantID, key.SiteID, key.LocationID, key.HourOfWeek).Scan(
		&b.TenantID,
		&b.SiteID,
		&b.LocationID,
		&b.HourOfWeek,
		&b.AvgEventsPerHour,
		&b.AvgDeniesPerHour,
		&b.StddevEvents,
		&b.StddevDenies,
		&b.SampleWeeks,
		&b.LowConfidence,
		&b.ComputedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.ComputedAt = b.ComputedAt.UTC()
	return &b, nil
}

// ListByHourOfWeek returns every baseline for one hour-of-week slot.
func (r *BaselineRepository) ListByHourOfWeek(ctx context.Context, hourOfWeek int) ([]baseline.Baseline, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("baseline repo: nil db")
	}
	if hourOfWeek < 0 || hourOfWeek >= baseline.HoursPerWeek {
		return nil, baseline.ErrInvalidHourOfWeek
	}
	query := fmt.Sprintf(`
SELECT
	tenant_id,
	site_id,
	location_id,
	hour_of_week,
	avg_events_per_hour,
	avg_denies_per_hour,
	stddev_events,
	stddev_denies,
	sample_weeks,
	low_confidence,
	computed_at
FROM %s
WHERE hour_of_week = $1
ORDER BY tenant_id, location_id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, hourOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []baseline.Baseline
	for rows.Next() {
		var b baseline.Baseline
		if err := rows.Scan(
			&b.TenantID,
			&b.SiteID,
			&b.LocationID,
			&b.HourOfWeek,
			&b.AvgEventsPerHour,
			&b.AvgDeniesPerHour,
			&b.StddevEvents,
			&b.StddevDenies,
			&b.SampleWeeks,
			&b.LowConfidence,
			&b.ComputedAt,
		); err != nil {
			return nil, err
		}
		b.ComputedAt = b.ComputedAt.UTC()
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
