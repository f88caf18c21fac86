package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	insight "piam-analytics/internal/insights/domain"
)

const defaultInsightTable = "insight_history"

// InsightRepository persists emitted insights append-only. The feed
// serves current spikes from memory; this table is the audit trail.
type InsightRepository struct {
	db    *sql.DB
	table string
}

// NewInsightRepository constructs a repository with the default table.
func NewInsightRepository(db *sql.DB, opts ...RepositoryOption) *InsightRepository {
	repo := &InsightRepository{db: db, table: defaultInsightTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*InsightRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *InsightRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Append inserts emitted insights in one transaction.
func (r *InsightRepository) Append(ctx context.Context, insights []insight.Insight) error {
	if r == nil || r.db == nil {
		return errors.New("insight repo: nil db")
	}
	if len(insights) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	site_id,
	location_id,
	kind,
	observed_denies,
	baseline_mean,
	spike_ratio,
	window_start,
	detected_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
) ON CONFLICT (id) DO NOTHING`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ins := range insights {
		if _, err := stmt.ExecContext(
			ctx,
			ins.ID,
			ins.TenantID,
			ins.SiteID,
			ins.LocationID,
			string(ins.Kind),
			ins.ObservedDenies,
			ins.BaselineMean,
			ins.SpikeRatio,
			ins.WindowStart.UTC(),
			ins.DetectedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListRecent returns a tenant's insights detected since the cutoff,
// newest first.
func (r *InsightRepository) ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]insight.Insight, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("insight repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT
	id,
	tenant_id,
	site_id,
	location_id,
	kind,
	observed_denies,
	baseline_mean,
	spike_ratio,
	window_start,
	detected_at
FROM %s
WHERE tenant_id = $1
	AND detected_at >= $2
ORDER BY detected_at DESC, observed_denies DESC
LIMIT $3`, r.table)

	rows, err := r.db.QueryContext(ctx, query, tenantID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []insight.Insight
	for rows.Next() {
		var ins insight.Insight
		var kind string
		if err := rows.Scan(
			&ins.ID,
			&ins.TenantID,
			&ins.SiteID,
			&ins.LocationID,
			&kind,
			&ins.ObservedDenies,
			&ins.BaselineMean,
			&ins.SpikeRatio,
			&ins.WindowStart,
			&ins.DetectedAt,
		); err != nil {
			return nil, err
		}
		ins.Kind = insight.Kind(kind)
		ins.WindowStart = ins.WindowStart.UTC()
		ins.DetectedAt = ins.DetectedAt.UTC()
		result = append(result, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
