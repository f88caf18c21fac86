package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/axiomhq/hyperloglog"

	rollup "piam-analytics/internal/rollup/domain"
)

// RollupQuery is the read side of the rollup store. The baseline
// calculator, the anomaly detector and the windowed query layer read
// through it; none of them ever touch raw events.
type RollupQuery struct {
	db          *sql.DB
	minuteTable string
	hourTable   string
}

// NewRollupQuery constructs a query with default table names.
func NewRollupQuery(db *sql.DB, opts ...QueryOption) *RollupQuery {
	query := &RollupQuery{db: db, minuteTable: defaultMinuteTable, hourTable: defaultHourTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the rollup query.
type QueryOption func(*RollupQuery)

// WithQueryTables overrides the rollup table names for reads.
func WithQueryTables(minute, hour string) QueryOption {
	return func(query *RollupQuery) {
		if minute != "" {
			query.minuteTable = minute
		}
		if hour != "" {
			query.hourTable = hour
		}
	}
}

// ListHourCounts returns hour bucket counts with bucket_start in [from, to).
func (q *RollupQuery) ListHourCounts(ctx context.Context, from, to time.Time) ([]rollup.HourCount, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("rollup query: nil db")
	}
	if from.IsZero() || to.IsZero() {
		return nil, errors.New("rollup query: invalid range")
	}

	query := fmt.Sprintf(`
SELECT tenant_id, site_id, location_id, bucket_start, total_events, denies
FROM %s
WHERE bucket_start >= $1
	AND bucket_start < $2
ORDER BY bucket_start ASC`, q.hourTable)

	rows, err := q.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollup.HourCount
	for rows.Next() {
		var count rollup.HourCount
		if err := rows.Scan(
			&count.TenantID,
			&count.SiteID,
			&count.LocationID,
			&count.BucketStart,
			&count.TotalEvents,
			&count.Denies,
		); err != nil {
			return nil, err
		}
		count.BucketStart = count.BucketStart.UTC()
		result = append(result, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SumWindow aggregates a tenant's counters across buckets of the
// granularity with bucket_start in [from, to). Distinct counts come from
// merging the per-bucket sketches, not from summing per-bucket estimates.
func (q *RollupQuery) SumWindow(ctx context.Context, tenantID string, granularity rollup.Granularity, from, to time.Time) (rollup.Counts, error) {
	if q == nil || q.db == nil {
		return rollup.Counts{}, errors.New("rollup query: nil db")
	}
	if tenantID == "" {
		return rollup.Counts{}, errors.New("rollup query: tenant required")
	}
	table, err := q.tableFor(granularity)
	if err != nil {
		return rollup.Counts{}, err
	}

	query := fmt.Sprintf(`
SELECT total_events, grants, denies, suspicious_count, badge_sketch, person_sketch
FROM %s
WHERE tenant_id = $1
	AND bucket_start >= $2
	AND bucket_start < $3`, table)

	rows, err := q.db.QueryContext(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return rollup.Counts{}, err
	}
	defer rows.Close()

	var counts rollup.Counts
	badges := hyperloglog.New14()
	persons := hyperloglog.New14()
	for rows.Next() {
		var total, grants, denies, suspicious int64
		var badgeSketch, personSketch []byte
		if err := rows.Scan(&total, &grants, &denies, &suspicious, &badgeSketch, &personSketch); err != nil {
			return rollup.Counts{}, err
		}
		counts.TotalEvents += total
		counts.Grants += grants
		counts.Denies += denies
		counts.SuspiciousCount += suspicious
		if err := mergeSketch(badges, badgeSketch); err != nil {
			return rollup.Counts{}, err
		}
		if err := mergeSketch(persons, personSketch); err != nil {
			return rollup.Counts{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return rollup.Counts{}, err
	}
	counts.DistinctBadges = badges.Estimate()
	counts.DistinctPersons = persons.Estimate()
	return counts, nil
}

// MinuteSeries returns a tenant's per-minute series for [from, to),
// summed across sites and locations.
func (q *RollupQuery) MinuteSeries(ctx context.Context, tenantID string, from, to time.Time) ([]rollup.SeriesPoint, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("rollup query: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("rollup query: tenant required")
	}

	query := fmt.Sprintf(`
SELECT
	bucket_start,
	SUM(total_events),
	SUM(grants),
	SUM(denies),
	SUM(suspicious_count)
FROM %s
WHERE tenant_id = $1
	AND bucket_start >= $2
	AND bucket_start < $3
GROUP BY bucket_start
ORDER BY bucket_start ASC`, q.minuteTable)

	rows, err := q.db.QueryContext(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rollup.SeriesPoint
	for rows.Next() {
		var point rollup.SeriesPoint
		if err := rows.Scan(
			&point.BucketStart,
			&point.TotalEvents,
			&point.Grants,
			&point.Denies,
			&point.SuspiciousCount,
		); err != nil {
			return nil, err
		}
		point.BucketStart = point.BucketStart.UTC()
		result = append(result, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *RollupQuery) tableFor(granularity rollup.Granularity) (string, error) {
	switch granularity {
	case rollup.GranularityMinute:
		return q.minuteTable, nil
	case rollup.GranularityHour:
		return q.hourTable, nil
	default:
		return "", rollup.ErrInvalidGranularity
	}
}

func mergeSketch(dst *hyperloglog.Sketch, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	src := hyperloglog.New14()
	if err := src.UnmarshalBinary(data); err != nil {
		return err
	}
	return dst.Merge(src)
}
