package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/axiomhq/hyperloglog"

	rollup "piam-analytics/internal/rollup/domain"
)

const (
	defaultMinuteTable = "rollup_minute"
	defaultHourTable   = "rollup_hour"
	defaultDedupTable  = "rollup_event_dedup"
	defaultCursorTable = "rollup_cursors"
)

// RollupRepository is a Postgres implementation of the rollup store.
// Bucket counters, the dedup window and the stream cursor live in one
// database so a batch can commit as a single transaction.
type RollupRepository struct {
	db          *sql.DB
	minuteTable string
	hourTable   string
	dedupTable  string
	cursorTable string
}

// NewRollupRepository constructs a repository with default table names.
func NewRollupRepository(db *sql.DB, opts ...RepositoryOption) *RollupRepository {
	repo := &RollupRepository{
		db:          db,
		minuteTable: defaultMinuteTable,
		hourTable:   defaultHourTable,
		dedupTable:  defaultDedupTable,
		cursorTable: defaultCursorTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*RollupRepository)

// WithTables overrides the rollup table names.
func WithTables(minute, hour string) RepositoryOption {
	return func(repo *RollupRepository) {
		if minute != "" {
			repo.minuteTable = minute
		}
		if hour != "" {
			repo.hourTable = hour
		}
	}
}

// WithDedupTable overrides the dedup table name.
func WithDedupTable(table string) RepositoryOption {
	return func(repo *RollupRepository) {
		if table != "" {
			repo.dedupTable = table
		}
	}
}

// WithCursorTable overrides the cursor table name.
func WithCursorTable(table string) RepositoryOption {
	return func(repo *RollupRepository) {
		if table != "" {
			repo.cursorTable = table
		}
	}
}

func (r *RollupRepository) tableFor(granularity rollup.Granularity) (string, error) {
	switch granularity {
	case rollup.GranularityMinute:
		return r.minuteTable, nil
	case rollup.GranularityHour:
		return r.hourTable, nil
	default:
		return "", rollup.ErrInvalidGranularity
	}
}

// GetBuckets loads current state for the given keys.
func (r *RollupRepository) GetBuckets(ctx context.Context, keys []rollup.BucketKey) ([]*rollup.Bucket, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rollup repo: nil db")
	}
	var result []*rollup.Bucket
	for _, key := range keys {
		table, err := r.tableFor(key.Granularity)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf(`
SELECT total_events, grants, denies, suspicious_count, badge_sketch, person_sketch
FROM %s
WHERE tenant_id = $1
	AND site_id = $2
	AND location_id = $3
	AND bucket_start = $4`, table)

		bucket, err := rollup.NewBucket(key)
		if err != nil {
			return nil, err
		}
		var badgeSketch, personSketch []byte
		err = r.db.QueryRowContext(ctx, query, key.TenantID, key.SiteID, key.LocationID, key.BucketStart.UTC()).Scan(
			&bucket.TotalEvents,
			&bucket.Grants,
			&bucket.Denies,
			&bucket.SuspiciousCount,
			&badgeSketch,
			&personSketch,
		)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := unmarshalSketch(bucket.Badges, badgeSketch); err != nil {
			return nil, err
		}
		if err := unmarshalSketch(bucket.Persons, personSketch); err != nil {
			return nil, err
		}
		result = append(result, bucket)
	}
	return result, nil
}

// Apply commits bucket state, dedup records and the cursor advance in one
// transaction.
func (r *RollupRepository) Apply(ctx context.Context, batch rollup.ApplyBatch) error {
	if r == nil || r.db == nil {
		return errors.New("rollup repo: nil db")
	}
	if batch.Partition == "" {
		return errors.New("rollup repo: partition required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, bucket := range batch.Buckets {
		if bucket == nil {
			continue
		}
		if err := r.upsertBucket(ctx, tx, bucket); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := r.insertDedup(ctx, tx, batch.EventIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := r.advanceCursor(ctx, tx, batch.Partition, batch.NewCursor); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *RollupRepository) upsertBucket(ctx context.Context, tx *sql.Tx, bucket *rollup.Bucket) error {
	table, err := r.tableFor(bucket.Key.Granularity)
	if err != nil {
		return err
	}
	badgeSketch, err := marshalSketch(bucket.Badges)
	if err != nil {
		return err
	}
	personSketch, err := marshalSketch(bucket.Persons)
	if err != nil {
		return err
	}
	counts := bucket.Counts()

	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id,
	site_id,
	location_id,
	bucket_start,
	total_events,
	grants,
	denies,
	suspicious_count,
	distinct_badge_count,
	distinct_person_count,
	badge_sketch,
	person_sketch,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
)
ON CONFLICT (tenant_id, site_id, location_id, bucket_start)
DO UPDATE SET
	total_events = EXCLUDED.total_events,
	grants = EXCLUDED.grants,
	denies = EXCLUDED.denies,
	suspicious_count = EXCLUDED.suspicious_count,
	distinct_badge_count = EXCLUDED.distinct_badge_count,
	distinct_person_count = EXCLUDED.distinct_person_count,
	badge_sketch = EXCLUDED.badge_sketch,
	person_sketch = EXCLUDED.person_sketch,
	updated_at = NOW()`, table)

	_, err = tx.ExecContext(
		ctx,
		query,
		bucket.Key.TenantID,
		bucket.Key.SiteID,
		bucket.Key.LocationID,
		bucket.Key.BucketStart.UTC(),
		counts.TotalEvents,
		counts.Grants,
		counts.Denies,
		counts.SuspiciousCount,
		int64(counts.DistinctBadges),
		int64(counts.DistinctPersons),
		badgeSketch,
		personSketch,
	)
	return err
}

func (r *RollupRepository) insertDedup(ctx context.Context, tx *sql.Tx, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, counted_at)
VALUES ($1, $2)
ON CONFLICT (event_id)
DO NOTHING`, r.dedupTable)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, id := range eventIDs {
		if id == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *RollupRepository) advanceCursor(ctx context.Context, tx *sql.Tx, partition string, cursor int64) error {
	query := fmt.Sprintf(`
INSERT INTO %s (partition_key, last_seq, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (partition_key)
DO UPDATE SET
	last_seq = GREATEST(%s.last_seq, EXCLUDED.last_seq),
	updated_at = NOW()`, r.cursorTable, r.cursorTable)
	_, err := tx.ExecContext(ctx, query, partition, cursor)
	return err
}

// Cursor returns the last committed stream sequence for the partition.
func (r *RollupRepository) Cursor(ctx context.Context, partition string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("rollup repo: nil db")
	}
	if partition == "" {
		return 0, errors.New("rollup repo: partition required")
	}
	query := fmt.Sprintf(`SELECT last_seq FROM %s WHERE partition_key = $1`, r.cursorTable)
	var cursor int64
	err := r.db.QueryRowContext(ctx, query, partition).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor, nil
}

// Seen reports which of the event ids are inside the dedup window.
func (r *RollupRepository) Seen(ctx context.Context, eventIDs []string) (map[string]bool, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rollup repo: nil db")
	}
	seen := make(map[string]bool, len(eventIDs))
	if len(eventIDs) == 0 {
		return seen, nil
	}

	placeholders := make([]string, 0, len(eventIDs))
	args := make([]any, 0, len(eventIDs))
	for i, id := range eventIDs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}
	query := fmt.Sprintf(`
SELECT event_id FROM %s WHERE event_id IN (%s)`, r.dedupTable, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seen, nil
}

// PruneDedup drops dedup records counted before the cutoff.
func (r *RollupRepository) PruneDedup(ctx context.Context, olderThan time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("rollup repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE counted_at < $1`, r.dedupTable)
	result, err := r.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func marshalSketch(sketch *hyperloglog.Sketch) ([]byte, error) {
	if sketch == nil {
		return nil, nil
	}
	return sketch.MarshalBinary()
}

func unmarshalSketch(sketch *hyperloglog.Sketch, data []byte) error {
	if sketch == nil || len(data) == 0 {
		return nil
	}
	return sketch.UnmarshalBinary(data)
}
