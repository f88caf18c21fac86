package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	rollup "piam-analytics/internal/rollup/domain"
)

// RollupRepository is an in-memory rollup store for tests and single-node
// runs. It implements the aggregator repository and the reader methods the
// baseline calculator, detector and query layer consume.
type RollupRepository struct {
	mu      sync.RWMutex
	buckets map[string]*rollup.Bucket
	cursors map[string]int64
	dedup   map[string]time.Time
}

// NewRollupRepository constructs a repository.
func NewRollupRepository() *RollupRepository {
	return &RollupRepository{
		buckets: make(map[string]*rollup.Bucket),
		cursors: make(map[string]int64),
		dedup:   make(map[string]time.Time),
	}
}

// GetBuckets loads current state for the given keys.
func (r *RollupRepository) GetBuckets(ctx context.Context, keys []rollup.BucketKey) ([]*rollup.Bucket, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*rollup.Bucket, 0, len(keys))
	for _, key := range keys {
		if bucket := r.buckets[key.String()]; bucket != nil {
			result = append(result, cloneBucket(bucket))
		}
	}
	return result, nil
}

// Apply commits an aggregation batch atomically under the repository lock.
func (r *RollupRepository) Apply(ctx context.Context, batch rollup.ApplyBatch) error {
	_ = ctx
	if batch.Partition == "" {
		return errors.New("memory rollup repo: partition required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bucket := range batch.Buckets {
		if bucket == nil {
			continue
		}
		r.buckets[bucket.Key.String()] = cloneBucket(bucket)
	}
	now := time.Now().UTC()
	for _, id := range batch.EventIDs {
		if _, ok := r.dedup[id]; !ok {
			r.dedup[id] = now
		}
	}
	if batch.NewCursor > r.cursors[batch.Partition] {
		r.cursors[batch.Partition] = batch.NewCursor
	}
	return nil
}

// Cursor returns the last committed sequence for the partition.
func (r *RollupRepository) Cursor(ctx context.Context, partition string) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[partition], nil
}

// Seen reports which event ids were already counted.
func (r *RollupRepository) Seen(ctx context.Context, eventIDs []string) (map[string]bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		if _, ok := r.dedup[id]; ok {
			seen[id] = true
		}
	}
	return seen, nil
}

// PruneDedup drops dedup records older than the cutoff.
func (r *RollupRepository) PruneDedup(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, at := range r.dedup {
		if at.Before(olderThan) {
			delete(r.dedup, id)
			removed++
		}
	}
	return removed, nil
}

// ListHourCounts returns hour bucket counts with bucket_start in [from, to).
func (r *RollupRepository) ListHourCounts(ctx context.Context, from, to time.Time) ([]rollup.HourCount, error) {
	_ = ctx
	if from.IsZero() || to.IsZero() {
		return nil, errors.New("memory rollup repo: invalid range")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []rollup.HourCount
	for _, bucket := range r.buckets {
		if bucket.Key.Granularity != rollup.GranularityHour {
			continue
		}
		start := bucket.Key.BucketStart
		if start.Before(from) || !start.Before(to) {
			continue
		}
		result = append(result, rollup.HourCount{
			TenantID:    bucket.Key.TenantID,
			SiteID:      bucket.Key.SiteID,
			LocationID:  bucket.Key.LocationID,
			BucketStart: start,
			TotalEvents: bucket.TotalEvents,
			Denies:      bucket.Denies,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BucketStart.Before(result[j].BucketStart) })
	return result, nil
}

// SumWindow aggregates counters for a tenant across buckets of the
// granularity with bucket_start in [from, to). Distinct counts are merged
// sketch estimates.
func (r *RollupRepository) SumWindow(ctx context.Context, tenantID string, granularity rollup.Granularity, from, to time.Time) (rollup.Counts, error) {
	_ = ctx
	if tenantID == "" || !granularity.IsValid() {
		return rollup.Counts{}, errors.New("memory rollup repo: invalid arguments")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total *rollup.Bucket
	for _, bucket := range r.buckets {
		if bucket.Key.TenantID != tenantID || bucket.Key.Granularity != granularity {
			continue
		}
		start := bucket.Key.BucketStart
		if start.Before(from) || !start.Before(to) {
			continue
		}
		if total == nil {
			key := bucket.Key
			key.SiteID, key.LocationID = "", ""
			sum, err := rollup.NewBucket(key)
			if err != nil {
				return rollup.Counts{}, err
			}
			total = sum
		}
		total.TotalEvents += bucket.TotalEvents
		total.Grants += bucket.Grants
		total.Denies += bucket.Denies
		total.SuspiciousCount += bucket.SuspiciousCount
		if bucket.Badges != nil {
			if err := total.Badges.Merge(bucket.Badges); err != nil {
				return rollup.Counts{}, err
			}
		}
		if bucket.Persons != nil {
			if err := total.Persons.Merge(bucket.Persons); err != nil {
				return rollup.Counts{}, err
			}
		}
	}
	if total == nil {
		return rollup.Counts{}, nil
	}
	return total.Counts(), nil
}

// MinuteSeries returns the per-minute series for a tenant in [from, to).
func (r *RollupRepository) MinuteSeries(ctx context.Context, tenantID string, from, to time.Time) ([]rollup.SeriesPoint, error) {
	_ = ctx
	if tenantID == "" {
		return nil, errors.New("memory rollup repo: tenant required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	byMinute := make(map[time.Time]*rollup.SeriesPoint)
	for _, bucket := range r.buckets {
		if bucket.Key.TenantID != tenantID || bucket.Key.Granularity != rollup.GranularityMinute {
			continue
		}
		start := bucket.Key.BucketStart
		if start.Before(from) || !start.Before(to) {
			continue
		}
		point := byMinute[start]
		if point == nil {
			point = &rollup.SeriesPoint{BucketStart: start}
			byMinute[start] = point
		}
		point.TotalEvents += bucket.TotalEvents
		point.Grants += bucket.Grants
		point.Denies += bucket.Denies
		point.SuspiciousCount += bucket.SuspiciousCount
	}

	result := make([]rollup.SeriesPoint, 0, len(byMinute))
	for _, point := range byMinute {
		result = append(result, *point)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BucketStart.Before(result[j].BucketStart) })
	return result, nil
}

func cloneBucket(bucket *rollup.Bucket) *rollup.Bucket {
	if bucket == nil {
		return nil
	}
	clone := &rollup.Bucket{
		Key:             bucket.Key,
		TotalEvents:     bucket.TotalEvents,
		Grants:          bucket.Grants,
		Denies:          bucket.Denies,
		SuspiciousCount: bucket.SuspiciousCount,
	}
	if bucket.Badges != nil {
		clone.Badges = bucket.Badges.Clone()
	}
	if bucket.Persons != nil {
		clone.Persons = bucket.Persons.Clone()
	}
	return clone
}
