package memory

import (
	"context"
	"sort"
	"sync"

	baseline "piam-analytics/internal/baseline/domain"
)

// BaselineRepository is an in-memory baseline store for tests.
type BaselineRepository struct {
	mu   sync.RWMutex
	data map[baseline.Key]baseline.Baseline
}

// NewBaselineRepository constructs a repository.
func NewBaselineRepository() *BaselineRepository {
	return &BaselineRepository{data: make(map[baseline.Key]baseline.Baseline)}
}

// ReplaceAll overwrites the stored set.
func (r *BaselineRepository) ReplaceAll(ctx context.Context, baselines []baseline.Baseline) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[baseline.Key]baseline.Baseline, len(baselines))
	for _, b := range baselines {
		if b.HourOfWeek < 0 || b.HourOfWeek >= baseline.HoursPerWeek {
			return baseline.ErrInvalidHourOfWeek
		}
		key := baseline.Key{TenantID: b.TenantID, SiteID: b.SiteID, LocationID: b.LocationID, HourOfWeek: b.HourOfWeek}
		r.data[key] = b
	}
	return nil
}

// Get returns the baseline for a slot, nil when absent.
func (r *BaselineRepository) Get(ctx context.Context, key baseline.Key) (*baseline.Baseline, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.data[key]; ok {
		return &b, nil
	}
	return nil, nil
}

// ListByHourOfWeek returns every baseline for one hour-of-week slot.
func (r *BaselineRepository) ListByHourOfWeek(ctx context.Context, hourOfWeek int) ([]baseline.Baseline, error) {
	_ = ctx
	if hourOfWeek < 0 || hourOfWeek >= baseline.HoursPerWeek {
		return nil, baseline.ErrInvalidHourOfWeek
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []baseline.Baseline
	for key, b := range r.data {
		if key.HourOfWeek == hourOfWeek {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TenantID != result[j].TenantID {
			return result[i].TenantID < result[j].TenantID
		}
		return result[i].LocationID < result[j].LocationID
	})
	return result, nil
}
