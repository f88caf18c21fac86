package application

import (
	"sync"
	"time"

	insight "piam-analytics/internal/insights/domain"
)

// Feed holds the most recent ranked insight list per tenant. Each
// detection cycle replaces a tenant's list wholesale; entries expire
// after the TTL so a stalled detector does not serve ancient spikes.
type Feed struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]feedEntry
}

type feedEntry struct {
	insights    []insight.Insight
	publishedAt time.Time
}

// NewFeed constructs a feed with the given entry TTL.
func NewFeed(ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = 90 * time.Minute
	}
	return &Feed{ttl: ttl, entries: make(map[string]feedEntry)}
}

// Publish replaces a tenant's ranked list. An empty list clears it.
func (f *Feed) Publish(tenantID string, insights []insight.Insight, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(insights) == 0 {
		delete(f.entries, tenantID)
		return
	}
	copied := make([]insight.Insight, len(insights))
	copy(copied, insights)
	f.entries[tenantID] = feedEntry{insights: copied, publishedAt: now}
}

// List returns the current ranked list for a tenant, empty when nothing
// is published or the entry has expired.
func (f *Feed) List(tenantID string, now time.Time) []insight.Insight {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.entries[tenantID]
	if !ok || now.Sub(entry.publishedAt) > f.ttl {
		return nil
	}
	result := make([]insight.Insight, len(entry.insights))
	copy(result, entry.insights)
	return result
}
