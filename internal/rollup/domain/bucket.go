package rollup

import (
	"fmt"
	"time"

	"github.com/axiomhq/hyperloglog"

	events "piam-analytics/internal/events/domain"
)

// Granularity is the time resolution of a rollup bucket.
type Granularity string

const (
	GranularityMinute Granularity = "MINUTE"
	GranularityHour   Granularity = "HOUR"
)

// IsValid checks if the granularity is one of the supported values.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityMinute, GranularityHour:
		return true
	default:
		return false
	}
}

// Width returns the bucket width for the granularity.
func (g Granularity) Width() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	default:
		return 0
	}
}

// Truncate floors t to the start of its bucket.
func (g Granularity) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(g.Width())
}

// BucketKey identifies one rollup bucket.
// Unique per (tenant, site, location, granularity, bucket_start).
type BucketKey struct {
	TenantID    string
	SiteID      string
	LocationID  string
	Granularity Granularity
	BucketStart time.Time
}

// KeyFor returns the bucket key containing the event at the granularity.
func KeyFor(event events.AccessEvent, granularity Granularity) BucketKey {
	return BucketKey{
		TenantID:    event.TenantID,
		SiteID:      event.SiteID,
		LocationID:  event.LocationID,
		Granularity: granularity,
		BucketStart: granularity.Truncate(event.EventTime),
	}
}

// String renders a stable composite key, used by in-memory maps.
func (k BucketKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", k.TenantID, k.SiteID, k.LocationID, k.Granularity, k.BucketStart.Unix())
}

// BucketEnd returns the exclusive end of the bucket interval.
func (k BucketKey) BucketEnd() time.Time {
	return k.BucketStart.Add(k.Granularity.Width())
}

// Closed reports whether the bucket no longer accepts events: wall-clock
// time has advanced past bucket_end plus the grace period.
func (k BucketKey) Closed(now time.Time, grace time.Duration) bool {
	if grace < 0 {
		grace = 0
	}
	return now.After(k.BucketEnd().Add(grace))
}

// OldestOpenStart returns the start of the oldest bucket still accepting
// events at the granularity, given the grace period.
func OldestOpenStart(granularity Granularity, now time.Time, grace time.Duration) time.Time {
	if grace < 0 {
		grace = 0
	}
	return granularity.Truncate(now.Add(-grace))
}

// Counts are the committed counters of one bucket. The distinct counts are
// sketch estimates, not exact sets.
type Counts struct {
	TotalEvents     int64
	Grants          int64
	Denies          int64
	SuspiciousCount int64
	DistinctBadges  uint64
	DistinctPersons uint64
}

// Bucket accumulates counters and cardinality sketches for one key.
// Invariant: TotalEvents == Grants + Denies (grant/deny are the only
// terminal results, enforced at ingest validation).
type Bucket struct {
	Key BucketKey

	TotalEvents     int64
	Grants          int64
	Denies          int64
	SuspiciousCount int64

	Badges  *hyperloglog.Sketch
	Persons *hyperloglog.Sketch
}

// NewBucket constructs an empty bucket for the key.
func NewBucket(key BucketKey) (*Bucket, error) {
	if !key.Granularity.IsValid() {
		return nil, ErrInvalidGranularity
	}
	if key.BucketStart.IsZero() {
		return nil, ErrInvalidBucketStart
	}
	return &Bucket{
		Key:     key,
		Badges:  hyperloglog.New14(),
		Persons: hyperloglog.New14(),
	}, nil
}

// Apply accounts one event into the bucket. Dedup happens upstream; Apply
// assumes the event has not been counted before.
func (b *Bucket) Apply(event events.AccessEvent) error {
	if b == nil {
		return ErrNilBucket
	}
	switch event.Result {
	case events.ResultGrant:
		b.Grants++
	case events.ResultDeny:
		b.Denies++
	default:
		return events.ErrInvalidResult
	}
	b.TotalEvents++
	if event.SuspiciousFlag {
		b.SuspiciousCount++
	}
	if event.BadgeID != "" {
		b.Badges.Insert([]byte(event.BadgeID))
	}
	if event.PersonID != "" {
		b.Persons.Insert([]byte(event.PersonID))
	}
	return nil
}

// Counts returns the current counter snapshot with sketch estimates.
func (b *Bucket) Counts() Counts {
	if b == nil {
		return Counts{}
	}
	counts := Counts{
		TotalEvents:     b.TotalEvents,
		Grants:          b.Grants,
		Denies:          b.Denies,
		SuspiciousCount: b.SuspiciousCount,
	}
	if b.Badges != nil {
		counts.DistinctBadges = b.Badges.Estimate()
	}
	if b.Persons != nil {
		counts.DistinctPersons = b.Persons.Estimate()
	}
	return counts
}

// Merge folds another bucket for the same key into this one.
func (b *Bucket) Merge(other *Bucket) error {
	if b == nil || other == nil {
		return ErrNilBucket
	}
	if b.Key != other.Key {
		return ErrKeyMismatch
	}
	b.TotalEvents += other.TotalEvents
	b.Grants += other.Grants
	b.Denies += other.Denies
	b.SuspiciousCount += other.SuspiciousCount
	if other.Badges != nil {
		if err := b.Badges.Merge(other.Badges); err != nil {
			return err
		}
	}
	if other.Persons != nil {
		if err := b.Persons.Merge(other.Persons); err != nil {
			return err
		}
	}
	return nil
}

// HourOfWeek returns the baseline bucket index for an hour bucket start:
// day_of_week*24 + hour_of_day in UTC, Sunday = 0, range [0,167].
func HourOfWeek(bucketStart time.Time) int {
	t := bucketStart.UTC()
	return int(t.Weekday())*24 + t.Hour()
}
