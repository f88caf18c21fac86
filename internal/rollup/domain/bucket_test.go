package rollup

import (
	"fmt"
	"testing"
	"time"

	events "piam-analytics/internal/events/domain"
)

func testEvent(id, badge, person string, result events.Result, at time.Time) events.AccessEvent {
	return events.AccessEvent{
		EventID:    id,
		TenantID:   "tenant-a",
		EventTime:  at,
		PersonID:   person,
		BadgeID:    badge,
		SiteID:     "site-1",
		LocationID: "door-1",
		Result:     result,
	}
}

func TestBucketApplyCounts(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 15, 30, 0, time.UTC)
	bucket, err := NewBucket(KeyFor(testEvent("e1", "b1", "p1", events.ResultGrant, at), GranularityMinute))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	if err := bucket.Apply(testEvent("e1", "b1", "p1", events.ResultGrant, at)); err != nil {
		t.Fatalf("apply grant: %v", err)
	}
	if err := bucket.Apply(testEvent("e2", "b2", "p2", events.ResultDeny, at)); err != nil {
		t.Fatalf("apply deny: %v", err)
	}
	suspicious := testEvent("e3", "b1", "p1", events.ResultDeny, at)
	suspicious.SuspiciousFlag = true
	if err := bucket.Apply(suspicious); err != nil {
		t.Fatalf("apply suspicious: %v", err)
	}

	counts := bucket.Counts()
	if counts.TotalEvents != 3 || counts.Grants != 1 || counts.Denies != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.TotalEvents != counts.Grants+counts.Denies {
		t.Fatalf("total %d != grants %d + denies %d", counts.TotalEvents, counts.Grants, counts.Denies)
	}
	if counts.SuspiciousCount != 1 {
		t.Fatalf("suspicious = %d, want 1", counts.SuspiciousCount)
	}
	if counts.DistinctBadges != 2 {
		t.Fatalf("distinct badges = %d, want 2", counts.DistinctBadges)
	}
	if counts.DistinctPersons != 2 {
		t.Fatalf("distinct persons = %d, want 2", counts.DistinctPersons)
	}
}

func TestBucketApplyRejectsUnknownResult(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	bucket, err := NewBucket(KeyFor(testEvent("e1", "b1", "p1", events.ResultGrant, at), GranularityHour))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	bad := testEvent("e1", "b1", "p1", "tailgate", at)
	if err := bucket.Apply(bad); err == nil {
		t.Fatal("expected error for unknown result")
	}
	if bucket.TotalEvents != 0 {
		t.Fatalf("total = %d after rejected apply, want 0", bucket.TotalEvents)
	}
}

func TestKeyForTruncation(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 15, 59, 999, time.UTC)
	event := testEvent("e1", "b1", "p1", events.ResultGrant, at)

	minuteKey := KeyFor(event, GranularityMinute)
	if want := time.Date(2026, 8, 24, 9, 15, 0, 0, time.UTC); !minuteKey.BucketStart.Equal(want) {
		t.Fatalf("minute bucket start = %s, want %s", minuteKey.BucketStart, want)
	}
	hourKey := KeyFor(event, GranularityHour)
	if want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC); !hourKey.BucketStart.Equal(want) {
		t.Fatalf("hour bucket start = %s, want %s", hourKey.BucketStart, want)
	}
}

func TestBucketClosed(t *testing.T) {
	start := time.Date(2026, 8, 24, 9, 15, 0, 0, time.UTC)
	key := BucketKey{TenantID: "t", LocationID: "l", Granularity: GranularityMinute, BucketStart: start}
	grace := 2 * time.Minute

	if key.Closed(start.Add(time.Minute+grace), grace) {
		t.Fatal("bucket closed exactly at end+grace, want open")
	}
	if !key.Closed(start.Add(time.Minute+grace+time.Second), grace) {
		t.Fatal("bucket open past end+grace, want closed")
	}
}

func TestOldestOpenStart(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 45, 30, 0, time.UTC)
	got := OldestOpenStart(GranularityMinute, now, 2*time.Minute)
	if want := time.Date(2026, 8, 24, 9, 43, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("oldest open minute = %s, want %s", got, want)
	}
	got = OldestOpenStart(GranularityHour, now, 10*time.Minute)
	if want := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("oldest open hour = %s, want %s", got, want)
	}
}

func TestHourOfWeek(t *testing.T) {
	cases := []struct {
		at   time.Time
		want int
	}{
		{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 0},    // Sunday 00:00
		{time.Date(2023, 1, 1, 5, 0, 0, 0, time.UTC), 5},    // Sunday 05:00
		{time.Date(2023, 1, 2, 13, 0, 0, 0, time.UTC), 37},  // Monday 13:00
		{time.Date(2023, 1, 7, 23, 0, 0, 0, time.UTC), 167}, // Saturday 23:00
	}
	for _, tc := range cases {
		if got := HourOfWeek(tc.at); got != tc.want {
			t.Errorf("HourOfWeek(%s) = %d, want %d", tc.at, got, tc.want)
		}
	}
}

func TestMergeKeyMismatch(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	a, _ := NewBucket(BucketKey{TenantID: "t", LocationID: "a", Granularity: GranularityHour, BucketStart: at})
	b, _ := NewBucket(BucketKey{TenantID: "t", LocationID: "b", Granularity: GranularityHour, BucketStart: at})
	if err := a.Merge(b); err != ErrKeyMismatch {
		t.Fatalf("merge error = %v, want ErrKeyMismatch", err)
	}
}

func TestMergeAccumulates(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	key := BucketKey{TenantID: "t", SiteID: "s", LocationID: "l", Granularity: GranularityHour, BucketStart: at}
	a, _ := NewBucket(key)
	b, _ := NewBucket(key)

	if err := a.Apply(testEventAt(key, "b1", "p1", events.ResultGrant)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := b.Apply(testEventAt(key, "b2", "p2", events.ResultDeny)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := a.Merge(b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	counts := a.Counts()
	if counts.TotalEvents != 2 || counts.Grants != 1 || counts.Denies != 1 {
		t.Fatalf("unexpected merged counts: %+v", counts)
	}
	if counts.DistinctBadges != 2 {
		t.Fatalf("distinct badges = %d, want 2", counts.DistinctBadges)
	}
}

// Past the sketch's sparse range the distinct counts are estimates. The
// sketch is sized so the relative error stays within 2% at 1e4-1e6.
func TestDistinctCountsApproximateAtScale(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	key := BucketKey{TenantID: "t", SiteID: "s", LocationID: "l", Granularity: GranularityHour, BucketStart: at}
	bucket, err := NewBucket(key)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	const cardinality = 20000
	for i := 0; i < cardinality; i++ {
		event := testEventAt(key, fmt.Sprintf("badge-%06d", i), fmt.Sprintf("person-%06d", i), events.ResultGrant)
		event.EventID = fmt.Sprintf("e-%06d", i)
		if err := bucket.Apply(event); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	counts := bucket.Counts()
	if counts.TotalEvents != cardinality {
		t.Fatalf("total = %d, want %d", counts.TotalEvents, cardinality)
	}
	assertWithinTwoPercent(t, "badges", counts.DistinctBadges, cardinality)
	assertWithinTwoPercent(t, "persons", counts.DistinctPersons, cardinality)
}

func TestDistinctCountsSurviveMergeAtScale(t *testing.T) {
	at := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	key := BucketKey{TenantID: "t", SiteID: "s", LocationID: "l", Granularity: GranularityHour, BucketStart: at}
	a, _ := NewBucket(key)
	b, _ := NewBucket(key)

	const half = 10000
	for i := 0; i < half; i++ {
		first := testEventAt(key, fmt.Sprintf("badge-a-%06d", i), fmt.Sprintf("person-a-%06d", i), events.ResultGrant)
		second := testEventAt(key, fmt.Sprintf("badge-b-%06d", i), fmt.Sprintf("person-b-%06d", i), events.ResultDeny)
		if err := a.Apply(first); err != nil {
			t.Fatalf("apply a %d: %v", i, err)
		}
		if err := b.Apply(second); err != nil {
			t.Fatalf("apply b %d: %v", i, err)
		}
	}
	if err := a.Merge(b); err != nil {
		t.Fatalf("merge: %v", err)
	}

	counts := a.Counts()
	assertWithinTwoPercent(t, "merged badges", counts.DistinctBadges, 2*half)
	assertWithinTwoPercent(t, "merged persons", counts.DistinctPersons, 2*half)
}

func assertWithinTwoPercent(t *testing.T, label string, got uint64, want int) {
	t.Helper()
	diff := int64(got) - int64(want)
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > 0.02*float64(want) {
		t.Fatalf("%s estimate = %d, want %d +/- 2%%", label, got, want)
	}
}

func testEventAt(key BucketKey, badge, person string, result events.Result) events.AccessEvent {
	return events.AccessEvent{
		EventID:    badge + person,
		TenantID:   key.TenantID,
		EventTime:  key.BucketStart,
		PersonID:   person,
		BadgeID:    badge,
		SiteID:     key.SiteID,
		LocationID: key.LocationID,
		Result:     result,
	}
}
