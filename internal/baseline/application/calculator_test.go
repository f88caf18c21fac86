package application

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	baseline "piam-analytics/internal/baseline/domain"
	"piam-analytics/internal/baseline/infrastructure/memory"
	rollup "piam-analytics/internal/rollup/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubHourSource struct {
	counts []rollup.HourCount
	err    error

	gotFrom time.Time
	gotTo   time.Time
}

func (s *stubHourSource) ListHourCounts(_ context.Context, from, to time.Time) ([]rollup.HourCount, error) {
	s.gotFrom, s.gotTo = from, to
	if s.err != nil {
		return nil, s.err
	}
	return s.counts, nil
}

func hourCount(at time.Time, total, denies int64) rollup.HourCount {
	return rollup.HourCount{
		TenantID:    "tenant-a",
		SiteID:      "site-1",
		LocationID:  "door-1",
		BucketStart: at,
		TotalEvents: total,
		Denies:      denies,
	}
}

func TestRecomputeAveragesTrailingWeeks(t *testing.T) {
	// Monday 2026-08-24; the current week began Sunday 2026-08-23.
	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	// Monday 13:00 in the two preceding weeks.
	week1 := time.Date(2026, 8, 10, 13, 0, 0, 0, time.UTC)
	week2 := time.Date(2026, 8, 17, 13, 0, 0, 0, time.UTC)

	source := &stubHourSource{counts: []rollup.HourCount{
		hourCount(week1, 10, 2),
		hourCount(week2, 14, 4),
	}}
	repo := memory.NewBaselineRepository()
	calc, err := NewCalculator(source, repo, log.Default(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	written, err := calc.Recompute(context.Background())
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if written != 1 {
		t.Fatalf("written = %d, want 1", written)
	}

	weekStart := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	if !source.gotTo.Equal(weekStart) {
		t.Fatalf("window end = %s, want current week start %s", source.gotTo, weekStart)
	}
	if !source.gotFrom.Equal(weekStart.AddDate(0, 0, -28)) {
		t.Fatalf("window start = %s, want 4 weeks before %s", source.gotFrom, weekStart)
	}

	key := baseline.Key{TenantID: "tenant-a", SiteID: "site-1", LocationID: "door-1", HourOfWeek: rollup.HourOfWeek(week1)}
	b, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b == nil {
		t.Fatal("baseline not written")
	}
	if b.AvgEventsPerHour != 12 || b.AvgDeniesPerHour != 3 {
		t.Fatalf("means = %v/%v, want 12/3", b.AvgEventsPerHour, b.AvgDeniesPerHour)
	}
	if b.SampleWeeks != 2 || b.LowConfidence {
		t.Fatalf("support = %d weeks, low confidence = %v", b.SampleWeeks, b.LowConfidence)
	}
}

func TestRecomputeSingleWeekMarksLowConfidence(t *testing.T) {
	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	week := time.Date(2026, 8, 17, 13, 0, 0, 0, time.UTC)

	source := &stubHourSource{counts: []rollup.HourCount{hourCount(week, 8, 1)}}
	repo := memory.NewBaselineRepository()
	calc, err := NewCalculator(source, repo, log.Default(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	if _, err := calc.Recompute(context.Background()); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	key := baseline.Key{TenantID: "tenant-a", SiteID: "site-1", LocationID: "door-1", HourOfWeek: rollup.HourOfWeek(week)}
	b, err := repo.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b == nil {
		t.Fatal("baseline not written")
	}
	if b.SampleWeeks != 1 || !b.LowConfidence {
		t.Fatalf("sample weeks = %d, low confidence = %v; want 1/true", b.SampleWeeks, b.LowConfidence)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	week := time.Date(2026, 8, 17, 13, 0, 0, 0, time.UTC)

	source := &stubHourSource{counts: []rollup.HourCount{hourCount(week, 8, 1)}}
	repo := memory.NewBaselineRepository()
	calc, err := NewCalculator(source, repo, log.Default(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}

	first, err := calc.Recompute(context.Background())
	if err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	second, err := calc.Recompute(context.Background())
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if first != second {
		t.Fatalf("recompute wrote %d then %d rows over identical history", first, second)
	}
}

func TestRecomputePropagatesSourceError(t *testing.T) {
	source := &stubHourSource{err: errors.New("storage down")}
	repo := memory.NewBaselineRepository()
	calc, err := NewCalculator(source, repo, log.Default())
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	if _, err := calc.Recompute(context.Background()); err == nil {
		t.Fatal("expected error from source")
	}
}
