package baseline

import (
	"math"
	"testing"
	"time"
)

func TestComputeMeanAndStddev(t *testing.T) {
	key := Key{TenantID: "t", SiteID: "s", LocationID: "l", HourOfWeek: 37}
	at := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)

	b := Compute(key, []float64{10, 14}, []float64{2, 4}, 2, at)
	if b.SampleWeeks != 2 {
		t.Fatalf("sample weeks = %d, want 2", b.SampleWeeks)
	}
	if b.LowConfidence {
		t.Fatal("two weeks at min support 2 should not be low confidence")
	}
	if b.AvgEventsPerHour != 12 {
		t.Fatalf("avg events = %v, want 12", b.AvgEventsPerHour)
	}
	if b.AvgDeniesPerHour != 3 {
		t.Fatalf("avg denies = %v, want 3", b.AvgDeniesPerHour)
	}
	// Population stddev of {10, 14} is 2.
	if math.Abs(b.StddevEvents-2) > 1e-9 {
		t.Fatalf("stddev events = %v, want 2", b.StddevEvents)
	}
	if !b.Usable() {
		t.Fatal("baseline should be usable")
	}
}

func TestComputeSingleWeekIsLowConfidence(t *testing.T) {
	key := Key{TenantID: "t", LocationID: "l", HourOfWeek: 5}
	b := Compute(key, []float64{8}, []float64{1}, 2, time.Now())
	if b.SampleWeeks != 1 {
		t.Fatalf("sample weeks = %d, want 1", b.SampleWeeks)
	}
	if !b.LowConfidence {
		t.Fatal("one contributing week must be low confidence")
	}
	if b.Usable() {
		t.Fatal("low confidence baseline must not be usable")
	}
	if b.AvgEventsPerHour != 8 || b.StddevEvents != 0 {
		t.Fatalf("single sample stats = %v/%v, want 8/0", b.AvgEventsPerHour, b.StddevEvents)
	}
}

func TestComputeEmptySamples(t *testing.T) {
	b := Compute(Key{TenantID: "t", LocationID: "l"}, nil, nil, 2, time.Now())
	if b.SampleWeeks != 0 || b.AvgEventsPerHour != 0 || b.StddevEvents != 0 {
		t.Fatalf("empty samples produced %+v", b)
	}
	if b.Usable() {
		t.Fatal("empty baseline must not be usable")
	}
}

func TestWeekStart(t *testing.T) {
	// 2023-01-04 was a Wednesday; its week starts Sunday 2023-01-01.
	got := WeekStart(time.Date(2023, 1, 4, 15, 30, 0, 0, time.UTC))
	if want := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("week start = %s, want %s", got, want)
	}
	// A Sunday is its own week start.
	got = WeekStart(time.Date(2023, 1, 1, 23, 0, 0, 0, time.UTC))
	if want := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("sunday week start = %s, want %s", got, want)
	}
}
