package baseline

import (
	"context"
	"math"
	"time"
)

// HoursPerWeek is the number of hour-of-week baseline slots per location.
const HoursPerWeek = 7 * 24

// Baseline is the expected activity for one location at one hour of the
// week, derived from trailing closed weeks of hour rollups. Wholly owned
// and rewritten by the calculator on each run.
type Baseline struct {
	TenantID   string
	SiteID     string
	LocationID string
	HourOfWeek int

	AvgEventsPerHour float64
	AvgDeniesPerHour float64
	StddevEvents     float64
	StddevDenies     float64

	SampleWeeks   int
	LowConfidence bool
	ComputedAt    time.Time
}

// Key identifies a baseline slot.
type Key struct {
	TenantID   string
	SiteID     string
	LocationID string
	HourOfWeek int
}

// Compute builds a baseline from per-week samples of hourly event and deny
// volume. Mean is arithmetic, deviation is population standard deviation.
// Fewer than minSupport contributing weeks marks the record low-confidence.
func Compute(key Key, eventSamples, denySamples []float64, minSupport int, computedAt time.Time) Baseline {
	b := Baseline{
		TenantID:    key.TenantID,
		SiteID:      key.SiteID,
		LocationID:  key.LocationID,
		HourOfWeek:  key.HourOfWeek,
		SampleWeeks: len(eventSamples),
		ComputedAt:  computedAt.UTC(),
	}
	b.AvgEventsPerHour, b.StddevEvents = meanStddev(eventSamples)
	b.AvgDeniesPerHour, b.StddevDenies = meanStddev(denySamples)
	if minSupport < 1 {
		minSupport = 1
	}
	b.LowConfidence = b.SampleWeeks < minSupport
	return b
}

// Usable reports whether the detector may fire on this baseline.
func (b Baseline) Usable() bool {
	return !b.LowConfidence && b.SampleWeeks > 0
}

func meanStddev(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	variance := sq / float64(len(samples))
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// Repository persists baselines with replace-on-write semantics.
type Repository interface {
	// ReplaceAll overwrites the baseline table with a freshly computed set.
	ReplaceAll(ctx context.Context, baselines []Baseline) error
	// Get returns the baseline for a slot, nil when absent.
	Get(ctx context.Context, key Key) (*Baseline, error)
	// ListByHourOfWeek returns all baselines for one hour-of-week slot.
	ListByHourOfWeek(ctx context.Context, hourOfWeek int) ([]Baseline, error)
}

// WeekStart floors t to the start of its week: Sunday 00:00 UTC, matching
// hour_of_week = weekday*24 + hour with Sunday = 0.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}
