package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	baseline "piam-analytics/internal/baseline/domain"
	"piam-analytics/internal/observability/metrics"
	rollup "piam-analytics/internal/rollup/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

const (
	defaultTrailingWeeks = 4
	defaultMinSupport    = 2
)

// HourSource reads closed hour rollups for the trailing window.
type HourSource interface {
	ListHourCounts(ctx context.Context, from, to time.Time) ([]rollup.HourCount, error)
}

// Calculator recomputes all baselines from trailing closed weeks of hour
// rollups. Full replace on every run: re-running over the same history
// produces the same table, so the recompute trigger is idempotent.
type Calculator struct {
	source HourSource
	repo   baseline.Repository
	clock  Clock
	logger *log.Logger

	trailingWeeks int
	minSupport    int
}

// CalculatorOption customizes the calculator.
type CalculatorOption func(*Calculator)

// WithClock assigns a clock.
func WithClock(clock Clock) CalculatorOption {
	return func(c *Calculator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTrailingWeeks sets the trailing window width in weeks.
func WithTrailingWeeks(weeks int) CalculatorOption {
	return func(c *Calculator) {
		if weeks > 0 {
			c.trailingWeeks = weeks
		}
	}
}

// WithMinSupport sets the minimum contributing weeks before a baseline is
// considered usable.
func WithMinSupport(weeks int) CalculatorOption {
	return func(c *Calculator) {
		if weeks > 0 {
			c.minSupport = weeks
		}
	}
}

// NewCalculator constructs a baseline calculator.
func NewCalculator(source HourSource, repo baseline.Repository, logger *log.Logger, opts ...CalculatorOption) (*Calculator, error) {
	if source == nil {
		return nil, errors.New("baseline calculator: nil hour source")
	}
	if repo == nil {
		return nil, errors.New("baseline calculator: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	calc := &Calculator{
		source:        source,
		repo:          repo,
		clock:         systemClock{},
		logger:        logger,
		trailingWeeks: defaultTrailingWeeks,
		minSupport:    defaultMinSupport,
	}
	for _, opt := range opts {
		opt(calc)
	}
	return calc, nil
}

// Recompute rebuilds every baseline from the trailing window, excluding
// the current partially-elapsed week. Returns the number of baseline rows
// written.
func (c *Calculator) Recompute(ctx context.Context) (int, error) {
	start := c.clock.Now()
	weekStart := baseline.WeekStart(start)
	from := weekStart.AddDate(0, 0, -7*c.trailingWeeks)

	counts, err := c.source.ListHourCounts(ctx, from, weekStart)
	if err != nil {
		metrics.ObserveBaselineRun(metrics.ResultError, 0, c.clock.Now().Sub(start))
		return 0, err
	}

	type samples struct {
		events []float64
		denies []float64
	}
	grouped := make(map[baseline.Key]*samples)
	for _, count := range counts {
		key := baseline.Key{
			TenantID:   count.TenantID,
			SiteID:     count.SiteID,
			LocationID: count.LocationID,
			HourOfWeek: rollup.HourOfWeek(count.BucketStart),
		}
		group := grouped[key]
		if group == nil {
			group = &samples{}
			grouped[key] = group
		}
		group.events = append(group.events, float64(count.TotalEvents))
		group.denies = append(group.denies, float64(count.Denies))
	}

	computedAt := c.clock.Now()
	baselines := make([]baseline.Baseline, 0, len(grouped))
	for key, group := range grouped {
		baselines = append(baselines, baseline.Compute(key, group.events, group.denies, c.minSupport, computedAt))
	}
	sort.Slice(baselines, func(i, j int) bool {
		a, b := baselines[i], baselines[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.HourOfWeek < b.HourOfWeek
	})

	if err := c.repo.ReplaceAll(ctx, baselines); err != nil {
		metrics.ObserveBaselineRun(metrics.ResultError, 0, c.clock.Now().Sub(start))
		return 0, err
	}
	metrics.ObserveBaselineRun(metrics.ResultSuccess, len(baselines), c.clock.Now().Sub(start))
	c.logger.Printf("baseline: recomputed %d baselines from %d hour buckets (window %s..%s)",
		len(baselines), len(counts), from.Format(time.RFC3339), weekStart.Format(time.RFC3339))
	return len(baselines), nil
}
