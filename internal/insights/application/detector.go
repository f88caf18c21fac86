package application

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	baseline "piam-analytics/internal/baseline/domain"
	insight "piam-analytics/internal/insights/domain"
	"piam-analytics/internal/observability/metrics"
	rollup "piam-analytics/internal/rollup/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// RollupSource reads hour rollups for the detection window.
type RollupSource interface {
	ListHourCounts(ctx context.Context, from, to time.Time) ([]rollup.HourCount, error)
}

// BaselineSource reads baselines for one hour-of-week slot.
type BaselineSource interface {
	ListByHourOfWeek(ctx context.Context, hourOfWeek int) ([]baseline.Baseline, error)
}

// Recorder appends emitted insights to durable history.
type Recorder interface {
	Append(ctx context.Context, insights []insight.Insight) error
}

// Detector runs the deny-spike detection cycle: compare the current
// hour's deny counts against the matching hour-of-week baselines, rank
// what fires, and publish a fresh top-N list per tenant.
type Detector struct {
	source    RollupSource
	baselines BaselineSource
	feed      *Feed
	recorder  Recorder
	cfg       Config
	clock     Clock
	logger    *log.Logger

	running  atomic.Bool
	cooldown map[cooldownKey]cooldownState
}

type cooldownKey struct {
	tenantID   string
	locationID string
}

type cooldownState struct {
	observed int64
	firedAt  time.Time
}

// DetectorOption customizes the detector.
type DetectorOption func(*Detector)

// WithClock assigns a clock.
func WithClock(clock Clock) DetectorOption {
	return func(d *Detector) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithRecorder assigns a durable history recorder.
func WithRecorder(recorder Recorder) DetectorOption {
	return func(d *Detector) {
		d.recorder = recorder
	}
}

// NewDetector constructs a deny-spike detector.
func NewDetector(source RollupSource, baselines BaselineSource, feed *Feed, cfg Config, logger *log.Logger, opts ...DetectorOption) (*Detector, error) {
	if source == nil {
		return nil, errors.New("insights detector: nil rollup source")
	}
	if baselines == nil {
		return nil, errors.New("insights detector: nil baseline source")
	}
	if feed == nil {
		return nil, errors.New("insights detector: nil feed")
	}
	if logger == nil {
		logger = log.Default()
	}
	det := &Detector{
		source:    source,
		baselines: baselines,
		feed:      feed,
		cfg:       cfg,
		clock:     systemClock{},
		logger:    logger,
		cooldown:  make(map[cooldownKey]cooldownState),
	}
	for _, opt := range opts {
		opt(det)
	}
	return det, nil
}

// Run executes detection cycles on the configured interval until the
// context is cancelled. A cycle that is still running when the next tick
// arrives causes that tick to be skipped, never queued.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.running.CompareAndSwap(false, true) {
				metrics.ObserveDetectionCycle(metrics.ResultSkipped, 0)
				continue
			}
			if err := d.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Printf("insights: detection cycle: %v", err)
			}
			d.running.Store(false)
		}
	}
}

// RunCycle performs one detection pass over the current hour.
func (d *Detector) RunCycle(ctx context.Context) error {
	start := d.clock.Now()
	hourStart := start.Truncate(time.Hour)

	counts, err := d.source.ListHourCounts(ctx, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		metrics.ObserveDetectionCycle(metrics.ResultError, d.clock.Now().Sub(start))
		return err
	}

	slot := rollup.HourOfWeek(hourStart)
	slotBaselines, err := d.baselines.ListByHourOfWeek(ctx, slot)
	if err != nil {
		metrics.ObserveDetectionCycle(metrics.ResultError, d.clock.Now().Sub(start))
		return err
	}
	byKey := make(map[baseline.Key]baseline.Baseline, len(slotBaselines))
	for _, b := range slotBaselines {
		byKey[baseline.Key{TenantID: b.TenantID, SiteID: b.SiteID, LocationID: b.LocationID, HourOfWeek: slot}] = b
	}

	byTenant := make(map[string][]insight.Insight)
	for _, count := range counts {
		thresholds := d.cfg.ThresholdsForLocation(count.LocationID)
		var mean float64
		if b, ok := byKey[baseline.Key{TenantID: count.TenantID, SiteID: count.SiteID, LocationID: count.LocationID, HourOfWeek: slot}]; ok {
			if !b.Usable() {
				continue
			}
			mean = b.AvgDeniesPerHour
		}
		if !insight.ShouldFire(count.Denies, mean, thresholds.MinDenyCount, thresholds.SpikeMultiplier) {
			continue
		}
		byTenant[count.TenantID] = append(byTenant[count.TenantID], insight.Insight{
			ID:             uuid.NewString(),
			TenantID:       count.TenantID,
			SiteID:         count.SiteID,
			LocationID:     count.LocationID,
			Kind:           insight.KindDenySpike,
			ObservedDenies: count.Denies,
			BaselineMean:   mean,
			SpikeRatio:     insight.SpikeRatio(count.Denies, mean),
			WindowStart:    hourStart,
			DetectedAt:     start,
		})
	}

	var emitted []insight.Insight
	for tenantID, list := range byTenant {
		insight.Rank(list)
		if len(list) > d.cfg.MaxPerTenant {
			list = list[:d.cfg.MaxPerTenant]
		}
		d.feed.Publish(tenantID, list, start)
		emitted = append(emitted, d.filterCooldown(list, start)...)
	}
	for tenantID := range d.feed.snapshotTenants() {
		if _, ok := byTenant[tenantID]; !ok {
			d.feed.Publish(tenantID, nil, start)
		}
	}

	if len(emitted) > 0 {
		if d.recorder != nil {
			if err := d.recorder.Append(ctx, emitted); err != nil {
				metrics.ObserveDetectionCycle(metrics.ResultError, d.clock.Now().Sub(start))
				return err
			}
		}
		metrics.AddInsightsEmitted(len(emitted))
		d.logger.Printf("insights: emitted %d deny-spike insights for window %s", len(emitted), hourStart.Format(time.RFC3339))
	}
	metrics.ObserveDetectionCycle(metrics.ResultSuccess, d.clock.Now().Sub(start))
	return nil
}

// filterCooldown drops insights for locations that already fired with
// the same observed count inside the cooldown window. A spike that grew
// since the last emission fires again immediately.
func (d *Detector) filterCooldown(list []insight.Insight, now time.Time) []insight.Insight {
	var fresh []insight.Insight
	for _, ins := range list {
		key := cooldownKey{tenantID: ins.TenantID, locationID: ins.LocationID}
		state, seen := d.cooldown[key]
		if seen && state.observed == ins.ObservedDenies && now.Sub(state.firedAt) < d.cfg.Cooldown() {
			continue
		}
		d.cooldown[key] = cooldownState{observed: ins.ObservedDenies, firedAt: now}
		fresh = append(fresh, ins)
	}
	return fresh
}

// snapshotTenants returns the tenants currently present in the feed so a
// cycle can clear lists for tenants whose spikes have subsided.
func (f *Feed) snapshotTenants() map[string]struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	tenants := make(map[string]struct{}, len(f.entries))
	for tenantID := range f.entries {
		tenants[tenantID] = struct{}{}
	}
	return tenants
}
