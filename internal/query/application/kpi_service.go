package application

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

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
	minLookbackMinutes = 60
	maxLookbackMinutes = 1440
)

// Lookback windows served by the KPI snapshot.
var kpiWindows = []int{15, 60, 1440}

// RollupReader reads aggregated counters from the rollup store.
type RollupReader interface {
	SumWindow(ctx context.Context, tenantID string, granularity rollup.Granularity, from, to time.Time) (rollup.Counts, error)
	MinuteSeries(ctx context.Context, tenantID string, from, to time.Time) ([]rollup.SeriesPoint, error)
}

// WindowKPI is one aggregated lookback window.
type WindowKPI struct {
	WindowMinutes   int     `json:"window_minutes"`
	TotalEvents     int64   `json:"total_events"`
	Grants          int64   `json:"grants"`
	Denies          int64   `json:"denies"`
	SuspiciousCount int64   `json:"suspicious_count"`
	DenyRate        float64 `json:"deny_rate"`
	DistinctBadges  uint64  `json:"distinct_badges"`
	DistinctPersons uint64  `json:"distinct_persons"`
}

// Snapshot is the KPI response for one tenant. Stale means at least one
// window could not be read and carries zeros instead of fresh counters.
type Snapshot struct {
	TenantID    string      `json:"tenant_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Stale       bool        `json:"stale"`
	Windows     []WindowKPI `json:"windows"`
}

// KPIService answers dashboard queries from rollups only. Raw events are
// never scanned on the query path.
type KPIService struct {
	reader RollupReader
	clock  Clock
	logger *log.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*KPIService)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *KPIService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewKPIService constructs a KPI query service.
func NewKPIService(reader RollupReader, logger *log.Logger, opts ...ServiceOption) (*KPIService, error) {
	if reader == nil {
		return nil, errors.New("kpi service: nil rollup reader")
	}
	if logger == nil {
		logger = log.Default()
	}
	svc := &KPIService{reader: reader, clock: systemClock{}, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Snapshot returns the 15m, 60m and 24h KPI windows for a tenant. The
// short windows read minute rollups; the day window reads hour rollups
// so it stays cheap regardless of event volume. A storage failure on any
// window marks the whole snapshot stale rather than failing the request.
func (s *KPIService) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	if tenantID == "" {
		return Snapshot{}, errors.New("kpi service: tenant id required")
	}
	now := s.clock.Now()
	snapshot := Snapshot{TenantID: tenantID, GeneratedAt: now}

	for _, minutes := range kpiWindows {
		granularity := rollup.GranularityMinute
		if minutes >= maxLookbackMinutes {
			granularity = rollup.GranularityHour
		}
		from := now.Add(-time.Duration(minutes) * time.Minute).Truncate(granularity.Width())
		counts, err := s.reader.SumWindow(ctx, tenantID, granularity, from, now)
		if err != nil {
			s.logger.Printf("query: kpi window %dm for tenant %s: %v", minutes, tenantID, err)
			snapshot.Stale = true
			snapshot.Windows = append(snapshot.Windows, WindowKPI{WindowMinutes: minutes})
			continue
		}
		snapshot.Windows = append(snapshot.Windows, WindowKPI{
			WindowMinutes:   minutes,
			TotalEvents:     counts.TotalEvents,
			Grants:          counts.Grants,
			Denies:          counts.Denies,
			SuspiciousCount: counts.SuspiciousCount,
			DenyRate:        DenyRate(counts.Denies, counts.TotalEvents),
			DistinctBadges:  counts.DistinctBadges,
			DistinctPersons: counts.DistinctPersons,
		})
	}
	if snapshot.Stale {
		metrics.IncQueryStale()
	}
	return snapshot, nil
}

// MinuteSeries returns per-minute points for the trailing lookback. The
// lookback clamps to [60, 1440] minutes.
func (s *KPIService) MinuteSeries(ctx context.Context, tenantID string, lookbackMinutes int) ([]rollup.SeriesPoint, error) {
	if tenantID == "" {
		return nil, errors.New("kpi service: tenant id required")
	}
	if lookbackMinutes < minLookbackMinutes {
		lookbackMinutes = minLookbackMinutes
	}
	if lookbackMinutes > maxLookbackMinutes {
		lookbackMinutes = maxLookbackMinutes
	}
	now := s.clock.Now()
	from := now.Add(-time.Duration(lookbackMinutes) * time.Minute).Truncate(time.Minute)
	return s.reader.MinuteSeries(ctx, tenantID, from, now)
}

// DenyRate is the deny percentage rounded to one decimal. Zero events
// yields zero, never a division error.
func DenyRate(denies, events int64) float64 {
	if events == 0 {
		return 0
	}
	return math.Round(float64(denies)*1000/float64(events)) / 10
}
