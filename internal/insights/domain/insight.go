package insight

import (
	"sort"
	"time"
)

// Kind classifies an insight.
type Kind string

// KindDenySpike flags deny volume above the location's weekly baseline.
const KindDenySpike Kind = "deny-spike"

// Insight is one ranked spike record. Each detection cycle produces a
// fresh list; records are superseded rather than updated.
type Insight struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SiteID         string    `json:"site_id"`
	LocationID     string    `json:"location_id"`
	Kind           Kind      `json:"kind"`
	ObservedDenies int64     `json:"observed_denies"`
	BaselineMean   float64   `json:"baseline_mean"`
	SpikeRatio     float64   `json:"spike_ratio"`
	WindowStart    time.Time `json:"window_start"`
	DetectedAt     time.Time `json:"detected_at"`
}

// SpikeRatio is observed over baseline mean; with no usable mean the
// observed count itself is the ratio.
func SpikeRatio(observed int64, mean float64) float64 {
	if mean <= 0 {
		return float64(observed)
	}
	return float64(observed) / mean
}

// ShouldFire applies the firing condition: the absolute floor suppresses
// ratio noise at low-volume doors, the multiplier suppresses normal
// variation at busy ones. Both must pass.
func ShouldFire(observed int64, mean float64, minAbsolute int64, multiplier float64) bool {
	if observed < minAbsolute {
		return false
	}
	if mean <= 0 {
		return true
	}
	return float64(observed) > mean*multiplier
}

// Rank orders insights by observed denies descending: ten denials at a
// quiet door outrank a 2x ratio at a one-denial-per-hour door. Ratio and
// location id break ties for a stable order.
func Rank(insights []Insight) {
	sort.Slice(insights, func(i, j int) bool {
		if insights[i].ObservedDenies != insights[j].ObservedDenies {
			return insights[i].ObservedDenies > insights[j].ObservedDenies
		}
		if insights[i].SpikeRatio != insights[j].SpikeRatio {
			return insights[i].SpikeRatio > insights[j].SpikeRatio
		}
		return insights[i].LocationID < insights[j].LocationID
	})
}
