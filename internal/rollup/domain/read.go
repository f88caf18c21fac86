package rollup

import "time"

// HourCount is the read model for hour buckets consumed by the baseline
// calculator and the anomaly detector.
type HourCount struct {
	TenantID    string
	SiteID      string
	LocationID  string
	BucketStart time.Time
	TotalEvents int64
	Denies      int64
}

// SeriesPoint is one minute of the dashboard time series.
type SeriesPoint struct {
	BucketStart     time.Time `json:"minute"`
	TotalEvents     int64     `json:"total_events"`
	Grants          int64     `json:"grants"`
	Denies          int64     `json:"denies"`
	SuspiciousCount int64     `json:"suspicious"`
}
