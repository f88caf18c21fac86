package health

import (
	"context"
	"errors"
	"time"
)

// Status is a connector's self-reported condition.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// IsValid reports whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusOffline:
		return true
	}
	return false
}

// Report is one heartbeat from a PACS connector. Reports append; the
// latest per connector is the current condition.
type Report struct {
	TenantID        string    `json:"tenant_id"`
	ConnectorID     string    `json:"connector_id"`
	ConnectorName   string    `json:"connector_name,omitempty"`
	PACSType        string    `json:"pacs_type,omitempty"`
	PACSVersion     string    `json:"pacs_version,omitempty"`
	CheckTime       time.Time `json:"check_time"`
	Status          Status    `json:"status"`
	LatencyMS       int64     `json:"latency_ms"`
	EventsPerMinute float64   `json:"events_per_minute"`
	ErrorCount1h    int64     `json:"error_count_1h"`
	LastEventTime   time.Time `json:"last_event_time,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
}

// Validate checks required fields.
func (r Report) Validate() error {
	if r.TenantID == "" {
		return ErrMissingTenant
	}
	if r.ConnectorID == "" {
		return ErrMissingConnector
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

var (
	ErrMissingTenant    = errors.New("health: tenant_id required")
	ErrMissingConnector = errors.New("health: connector_id required")
	ErrInvalidStatus    = errors.New("health: status must be healthy, degraded or offline")
)

// Repository stores connector health reports.
type Repository interface {
	Record(ctx context.Context, report Report) error
	Latest(ctx context.Context, tenantID string) ([]Report, error)
}
