package events

import (
	"context"
	"time"
)

// Result is the terminal outcome of an access attempt.
type Result string

const (
	ResultGrant Result = "grant"
	ResultDeny  Result = "deny"
)

// Direction is the side of the portal the credential was presented on.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// AccessEvent is a normalized PACS event. Produced externally, immutable here.
type AccessEvent struct {
	EventID    string
	TenantID   string
	EventTime  time.Time
	PersonID   string
	BadgeID    string
	SiteID     string
	LocationID string
	Direction  Direction
	Result     Result
	EventType  string

	DenyReason string
	DenyCode   string

	SuspiciousFlag   bool
	SuspiciousReason string
	SuspiciousScore  float64

	PACSSource  string
	PACSEventID string
	RawPayload  []byte
}

// Validate enforces ingest invariants. Events failing validation are
// rejected and counted, never retried.
func (e AccessEvent) Validate() error {
	if e.TenantID == "" {
		return ErrMissingTenant
	}
	if e.LocationID == "" {
		return ErrMissingLocation
	}
	if e.EventTime.IsZero() {
		return ErrInvalidEventTime
	}
	switch e.Result {
	case ResultGrant, ResultDeny:
	default:
		return ErrInvalidResult
	}
	return nil
}

// StoredEvent is an event as read back from the store, with its append
// sequence. Sequence order is the replay order for aggregation.
type StoredEvent struct {
	Seq   int64
	Event AccessEvent
}

// Appender appends normalized events to the store.
type Appender interface {
	Append(ctx context.Context, batch []AccessEvent) error
}

// Scanner reads raw events by tenant and time range. Audit/evidence
// drill-down only; the windowed query path never uses it.
type Scanner interface {
	ScanRange(ctx context.Context, tenantID string, from, to time.Time) ([]AccessEvent, error)
}

// StreamReader reads events in append order for the aggregator.
type StreamReader interface {
	// ReadBatch returns up to limit events for the partition with a
	// sequence strictly greater than afterSeq, oldest first.
	ReadBatch(ctx context.Context, partition string, afterSeq int64, limit int) ([]StoredEvent, error)
	// ListPartitions returns partition keys that have events past the
	// given per-partition cursors.
	ListPartitions(ctx context.Context) ([]string, error)
}
