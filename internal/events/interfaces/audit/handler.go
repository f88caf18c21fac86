package audit

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	events "piam-analytics/internal/events/domain"
	"piam-analytics/internal/observability/metrics"
)

const maxScanWindow = 24 * time.Hour

// Handler serves GET /api/v1/events: raw event drill-down for audit and
// evidence review. Reads the event store directly; the windowed KPI path
// never goes through here.
type Handler struct {
	scanner events.Scanner
	logger  *log.Logger
}

// NewHandler constructs an audit handler.
func NewHandler(scanner events.Scanner, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{scanner: scanner, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.scanner == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	to := time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		to = parsed.UTC()
	}
	from := to.Add(-time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = parsed.UTC()
	}
	if !from.Before(to) {
		http.Error(w, "from must precede to", http.StatusBadRequest)
		return
	}
	if to.Sub(from) > maxScanWindow {
		from = to.Add(-maxScanWindow)
	}

	scanned, err := h.scanner.ScanRange(r.Context(), tenantID, from, to)
	if err != nil {
		h.logger.Printf("audit: scan tenant=%s: %v", tenantID, err)
		metrics.ObserveQuery("events", metrics.ResultError, time.Since(start))
		http.Error(w, "scan events error", http.StatusInternalServerError)
		return
	}

	records := make([]eventRecord, 0, len(scanned))
	for _, event := range scanned {
		records = append(records, toRecord(event))
	}

	metrics.ObserveQuery("events", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TenantID string        `json:"tenant_id"`
		From     time.Time     `json:"from"`
		To       time.Time     `json:"to"`
		Events   []eventRecord `json:"events"`
	}{TenantID: tenantID, From: from, To: to, Events: records})
}

type eventRecord struct {
	EventID          string  `json:"event_id"`
	TenantID         string  `json:"tenant_id"`
	EventTime        string  `json:"event_time"`
	PersonID         string  `json:"person_id,omitempty"`
	BadgeID          string  `json:"badge_id"`
	SiteID           string  `json:"site_id"`
	LocationID       string  `json:"location_id"`
	Direction        string  `json:"direction,omitempty"`
	Result           string  `json:"result"`
	EventType        string  `json:"event_type,omitempty"`
	DenyReason       string  `json:"deny_reason,omitempty"`
	DenyCode         string  `json:"deny_code,omitempty"`
	SuspiciousFlag   bool    `json:"suspicious_flag"`
	SuspiciousReason string  `json:"suspicious_reason,omitempty"`
	SuspiciousScore  float64 `json:"suspicious_score,omitempty"`
	PACSSource       string  `json:"pacs_source,omitempty"`
	PACSEventID      string  `json:"pacs_event_id,omitempty"`
}

func toRecord(event events.AccessEvent) eventRecord {
	return eventRecord{
		EventID:          event.EventID,
		TenantID:         event.TenantID,
		EventTime:        event.EventTime.UTC().Format(time.RFC3339Nano),
		PersonID:         event.PersonID,
		BadgeID:          event.BadgeID,
		SiteID:           event.SiteID,
		LocationID:       event.LocationID,
		Direction:        string(event.Direction),
		Result:           string(event.Result),
		EventType:        event.EventType,
		DenyReason:       event.DenyReason,
		DenyCode:         event.DenyCode,
		SuspiciousFlag:   event.SuspiciousFlag,
		SuspiciousReason: event.SuspiciousReason,
		SuspiciousScore:  event.SuspiciousScore,
		PACSSource:       event.PACSSource,
		PACSEventID:      event.PACSEventID,
	}
}
