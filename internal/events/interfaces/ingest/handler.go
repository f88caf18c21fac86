package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	events "piam-analytics/internal/events/domain"
	"piam-analytics/internal/observability/metrics"
)

// Handler accepts normalized access events from PACS connector collaborators.
type Handler struct {
	store  events.Appender
	logger *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(store events.Appender, logger *log.Logger) (*Handler, error) {
	if store == nil {
		return nil, errors.New("ingest: nil event store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{store: store, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/pacs/events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("ingest: read body error: %v", err)
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	records, err := decodeRecords(body)
	if err != nil {
		h.logger.Printf("ingest: decode error: %v", err)
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(records) == 0 {
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "no events", http.StatusBadRequest)
		return
	}

	accepted := make([]events.AccessEvent, 0, len(records))
	rejected := 0
	for _, record := range records {
		event := record.toEvent()
		if err := event.Validate(); err != nil {
			rejected++
			metrics.IncEventRejected(rejectReason(err))
			h.logger.Printf("ingest: rejected event tenant=%s location=%s: %v", event.TenantID, event.LocationID, err)
			continue
		}
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		accepted = append(accepted, event)
	}

	if len(accepted) > 0 {
		if err := h.store.Append(r.Context(), accepted); err != nil {
			h.logger.Printf("ingest: append error: %v", err)
			metrics.ObserveIngest(metrics.ResultError, time.Since(start))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": len(accepted),
		"rejected": rejected,
	})
}

type eventRecord struct {
	EventID          string          `json:"event_id"`
	TenantID         string          `json:"tenant_id"`
	EventTime        int64           `json:"event_time"`
	PersonID         string          `json:"person_id"`
	BadgeID          string          `json:"badge_id"`
	SiteID           string          `json:"site_id"`
	LocationID       string          `json:"location_id"`
	Direction        string          `json:"direction"`
	Result           string          `json:"result"`
	EventType        string          `json:"event_type"`
	DenyReason       string          `json:"deny_reason"`
	DenyCode         string          `json:"deny_code"`
	SuspiciousFlag   bool            `json:"suspicious_flag"`
	SuspiciousReason string          `json:"suspicious_reason"`
	SuspiciousScore  float64         `json:"suspicious_score"`
	PACSSource       string          `json:"pacs_source"`
	PACSEventID      string          `json:"pacs_event_id"`
	RawPayload       json.RawMessage `json:"raw_payload"`
}

type ingestRequest struct {
	Events []eventRecord `json:"events"`
}

func decodeRecords(body []byte) ([]eventRecord, error) {
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err == nil && len(req.Events) > 0 {
		return req.Events, nil
	}
	var bare []eventRecord
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}

func (r eventRecord) toEvent() events.AccessEvent {
	return events.AccessEvent{
		EventID:          r.EventID,
		TenantID:         r.TenantID,
		EventTime:        parseEventTime(r.EventTime),
		PersonID:         r.PersonID,
		BadgeID:          r.BadgeID,
		SiteID:           r.SiteID,
		LocationID:       r.LocationID,
		Direction:        events.Direction(r.Direction),
		Result:           events.Result(r.Result),
		EventType:        r.EventType,
		DenyReason:       r.DenyReason,
		DenyCode:         r.DenyCode,
		SuspiciousFlag:   r.SuspiciousFlag,
		SuspiciousReason: r.SuspiciousReason,
		SuspiciousScore:  r.SuspiciousScore,
		PACSSource:       r.PACSSource,
		PACSEventID:      r.PACSEventID,
		RawPayload:       []byte(r.RawPayload),
	}
}

// parseEventTime accepts epoch milliseconds or seconds.
func parseEventTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, events.ErrMissingTenant):
		return "missing_tenant"
	case errors.Is(err, events.ErrMissingLocation):
		return "missing_location"
	case errors.Is(err, events.ErrInvalidEventTime):
		return "invalid_event_time"
	case errors.Is(err, events.ErrInvalidResult):
		return "invalid_result"
	default:
		return "malformed"
	}
}
