package queryhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	insightapp "piam-analytics/internal/insights/application"
	insight "piam-analytics/internal/insights/domain"
	"piam-analytics/internal/observability/metrics"
	queryapp "piam-analytics/internal/query/application"
	rollup "piam-analytics/internal/rollup/domain"
)

// tenantParam reads the tenant from the query string, accepting both the
// short form and the column-name form connectors tend to send.
func tenantParam(r *http.Request) string {
	if tenant := r.URL.Query().Get("tenant"); tenant != "" {
		return tenant
	}
	return r.URL.Query().Get("tenant_id")
}

// KPIHandler serves GET /api/v1/kpi.
type KPIHandler struct {
	service *queryapp.KPIService
}

// NewKPIHandler constructs a KPIHandler.
func NewKPIHandler(service *queryapp.KPIService) *KPIHandler {
	return &KPIHandler{service: service}
}

func (h *KPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := tenantParam(r)
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	snapshot, err := h.service.Snapshot(r.Context(), tenantID)
	if err != nil {
		metrics.ObserveQuery("kpi", metrics.ResultError, time.Since(start))
		http.Error(w, "query kpi error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveQuery("kpi", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// TimeseriesHandler serves GET /api/v1/timeseries.
type TimeseriesHandler struct {
	service *queryapp.KPIService
}

// NewTimeseriesHandler constructs a TimeseriesHandler.
func NewTimeseriesHandler(service *queryapp.KPIService) *TimeseriesHandler {
	return &TimeseriesHandler{service: service}
}

func (h *TimeseriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := tenantParam(r)
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	lookback := 60
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "minutes must be an integer", http.StatusBadRequest)
			return
		}
		lookback = parsed
	}

	points, err := h.service.MinuteSeries(r.Context(), tenantID, lookback)
	if err != nil {
		metrics.ObserveQuery("timeseries", metrics.ResultError, time.Since(start))
		http.Error(w, "query timeseries error", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []rollup.SeriesPoint{}
	}

	metrics.ObserveQuery("timeseries", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TenantID string               `json:"tenant_id"`
		Points   []rollup.SeriesPoint `json:"points"`
	}{TenantID: tenantID, Points: points})
}

// InsightsHandler serves GET /api/v1/insights from the in-memory feed.
type InsightsHandler struct {
	feed *insightapp.Feed
}

// NewInsightsHandler constructs an InsightsHandler.
func NewInsightsHandler(feed *insightapp.Feed) *InsightsHandler {
	return &InsightsHandler{feed: feed}
}

func (h *InsightsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.feed == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := tenantParam(r)
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	insights := h.feed.List(tenantID, time.Now().UTC())
	if insights == nil {
		insights = []insight.Insight{}
	}

	metrics.ObserveQuery("insights", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TenantID string            `json:"tenant_id"`
		Insights []insight.Insight `json:"insights"`
	}{TenantID: tenantID, Insights: insights})
}

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 168
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistorySource reads persisted detections for the drill-down.
type HistorySource interface {
	ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]insight.Insight, error)
}

// InsightHistoryHandler serves GET /api/v1/insights/history from the
// detection history table.
type InsightHistoryHandler struct {
	source HistorySource
}

// NewInsightHistoryHandler constructs an InsightHistoryHandler.
func NewInsightHistoryHandler(source HistorySource) *InsightHistoryHandler {
	return &InsightHistoryHandler{source: source}
}

func (h *InsightHistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.source == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	tenantID := tenantParam(r)
	if tenantID == "" {
		http.Error(w, "tenant is required", http.StatusBadRequest)
		return
	}

	hours := defaultHistoryHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "hours must be an integer", http.StatusBadRequest)
			return
		}
		hours = parsed
	}
	if hours < 1 {
		hours = 1
	}
	if hours > maxHistoryHours {
		hours = maxHistoryHours
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	insights, err := h.source.ListRecent(r.Context(), tenantID, since, limit)
	if err != nil {
		metrics.ObserveQuery("insight_history", metrics.ResultError, time.Since(start))
		http.Error(w, "query insight history error", http.StatusInternalServerError)
		return
	}
	if insights == nil {
		insights = []insight.Insight{}
	}

	metrics.ObserveQuery("insight_history", metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TenantID string            `json:"tenant_id"`
		Since    time.Time         `json:"since"`
		Insights []insight.Insight `json:"insights"`
	}{TenantID: tenantID, Since: since, Insights: insights})
}
