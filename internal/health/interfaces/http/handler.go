package healthhttp

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	health "piam-analytics/internal/health/domain"
	"piam-analytics/internal/observability/metrics"
)

// ReportHandler serves POST /ingest/pacs/health.
type ReportHandler struct {
	repo   health.Repository
	logger *log.Logger
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(repo health.Repository, logger *log.Logger) *ReportHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ReportHandler{repo: repo, logger: logger}
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var report health.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if report.CheckTime.IsZero() {
		report.CheckTime = time.Now().UTC()
	}
	if err := report.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.Record(r.Context(), report); err != nil {
		h.logger.Printf("health: record report for connector %s: %v", report.ConnectorID, err)
		http.Error(w, "store health report error", http.StatusServiceUnavailable)
		return
	}

	metrics.IncConnectorHealth(string(report.Status))
	w.WriteHeader(http.StatusAccepted)
}

// StatusHandler serves GET /api/v1/connectors/health.
type StatusHandler struct {
	repo   health.Repository
	logger *log.Logger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(repo health.Repository, logger *log.Logger) *StatusHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &StatusHandler{repo: repo, logger: logger}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
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

	reports, err := h.repo.Latest(r.Context(), tenantID)
	if err != nil {
		h.logger.Printf("health: list connectors for tenant %s: %v", tenantID, err)
		http.Error(w, "query connectors error", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []health.Report{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TenantID   string          `json:"tenant_id"`
		Connectors []health.Report `json:"connectors"`
	}{TenantID: tenantID, Connectors: reports})
}
