package report

import (
	"context"
	"net/http"
	"time"

	insightapp "piam-analytics/internal/insights/application"
	insight "piam-analytics/internal/insights/domain"
	"piam-analytics/internal/observability/metrics"
	queryapp "piam-analytics/internal/query/application"
	rollup "piam-analytics/internal/rollup/domain"
)

// HourSource reads hour rollups for the report body.
type HourSource interface {
	ListHourCounts(ctx context.Context, from, to time.Time) ([]rollup.HourCount, error)
}

// Handler serves GET /api/v1/reports/daily as xlsx or pdf.
type Handler struct {
	reader queryapp.RollupReader
	hours  HourSource
	feed   *insightapp.Feed
}

// NewHandler constructs a report handler. The feed may be nil, in which
// case reports carry no spike section.
func NewHandler(reader queryapp.RollupReader, hours HourSource, feed *insightapp.Feed) *Handler {
	return &Handler{reader: reader, hours: hours, feed: feed}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil || h.hours == nil {
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

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed.UTC()
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReportExport(format, result, time.Since(start))
	}()

	summary, rows, err := h.assemble(r.Context(), tenantID, day)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "report query error", http.StatusInternalServerError)
		return
	}

	var insights []insight.Insight
	if h.feed != nil {
		insights = h.feed.List(tenantID, time.Now().UTC())
	}

	var data []byte
	var contentType string
	switch format {
	case "pdf":
		data, err = BuildDailyReportPDF(summary, rows, insights)
		contentType = "application/pdf"
	default:
		data, err = BuildDailyReportXLSX(summary, rows, insights)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "report render error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) assemble(ctx context.Context, tenantID string, day time.Time) (Summary, []HourRow, error) {
	dayEnd := day.Add(24 * time.Hour)

	counts, err := h.reader.SumWindow(ctx, tenantID, rollup.GranularityHour, day, dayEnd)
	if err != nil {
		return Summary{}, nil, err
	}
	hourCounts, err := h.hours.ListHourCounts(ctx, day, dayEnd)
	if err != nil {
		return Summary{}, nil, err
	}

	summary := Summary{
		TenantID:        tenantID,
		Day:             day,
		TotalEvents:     counts.TotalEvents,
		Grants:          counts.Grants,
		Denies:          counts.Denies,
		SuspiciousCount: counts.SuspiciousCount,
		DenyRate:        queryapp.DenyRate(counts.Denies, counts.TotalEvents),
		DistinctBadges:  counts.DistinctBadges,
		DistinctPersons: counts.DistinctPersons,
	}

	var rows []HourRow
	for _, count := range hourCounts {
		if count.TenantID != tenantID {
			continue
		}
		rows = append(rows, HourRow{
			HourStart:   count.BucketStart,
			SiteID:      count.SiteID,
			LocationID:  count.LocationID,
			TotalEvents: count.TotalEvents,
			Denies:      count.Denies,
		})
	}
	return summary, rows, nil
}
