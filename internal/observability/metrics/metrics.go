package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "piam_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	eventsRejected *prometheus.CounterVec
	eventsDropped  prometheus.Counter

	aggregatorBatches *prometheus.CounterVec
	aggregatorApplied prometheus.Counter
	aggregatorLatency *prometheus.HistogramVec
	eventsDuplicate   prometheus.Counter
	eventsLate        *prometheus.CounterVec

	baselineRuns    *prometheus.CounterVec
	baselineRows    prometheus.Gauge
	baselineLatency *prometheus.HistogramVec

	detectionCycles  *prometheus.CounterVec
	insightsEmitted  prometheus.Counter
	detectionLatency *prometheus.HistogramVec

	queryRequests *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	queryStale    prometheus.Counter

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec

	connectorHealthTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		eventsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_rejected_total",
				Help: "Total rejected events by reason",
			},
			[]string{"reason"},
		)
		eventsDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_dropped_total",
				Help: "Total events dropped past the late horizon",
			},
		)

		aggregatorBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregator_batches_total",
				Help: "Total aggregator batches by result",
			},
			[]string{"result"},
		)
		aggregatorApplied = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregator_events_applied_total",
				Help: "Total events applied to rollup buckets",
			},
		)
		aggregatorLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregator_batch_latency_seconds",
				Help:    "Aggregator batch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		eventsDuplicate = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_duplicate_total",
				Help: "Total events skipped by the dedup index",
			},
		)
		eventsLate = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_late_total",
				Help: "Total late events by granularity and disposition",
			},
			[]string{"granularity", "disposition"},
		)

		baselineRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "baseline_runs_total",
				Help: "Total baseline recompute runs by result",
			},
			[]string{"result"},
		)
		baselineRows = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "baseline_rows",
				Help: "Baseline rows written by the last successful recompute",
			},
		)
		baselineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "baseline_run_latency_seconds",
				Help:    "Baseline recompute latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		detectionCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "detection_cycles_total",
				Help: "Total detection cycles by result",
			},
			[]string{"result"},
		)
		insightsEmitted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "insights_emitted_total",
				Help: "Total deny-spike insights emitted",
			},
		)
		detectionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "detection_cycle_latency_seconds",
				Help:    "Detection cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total KPI query requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "KPI query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		)
		queryStale = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_stale_responses_total",
				Help: "Total KPI responses served with the stale flag set",
			},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		connectorHealthTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connector_health_reports_total",
				Help: "Total connector health reports by status",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			eventsRejected,
			eventsDropped,
			aggregatorBatches,
			aggregatorApplied,
			aggregatorLatency,
			eventsDuplicate,
			eventsLate,
			baselineRuns,
			baselineRows,
			baselineLatency,
			detectionCycles,
			insightsEmitted,
			detectionLatency,
			queryRequests,
			queryLatency,
			queryStale,
			reportExportTotal,
			reportExportLatency,
			connectorHealthTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_open_connections",
				Help: "Open connections in the database pool",
			},
			func() float64 { return float64(db.Stats().OpenConnections) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_in_use_connections",
				Help: "In-use connections in the database pool",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
	}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil && logger != nil {
			logger.Printf("metrics: register db collector: %v", err)
		}
	}
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncEventRejected increments the rejected-event counter.
func IncEventRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if eventsRejected != nil {
		eventsRejected.WithLabelValues(reason).Inc()
	}
}

// IncEventDuplicate increments the dedup-skip counter.
func IncEventDuplicate() {
	if eventsDuplicate != nil {
		eventsDuplicate.Inc()
	}
}

// IncLateEvent increments the late-event counter. Disposition is
// "routed" when the event folded into the oldest open bucket and
// "dropped" when it fell past the late horizon.
func IncLateEvent(granularity, disposition string) {
	if granularity == "" {
		granularity = "unknown"
	}
	if disposition == "" {
		disposition = "unknown"
	}
	if eventsLate != nil {
		eventsLate.WithLabelValues(granularity, disposition).Inc()
	}
	if disposition == "dropped" && eventsDropped != nil {
		eventsDropped.Inc()
	}
}

// ObserveAggregatorBatch records a processed batch.
func ObserveAggregatorBatch(result string, applied int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if aggregatorBatches != nil {
		aggregatorBatches.WithLabelValues(result).Inc()
	}
	if applied > 0 && aggregatorApplied != nil {
		aggregatorApplied.Add(float64(applied))
	}
	if aggregatorLatency != nil {
		aggregatorLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveBaselineRun records a baseline recompute run.
func ObserveBaselineRun(result string, count int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if baselineRuns != nil {
		baselineRuns.WithLabelValues(result).Inc()
	}
	if result == resultSuccess && baselineRows != nil {
		baselineRows.Set(float64(count))
	}
	if baselineLatency != nil {
		baselineLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveDetectionCycle records a detection cycle result.
func ObserveDetectionCycle(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if detectionCycles != nil {
		detectionCycles.WithLabelValues(result).Inc()
	}
	if result != resultSkipped && detectionLatency != nil {
		detectionLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddInsightsEmitted increments the emitted-insight counter by count.
func AddInsightsEmitted(count int) {
	if count <= 0 {
		return
	}
	if insightsEmitted != nil {
		insightsEmitted.Add(float64(count))
	}
}

// ObserveQuery records a KPI query request.
func ObserveQuery(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(endpoint, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	}
}

// IncQueryStale increments the stale-response counter.
func IncQueryStale() {
	if queryStale != nil {
		queryStale.Inc()
	}
}

// ObserveReportExport records report export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncConnectorHealth increments the connector health report counter.
func IncConnectorHealth(status string) {
	if status == "" {
		status = "unknown"
	}
	if connectorHealthTotal != nil {
		connectorHealthTotal.WithLabelValues(status).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
