package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	baselineapp "piam-analytics/internal/baseline/application"
	baselinehttp "piam-analytics/internal/baseline/interfaces/http"
	baselinerepo "piam-analytics/internal/baseline/infrastructure/postgres"
	eventsrepo "piam-analytics/internal/events/infrastructure/postgres"
	"piam-analytics/internal/events/interfaces/audit"
	"piam-analytics/internal/events/interfaces/ingest"
	healthrepo "piam-analytics/internal/health/infrastructure/postgres"
	healthhttp "piam-analytics/internal/health/interfaces/http"
	insightapp "piam-analytics/internal/insights/application"
	insightrepo "piam-analytics/internal/insights/infrastructure/postgres"
	"piam-analytics/internal/observability/metrics"
	queryapp "piam-analytics/internal/query/application"
	queryhttp "piam-analytics/internal/query/interfaces/http"
	"piam-analytics/internal/query/interfaces/report"
	rollupapp "piam-analytics/internal/rollup/application"
	rolluprepo "piam-analytics/internal/rollup/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	eventStore := eventsrepo.NewEventStore(db)
	rollupRepo := rolluprepo.NewRollupRepository(db)
	rollupQuery := rolluprepo.NewRollupQuery(db)
	baselineRepo := baselinerepo.NewBaselineRepository(db)
	insightRepo := insightrepo.NewInsightRepository(db)
	healthRepo := healthrepo.NewHealthRepository(db)

	aggregator, err := rollupapp.NewAggregator(eventStore, rollupRepo, logger,
		rollupapp.WithBatchSize(cfg.AggregatorBatchSize),
		rollupapp.WithWorkers(cfg.AggregatorWorkers),
		rollupapp.WithGrace(cfg.RollupGraceMinute, cfg.RollupGraceHour),
		rollupapp.WithDedupRetention(cfg.RollupDedupRetention),
		rollupapp.WithBatchDeadline(cfg.RollupBatchDeadline),
	)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}
	go func() {
		failures := 0
		for {
			time.Sleep(backoffDelay(cfg.AggregatorPoll, failures))
			if err := aggregator.RunOnce(context.Background()); err != nil {
				failures++
				logger.Printf("aggregator run error (attempt %d): %v", failures, err)
				continue
			}
			failures = 0
		}
	}()

	calculator, err := baselineapp.NewCalculator(rollupQuery, baselineRepo, logger,
		baselineapp.WithTrailingWeeks(cfg.BaselineTrailingWeeks),
	)
	if err != nil {
		logger.Fatalf("baseline calculator error: %v", err)
	}
	go runDailyAt(cfg.BaselineDailyAt, logger, func(ctx context.Context) {
		if _, err := calculator.Recompute(ctx); err != nil {
			logger.Printf("baseline recompute error: %v", err)
		}
	})

	insightCfg, err := insightapp.LoadConfig()
	if err != nil {
		logger.Fatalf("insights config error: %v", err)
	}
	feed := insightapp.NewFeed(insightCfg.FeedTTL())
	detector, err := insightapp.NewDetector(rollupQuery, baselineRepo, feed, insightCfg, logger,
		insightapp.WithRecorder(insightRepo),
	)
	if err != nil {
		logger.Fatalf("insights detector error: %v", err)
	}
	go detector.Run(context.Background())

	kpiService, err := queryapp.NewKPIService(rollupQuery, logger)
	if err != nil {
		logger.Fatalf("kpi service error: %v", err)
	}

	ingestHandler, err := ingest.NewHandler(eventStore, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ingest/pacs/events", ingestHandler)
	mux.Handle("/ingest/pacs/health", healthhttp.NewReportHandler(healthRepo, logger))
	mux.Handle("/api/v1/kpi", queryhttp.NewKPIHandler(kpiService))
	mux.Handle("/api/v1/timeseries", queryhttp.NewTimeseriesHandler(kpiService))
	mux.Handle("/api/v1/insights", queryhttp.NewInsightsHandler(feed))
	mux.Handle("/api/v1/insights/history", queryhttp.NewInsightHistoryHandler(insightRepo))
	mux.Handle("/api/v1/events", audit.NewHandler(eventStore, logger))
	mux.Handle("/api/v1/connectors/health", healthhttp.NewStatusHandler(healthRepo, logger))
	mux.Handle("/api/v1/reports/daily", report.NewHandler(rollupQuery, rollupQuery, feed))
	mux.Handle("/api/v1/baselines/recompute", baselinehttp.NewRecomputeHandler(calculator, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL           string
	HTTPAddr              string
	AggregatorPoll        time.Duration
	AggregatorBatchSize   int
	AggregatorWorkers     int
	RollupGraceMinute     time.Duration
	RollupGraceHour       time.Duration
	RollupDedupRetention  time.Duration
	RollupBatchDeadline   time.Duration
	BaselineTrailingWeeks int
	BaselineDailyAt       string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:           getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:              getenvDefault("HTTP_ADDR", ":8080"),
		AggregatorPoll:        getenvDuration("AGGREGATOR_POLL_INTERVAL", 2*time.Second),
		AggregatorBatchSize:   getenvIntDefault("AGGREGATOR_BATCH_SIZE", 500),
		AggregatorWorkers:     getenvIntDefault("AGGREGATOR_WORKERS", 4),
		RollupGraceMinute:     getenvDuration("ROLLUP_GRACE_MINUTE", 2*time.Minute),
		RollupGraceHour:       getenvDuration("ROLLUP_GRACE_HOUR", 10*time.Minute),
		RollupDedupRetention:  getenvDuration("ROLLUP_DEDUP_RETENTION", 2*time.Hour),
		RollupBatchDeadline:   getenvDuration("ROLLUP_BATCH_DEADLINE", 5*time.Second),
		BaselineTrailingWeeks: getenvIntDefault("BASELINE_TRAILING_WEEKS", 4),
		BaselineDailyAt:       getenvDefault("BASELINE_DAILY_AT", "02:30"),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

const maxAggregatorBackoff = time.Minute

// backoffDelay returns the wait before the next aggregator run: the base
// poll interval, doubled per consecutive failure, capped at one minute.
func backoffDelay(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxAggregatorBackoff {
			return maxAggregatorBackoff
		}
	}
	return delay
}

// runDailyAt invokes fn once per day at the given HH:MM wall time (UTC).
func runDailyAt(dailyAt string, logger *log.Logger, fn func(context.Context)) {
	at, err := time.Parse("15:04", dailyAt)
	if err != nil {
		logger.Printf("invalid daily schedule %q, using 02:30", dailyAt)
		at, _ = time.Parse("15:04", "02:30")
	}
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		time.Sleep(next.Sub(now))
		fn(context.Background())
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
