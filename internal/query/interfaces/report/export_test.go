package report

import (
	"bytes"
	"testing"
	"time"

	insight "piam-analytics/internal/insights/domain"
)

func sampleReport() (Summary, []HourRow, []insight.Insight) {
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	summary := Summary{
		TenantID:        "acme",
		Day:             day,
		TotalEvents:     1200,
		Grants:          1100,
		Denies:          100,
		SuspiciousCount: 3,
		DenyRate:        8.3,
		DistinctBadges:  240,
		DistinctPersons: 230,
	}
	rows := []HourRow{
		{HourStart: day.Add(9 * time.Hour), SiteID: "hq", LocationID: "door-a", TotalEvents: 300, Denies: 12},
		{HourStart: day.Add(10 * time.Hour), SiteID: "hq", LocationID: "door-b", TotalEvents: 280, Denies: 40},
	}
	insights := []insight.Insight{
		{
			TenantID:       "acme",
			SiteID:         "hq",
			LocationID:     "door-b",
			Kind:           insight.KindDenySpike,
			ObservedDenies: 40,
			BaselineMean:   8,
			SpikeRatio:     5,
			WindowStart:    day.Add(10 * time.Hour),
		},
	}
	return summary, rows, insights
}

func TestBuildDailyReportXLSX(t *testing.T) {
	summary, rows, insights := sampleReport()
	data, err := BuildDailyReportXLSX(summary, rows, insights)
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected xlsx bytes")
	}
	// xlsx files are zip archives
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("unexpected xlsx magic: %q", data[:2])
	}
}

func TestBuildDailyReportPDF(t *testing.T) {
	summary, rows, insights := sampleReport()
	data, err := BuildDailyReportPDF(summary, rows, insights)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatal("expected pdf header")
	}
}

func TestBuildDailyReportWithoutInsights(t *testing.T) {
	summary, rows, _ := sampleReport()
	if _, err := BuildDailyReportXLSX(summary, rows, nil); err != nil {
		t.Fatalf("build xlsx without insights: %v", err)
	}
	if _, err := BuildDailyReportPDF(summary, rows, nil); err != nil {
		t.Fatalf("build pdf without insights: %v", err)
	}
}
