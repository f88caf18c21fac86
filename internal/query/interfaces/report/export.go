package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	insight "piam-analytics/internal/insights/domain"
)

// Summary is the day-level header of an access report.
type Summary struct {
	TenantID        string
	Day             time.Time
	TotalEvents     int64
	Grants          int64
	Denies          int64
	SuspiciousCount int64
	DenyRate        float64
	DistinctBadges  uint64
	DistinctPersons uint64
}

// HourRow is one location-hour line in the report body.
type HourRow struct {
	HourStart   time.Time
	SiteID      string
	LocationID  string
	TotalEvents int64
	Denies      int64
}

// BuildDailyReportPDF renders a minimal PDF for a daily access report.
func BuildDailyReportPDF(summary Summary, rows []HourRow, insights []insight.Insight) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Daily Access Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Tenant: %s", summary.TenantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Day: %s", summary.Day.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Events: %d", summary.TotalEvents))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Grants: %d", summary.Grants))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Denies: %d", summary.Denies))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Deny Rate (%%): %.1f", summary.DenyRate))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Suspicious: %d", summary.SuspiciousCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Distinct Badges: %d", summary.DistinctBadges))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Distinct Persons: %d", summary.DistinctPersons))
	pdf.Ln(8)

	// Hour table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Hour", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Site", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Location", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Events", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Denies", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.CellFormat(30, 6, row.HourStart.Format("15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, row.SiteID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, row.LocationID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%d", row.TotalEvents), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%d", row.Denies), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(insights) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Current Deny Spikes")
		pdf.Ln(7)
		pdf.CellFormat(50, 6, "Location", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Observed", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Baseline", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Ratio", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, ins := range insights {
			pdf.CellFormat(50, 6, ins.LocationID, "1", 0, "L", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%d", ins.ObservedDenies), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", ins.BaselineMean), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", ins.SpikeRatio), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDailyReportXLSX renders a minimal XLSX for a daily access report.
func BuildDailyReportXLSX(summary Summary, rows []HourRow, insights []insight.Insight) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	hoursSheet := "hours"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(hoursSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Daily Access Report")
	_ = f.SetCellValue(summarySheet, "A3", "Tenant")
	_ = f.SetCellValue(summarySheet, "B3", summary.TenantID)
	_ = f.SetCellValue(summarySheet, "A4", "Day")
	_ = f.SetCellValue(summarySheet, "B4", summary.Day.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "Total Events")
	_ = f.SetCellValue(summarySheet, "B5", summary.TotalEvents)
	_ = f.SetCellValue(summarySheet, "A6", "Grants")
	_ = f.SetCellValue(summarySheet, "B6", summary.Grants)
	_ = f.SetCellValue(summarySheet, "A7", "Denies")
	_ = f.SetCellValue(summarySheet, "B7", summary.Denies)
	_ = f.SetCellValue(summarySheet, "A8", "Deny Rate (%)")
	_ = f.SetCellValue(summarySheet, "B8", summary.DenyRate)
	_ = f.SetCellValue(summarySheet, "A9", "Suspicious")
	_ = f.SetCellValue(summarySheet, "B9", summary.SuspiciousCount)
	_ = f.SetCellValue(summarySheet, "A10", "Distinct Badges")
	_ = f.SetCellValue(summarySheet, "B10", summary.DistinctBadges)
	_ = f.SetCellValue(summarySheet, "A11", "Distinct Persons")
	_ = f.SetCellValue(summarySheet, "B11", summary.DistinctPersons)

	_ = f.SetCellValue(hoursSheet, "A1", "Hour")
	_ = f.SetCellValue(hoursSheet, "B1", "Site")
	_ = f.SetCellValue(hoursSheet, "C1", "Location")
	_ = f.SetCellValue(hoursSheet, "D1", "Events")
	_ = f.SetCellValue(hoursSheet, "E1", "Denies")
	for i, row := range rows {
		line := i + 2
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("A%d", line), row.HourStart.Format("15:04"))
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("B%d", line), row.SiteID)
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("C%d", line), row.LocationID)
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("D%d", line), row.TotalEvents)
		_ = f.SetCellValue(hoursSheet, fmt.Sprintf("E%d", line), row.Denies)
	}

	if len(insights) > 0 {
		insightsSheet := "insights"
		f.NewSheet(insightsSheet)
		_ = f.SetCellValue(insightsSheet, "A1", "Location")
		_ = f.SetCellValue(insightsSheet, "B1", "Observed Denies")
		_ = f.SetCellValue(insightsSheet, "C1", "Baseline Mean")
		_ = f.SetCellValue(insightsSheet, "D1", "Spike Ratio")
		_ = f.SetCellValue(insightsSheet, "E1", "Window Start")
		for i, ins := range insights {
			line := i + 2
			_ = f.SetCellValue(insightsSheet, fmt.Sprintf("A%d", line), ins.LocationID)
			_ = f.SetCellValue(insightsSheet, fmt.Sprintf("B%d", line), ins.ObservedDenies)
			_ = f.SetCellValue(insightsSheet, fmt.Sprintf("C%d", line), ins.BaselineMean)
			_ = f.SetCellValue(insightsSheet, fmt.Sprintf("D%d", line), ins.SpikeRatio)
			_ = f.SetCellValue(insightsSheet, fmt.Sprintf("E%d", line), ins.WindowStart.Format(time.RFC3339))
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
