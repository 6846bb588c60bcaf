package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/example/ctg-triage/internal/usecase"
)

const (
	SummarySheet     = "Summary"
	PredictionsSheet = "Predictions"
	// ContentType is the media type of the rendered workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Dashboard renders the dashboard view as an XLSX workbook with a volume summary, an NSP pie
// chart and the N/S/P history as a line chart.
func Dashboard(view *usecase.DashboardView) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSummary(f, view); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(PredictionsSheet); err != nil {
		return nil, fmt.Errorf("create predictions sheet: %w", err)
	}
	if err := writePredictions(f, view); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func writeSummary(f *excelize.File, view *usecase.DashboardView) error {
	rows := [][]any{
		{"Period", "Scans"},
		{"Daily", view.Daily},
		{"Weekly", view.Weekly},
		{"Monthly", view.Monthly},
		{"Yearly", view.Yearly},
		{},
		{"Outcome", "Cases"},
		{"Normal", view.NSPStats.Normal},
		{"Suspect", view.NSPStats.Suspect},
		{"Pathologic", view.NSPStats.Pathologic},
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	chart := &excelize.Chart{
		Type: excelize.Pie,
		Series: []excelize.ChartSeries{{
			Name:       "NSP",
			Categories: fmt.Sprintf("%s!$A$8:$A$10", SummarySheet),
			Values:     fmt.Sprintf("%s!$B$8:$B$10", SummarySheet),
		}},
		Title: []excelize.RichTextRun{{Text: "NSP distribution"}},
	}
	if err := f.AddChart(SummarySheet, "D2", chart); err != nil {
		return fmt.Errorf("add nsp chart: %w", err)
	}
	return nil
}

func writePredictions(f *excelize.File, view *usecase.DashboardView) error {
	header := []any{"Date", "Normal", "Suspect", "Pathologic"}
	if err := f.SetSheetRow(PredictionsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write predictions header: %w", err)
	}
	for i, p := range view.Predictions {
		row := []any{p.Date, p.N, p.S, p.P}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(PredictionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write prediction row %d: %w", i+2, err)
		}
	}
	if len(view.Predictions) == 0 {
		return nil
	}

	last := len(view.Predictions) + 1
	categories := fmt.Sprintf("%s!$A$2:$A$%d", PredictionsSheet, last)
	series := make([]excelize.ChartSeries, 0, 3)
	for _, col := range []string{"B", "C", "D"} {
		series = append(series, excelize.ChartSeries{
			Name:       fmt.Sprintf("%s!$%s$1", PredictionsSheet, col),
			Categories: categories,
			Values:     fmt.Sprintf("%s!$%s$2:$%s$%d", PredictionsSheet, col, col, last),
		})
	}
	chart := &excelize.Chart{
		Type:   excelize.Line,
		Series: series,
		Title:  []excelize.RichTextRun{{Text: "Predictions over time"}},
	}
	if err := f.AddChart(PredictionsSheet, "F2", chart); err != nil {
		return fmt.Errorf("add predictions chart: %w", err)
	}
	return nil
}
