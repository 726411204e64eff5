package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	ReportXLSXFile = "inbox_placement_report.xlsx"

	summarySheet = "Summary"
	detailsSheet = "Details"
)

var bandColors = map[domain.Band]string{
	domain.BandGood:    "C6EFCE",
	domain.BandWarning: "FFEB9C",
	domain.BandPoor:    "FFC7CE",
}

// XLSXWriter writes a workbook with a Summary sheet and a per-record Details sheet.
type XLSXWriter struct{}

var _ Writer = XLSXWriter{}

func (XLSXWriter) Write(dir string, doc Document) (string, error) {
	path := filepath.Join(dir, ReportXLSXFile)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return "", fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(detailsSheet); err != nil {
		return "", fmt.Errorf("create details sheet: %w", err)
	}

	styles, err := newStyles(f)
	if err != nil {
		return "", err
	}
	if err := writeSummarySheet(f, styles, doc); err != nil {
		return "", err
	}
	if err := writeDetailsSheet(f, styles, doc.Rows); err != nil {
		return "", err
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

type sheetStyles struct {
	header int
	title  int
	bands  map[domain.Band]int
}

func newStyles(f *excelize.File) (*sheetStyles, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"334D80"}},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16, Color: "334D80"}})
	if err != nil {
		return nil, fmt.Errorf("create title style: %w", err)
	}

	styles := &sheetStyles{header: header, title: title, bands: make(map[domain.Band]int, len(bandColors))}
	for band, color := range bandColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return nil, fmt.Errorf("create %s style: %w", band, err)
		}
		styles.bands[band] = id
	}
	return styles, nil
}

func writeSummarySheet(f *excelize.File, styles *sheetStyles, doc Document) error {
	generated := doc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	s := doc.Summary
	rows := [][]interface{}{
		{doc.Title},
		{"Generated", generated.Format("January 02, 2006 at 15:04")},
		{},
		{"Total Tests", "Completed", "Pending", "Failed"},
		{s.Total, s.Completed, s.Pending, s.Failed},
		{},
		{"Metric", "Rate %", "Band"},
		{"Inbox Rate", percent(s.InboxRate * 100), s.InboxBand().String()},
		{"Spam Rate", percent(s.SpamRate * 100), s.SpamBand().String()},
	}
	for _, p := range sortedProviders(s.PerProvider) {
		stats := s.PerProvider[p]
		rows = append(rows, []interface{}{
			fmt.Sprintf("%s Inbox Rate (%d)", p, stats.SampleCount),
			percent(stats.InboxRate * 100),
			domain.BandFor(stats.InboxRate).String(),
		})
	}

	if err := setRows(f, summarySheet, 1, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", styles.title); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A4", "D4", styles.header); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A7", "C7", styles.header); err != nil {
		return err
	}
	for i := 8; i <= len(rows); i++ {
		cell := fmt.Sprintf("C%d", i)
		band, err := f.GetCellValue(summarySheet, cell)
		if err != nil {
			return err
		}
		if err := applyBand(f, styles, summarySheet, cell, domain.Band(band)); err != nil {
			return err
		}
	}

	if len(doc.Batches) > 0 {
		start := len(rows) + 2
		batchRows := [][]interface{}{{"Batch", "Total", "Completed", "Pending", "Failed", "Inbox Rate %", "Band"}}
		for _, b := range doc.Batches {
			batchRows = append(batchRows, []interface{}{
				b.Name, b.Summary.Total, b.Summary.Completed, b.Summary.Pending, b.Summary.Failed,
				percent(b.Summary.InboxRate * 100), b.Summary.InboxBand().String(),
			})
		}
		if err := setRows(f, summarySheet, start, batchRows); err != nil {
			return err
		}
		if err := f.SetCellStyle(summarySheet, fmt.Sprintf("A%d", start), fmt.Sprintf("G%d", start), styles.header); err != nil {
			return err
		}
		for i, b := range doc.Batches {
			cell := fmt.Sprintf("G%d", start+1+i)
			if err := applyBand(f, styles, summarySheet, cell, b.Summary.InboxBand()); err != nil {
				return err
			}
		}
	}

	return f.SetColWidth(summarySheet, "A", "G", 22)
}

func writeDetailsSheet(f *excelize.File, styles *sheetStyles, rows []Row) error {
	data := [][]interface{}{{
		"Batch", "From Email", "Test UUID", "Status", "Provider", "Outcome", "Overall Score",
		"Inbox Rate %", "Spam Rate %", "Google Inbox Rate %", "Microsoft Inbox Rate %", "Test URL", "Failure",
	}}
	for _, r := range rows {
		data = append(data, []interface{}{
			r.Batch, r.FromEmail, r.TestID, r.Status, r.Provider, r.Outcome, r.OverallScore,
			percent(r.InboxRate), percent(r.SpamRate), percent(r.GoogleInboxRate), percent(r.MicrosoftInboxRate),
			r.TestURL, r.FailureReason,
		})
	}

	if err := setRows(f, detailsSheet, 1, data); err != nil {
		return err
	}
	if err := f.SetCellStyle(detailsSheet, "A1", "M1", styles.header); err != nil {
		return err
	}
	for i, r := range rows {
		if r.Status != domain.StatusCompleted.String() {
			continue
		}
		cell := fmt.Sprintf("H%d", i+2)
		if err := applyBand(f, styles, detailsSheet, cell, domain.BandFor(r.InboxRate/100)); err != nil {
			return err
		}
	}
	return f.SetColWidth(detailsSheet, "A", "M", 20)
}

func setRows(f *excelize.File, sheet string, start int, rows [][]interface{}) error {
	for i := range rows {
		if len(rows[i]) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, start+i, err)
		}
	}
	return nil
}

func applyBand(f *excelize.File, styles *sheetStyles, sheet, cell string, band domain.Band) error {
	id, ok := styles.bands[band]
	if !ok {
		return nil
	}
	return f.SetCellStyle(sheet, cell, cell, id)
}

func sortedProviders(stats map[domain.Provider]domain.ProviderStats) []domain.Provider {
	providers := make([]domain.Provider, 0, len(stats))
	for p := range stats {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
