package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const ResultsCSVFile = "inbox_placement_results.csv"

var csvHeader = []string{
	"from_email", "test_uuid", "status", "overall_score", "inbox_rate_%",
	"spam_rate_%", "google_inbox_rate_%", "microsoft_inbox_rate_%", "test_url",
}

// CSVWriter writes the per-record results file.
type CSVWriter struct{}

var _ Writer = CSVWriter{}

func (CSVWriter) Write(dir string, doc Document) (string, error) {
	path := filepath.Join(dir, ResultsCSVFile)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, doc.Rows); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := writer.Write([]string{
			r.FromEmail, r.TestID, r.Status, r.OverallScore,
			percent(r.InboxRate), percent(r.SpamRate),
			percent(r.GoogleInboxRate), percent(r.MicrosoftInboxRate),
			r.TestURL,
		}); err != nil {
			return fmt.Errorf("write csv row for %s: %w", r.FromEmail, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
