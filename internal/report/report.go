package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/provider"
)

// Writer renders a report document into dir and returns the written file path.
type Writer interface {
	Write(dir string, doc Document) (string, error)
}

// Document is everything a rendered report shows.
type Document struct {
	Title       string
	GeneratedAt time.Time
	Summary     domain.Summary
	// Batches is set for customer-wide reports.
	Batches []BatchLine
	Rows    []Row
}

type BatchLine struct {
	Name    string
	Summary domain.Summary
}

// Row is the per-record detail line. Rates are percentages over the seed
// mailboxes that received the probe.
type Row struct {
	Batch              string
	FromEmail          string
	TestID             string
	Status             string
	Provider           string
	Outcome            string
	OverallScore       string
	InboxRate          float64
	SpamRate           float64
	GoogleInboxRate    float64
	MicrosoftInboxRate float64
	TestURL            string
	FailureReason      string
}

// RowsFromRecords builds detail rows from stored records, reading seed level
// rates from the retained raw payload when there is one.
func RowsFromRecords(batch string, records []domain.TestRecord) []Row {
	rows := make([]Row, 0, len(records))
	for i := range records {
		record := records[i]
		row := Row{
			Batch:     batch,
			FromEmail: record.Account.FromEmail,
			TestID:    record.TestID(),
			Status:    record.Status.String(),
		}
		if record.Submission != nil {
			row.TestURL = record.Submission.TestURL
		}
		if record.Failure != nil {
			row.FailureReason = record.Failure.Reason
		}
		if record.Result != nil {
			row.Provider = record.Result.Provider.String()
			row.Outcome = record.Result.Outcome.String()
			fillSeedStats(&row, record.Result.Raw)
		}
		rows = append(rows, row)
	}
	return rows
}

func fillSeedStats(row *Row, raw []byte) {
	if len(raw) == 0 {
		return
	}
	result, err := provider.ParseTestResult(raw)
	if err != nil {
		return
	}
	if result.OverallScore != nil {
		row.OverallScore = fmt.Sprintf("%g", *result.OverallScore)
	}

	stats := result.Stats()
	row.InboxRate = stats.InboxRate * 100
	row.SpamRate = stats.SpamRate * 100
	row.GoogleInboxRate = stats.ProviderInbox[domain.ProviderGoogle] * 100
	row.MicrosoftInboxRate = stats.ProviderInbox[domain.ProviderMicrosoft] * 100
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f", rate)
}

// DefaultTitle names a report after its customer and optional batch.
func DefaultTitle(customer, batch string) string {
	parts := []string{"Email Inbox Placement Report", customer}
	if strings.TrimSpace(batch) != "" {
		parts = append(parts, batch)
	}
	return strings.Join(parts, " - ")
}
