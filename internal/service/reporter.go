package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/report"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"github.com/kursadbilgin/placement-engine/internal/storage"
	"go.uber.org/zap"
)

// NamedSummary is one batch's summary inside a customer report.
type NamedSummary struct {
	Batch   string
	Summary domain.Summary
}

// CustomerSummary holds per-batch summaries plus one aggregate computed over
// the union of all the customer's records.
type CustomerSummary struct {
	Customer  string
	Batches   []NamedSummary
	Aggregate domain.Summary
}

// Reporter aggregates stored results and hands them to report writers.
type Reporter struct {
	store   repository.BatchStore
	paths   *storage.Paths
	writers []report.Writer
	logger  *zap.Logger
	now     func() time.Time
}

// NewReporter builds a Reporter. paths may be nil when exports are not needed.
func NewReporter(store repository.BatchStore, paths *storage.Paths, writers []report.Writer, logger *zap.Logger) (*Reporter, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if len(writers) == 0 {
		writers = []report.Writer{report.CSVWriter{}, report.XLSXWriter{}}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reporter{
		store:   store,
		paths:   paths,
		writers: writers,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (r *Reporter) Summarize(ctx context.Context, customer, name string) (*domain.Summary, error) {
	_, records, err := r.load(ctx, customer, name)
	if err != nil {
		return nil, err
	}
	summary := domain.Summarize(records)
	return &summary, nil
}

func (r *Reporter) SummarizeCustomer(ctx context.Context, customer string) (*CustomerSummary, error) {
	result, _, err := r.customerRecords(ctx, customer)
	return result, err
}

// Export writes the batch report with every configured writer into the
// batch's directory and returns the written paths.
func (r *Reporter) Export(ctx context.Context, customer, name string) ([]string, error) {
	if r.paths == nil {
		return nil, fmt.Errorf("storage paths are not configured")
	}

	batch, records, err := r.load(ctx, customer, name)
	if err != nil {
		return nil, err
	}
	dir, err := r.paths.BatchDir(batch.Customer, batch.Name)
	if err != nil {
		return nil, err
	}

	return r.write(dir, report.Document{
		Title:       report.DefaultTitle(batch.Customer, batch.Name),
		GeneratedAt: r.now(),
		Summary:     domain.Summarize(records),
		Rows:        report.RowsFromRecords(batch.Name, records),
	})
}

// ExportCustomer writes the combined report for all of a customer's batches.
func (r *Reporter) ExportCustomer(ctx context.Context, customer string) ([]string, error) {
	if r.paths == nil {
		return nil, fmt.Errorf("storage paths are not configured")
	}

	summary, rows, err := r.customerRecords(ctx, customer)
	if err != nil {
		return nil, err
	}
	dir, err := r.paths.CustomerDir(customer)
	if err != nil {
		return nil, err
	}

	lines := make([]report.BatchLine, 0, len(summary.Batches))
	for _, b := range summary.Batches {
		lines = append(lines, report.BatchLine{Name: b.Batch, Summary: b.Summary})
	}

	return r.write(dir, report.Document{
		Title:       report.DefaultTitle(customer, ""),
		GeneratedAt: r.now(),
		Summary:     summary.Aggregate,
		Batches:     lines,
		Rows:        rows,
	})
}

func (r *Reporter) load(ctx context.Context, customer, name string) (*domain.Batch, []domain.TestRecord, error) {
	batch, err := r.store.Get(ctx, customer, name)
	if err != nil {
		return nil, nil, err
	}
	records, err := r.store.Records(ctx, batch.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load records: %w", err)
	}
	return batch, records, nil
}

func (r *Reporter) customerRecords(ctx context.Context, customer string) (*CustomerSummary, []report.Row, error) {
	if err := domain.ValidateKey("customer", customer); err != nil {
		return nil, nil, err
	}

	batches, err := r.store.List(ctx, customer)
	if err != nil {
		return nil, nil, err
	}

	result := &CustomerSummary{Customer: customer, Batches: make([]NamedSummary, 0, len(batches))}
	var (
		all  []domain.TestRecord
		rows []report.Row
	)
	for i := range batches {
		records, err := r.store.Records(ctx, batches[i].ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load records of %s: %w", batches[i].Name, err)
		}
		result.Batches = append(result.Batches, NamedSummary{Batch: batches[i].Name, Summary: domain.Summarize(records)})
		all = append(all, records...)
		rows = append(rows, report.RowsFromRecords(batches[i].Name, records)...)
	}
	result.Aggregate = domain.Summarize(all)

	return result, rows, nil
}

func (r *Reporter) write(dir string, doc report.Document) ([]string, error) {
	paths := make([]string, 0, len(r.writers))
	for _, w := range r.writers {
		path, err := w.Write(dir, doc)
		if err != nil {
			return paths, fmt.Errorf("write report: %w", err)
		}
		paths = append(paths, path)
	}

	r.logger.Info("report exported", zap.String("title", doc.Title), zap.Strings("files", paths))
	return paths, nil
}
