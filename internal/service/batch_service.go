package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/placement-engine/internal/catalog"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"github.com/kursadbilgin/placement-engine/internal/storage"
	"go.uber.org/zap"
)

// BatchStatus is a batch together with the current state of its records.
type BatchStatus struct {
	Batch   *domain.Batch
	Records []domain.TestRecord
	Summary domain.Summary
}

// BatchService manages batch lifecycles: creation from a roster, lookup and reset.
// paths may be nil when no exports are kept on disk.
type BatchService struct {
	store  repository.BatchStore
	paths  *storage.Paths
	logger *zap.Logger
}

func NewBatchService(store repository.BatchStore, paths *storage.Paths, logger *zap.Logger) (*BatchService, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{store: store, paths: paths, logger: logger}, nil
}

// CreateFromFile loads a CSV or XLSX roster and creates the batch from it.
func (s *BatchService) CreateFromFile(ctx context.Context, customer, name, path string) (*domain.Batch, error) {
	roster, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", path, err)
	}
	return s.Create(ctx, customer, name, roster)
}

func (s *BatchService) Create(ctx context.Context, customer, name string, roster []domain.Account) (*domain.Batch, error) {
	batch, err := s.store.Create(ctx, customer, name, roster)
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch created",
		zap.String("customer", batch.Customer),
		zap.String("batch", batch.Name),
		zap.String("batchId", batch.ID),
		zap.Int("accounts", len(batch.Roster)),
		zap.Int("domains", len(catalog.Domains(batch.Roster))),
	)
	return batch, nil
}

func (s *BatchService) Get(ctx context.Context, customer, name string) (*BatchStatus, error) {
	batch, err := s.store.Get(ctx, customer, name)
	if err != nil {
		return nil, err
	}

	records, err := s.store.Records(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	return &BatchStatus{
		Batch:   batch,
		Records: records,
		Summary: domain.Summarize(records),
	}, nil
}

func (s *BatchService) List(ctx context.Context, customer string) ([]domain.Batch, error) {
	if err := domain.ValidateKey("customer", customer); err != nil {
		return nil, err
	}
	return s.store.List(ctx, customer)
}

// Delete resets a batch by removing it, every record it holds and its exported reports.
func (s *BatchService) Delete(ctx context.Context, customer, name string) error {
	if err := s.store.Delete(ctx, customer, name); err != nil {
		return err
	}
	if s.paths != nil {
		if err := s.paths.RemoveBatchDir(customer, name); err != nil {
			return fmt.Errorf("batch %s/%s deleted but its exports remain: %w", customer, name, err)
		}
	}

	s.logger.Info("batch deleted", zap.String("customer", customer), zap.String("batch", name))
	return nil
}
