package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"gorm.io/gorm"
)

const createChunkSize = 100

// BatchStore persists batches and the state of their test records. Every
// mutation is committed before it returns and every transition is a
// conditional update, so a concurrent writer that lost a race sees an error.
type BatchStore interface {
	Create(ctx context.Context, customer, name string, roster []domain.Account) (*domain.Batch, error)
	Get(ctx context.Context, customer, name string) (*domain.Batch, error)
	List(ctx context.Context, customer string) ([]domain.Batch, error)
	Delete(ctx context.Context, customer, name string) error
	Records(ctx context.Context, batchID string) ([]domain.TestRecord, error)
	NextUnprocessed(ctx context.Context, batchID string, limit int) ([]domain.TestRecord, error)
	SubmittedRecords(ctx context.Context, batchID string) ([]domain.TestRecord, error)
	MarkSubmitted(ctx context.Context, batchID, accountID string, sub domain.Submission) error
	MarkFailed(ctx context.Context, batchID, accountID, reason string) error
	MarkResult(ctx context.Context, batchID, accountID string, res domain.Result) error
	IncrementRun(ctx context.Context, batchID string) (int, error)
	IsFullyResolved(ctx context.Context, batchID string) (bool, error)
}

type GormBatchStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchStore(db *gorm.DB) *GormBatchStore {
	return &GormBatchStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormBatchStore) Create(ctx context.Context, customer, name string, roster []domain.Account) (*domain.Batch, error) {
	customer, name = strings.TrimSpace(customer), strings.TrimSpace(name)
	if err := domain.ValidateBatchKey(customer, name); err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", domain.ErrMalformedInput)
	}

	seen := make(map[string]struct{}, len(roster))
	for i := range roster {
		if err := roster[i].Validate(); err != nil {
			return nil, err
		}
		id := roster[i].ID()
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: duplicate from_email %q", domain.ErrMalformedInput, roster[i].FromEmail)
		}
		seen[id] = struct{}{}
	}

	batch := BatchModel{
		ID:       uuid.NewString(),
		Customer: customer,
		Name:     name,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&BatchModel{}).
			Where("customer = ? AND name = ?", customer, name).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: batch %s/%s", domain.ErrAlreadyExists, customer, name)
		}

		if err := tx.Create(&batch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: batch %s/%s", domain.ErrAlreadyExists, customer, name)
			}
			return err
		}

		records := make([]TestRecordModel, 0, len(roster))
		for i, account := range roster {
			m := recordModelFromAccount(batch.ID, i, account)
			m.ID = uuid.NewString()
			records = append(records, m)
		}
		return tx.CreateInBatches(&records, createChunkSize).Error
	})
	if err != nil {
		return nil, err
	}

	out := batchModelToDomain(&batch)
	out.Roster = append([]domain.Account(nil), roster...)
	return out, nil
}

func (s *GormBatchStore) Get(ctx context.Context, customer, name string) (*domain.Batch, error) {
	var model BatchModel
	err := s.db.WithContext(ctx).
		Where("customer = ? AND name = ?", strings.TrimSpace(customer), strings.TrimSpace(name)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: batch %s/%s", domain.ErrNotFound, customer, name)
	}
	if err != nil {
		return nil, err
	}

	records, err := s.Records(ctx, model.ID)
	if err != nil {
		return nil, err
	}

	batch := batchModelToDomain(&model)
	batch.Roster = make([]domain.Account, 0, len(records))
	for i := range records {
		batch.Roster = append(batch.Roster, records[i].Account)
	}
	return batch, nil
}

// List returns a customer's batches in creation order. Rosters are not loaded.
func (s *GormBatchStore) List(ctx context.Context, customer string) ([]domain.Batch, error) {
	var models []BatchModel
	err := s.db.WithContext(ctx).
		Where("customer = ?", strings.TrimSpace(customer)).
		Order("created_at ASC").
		Order("name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

// Delete removes a batch and all of its records.
func (s *GormBatchStore) Delete(ctx context.Context, customer, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model BatchModel
		err := tx.Where("customer = ? AND name = ?", customer, name).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: batch %s/%s", domain.ErrNotFound, customer, name)
		}
		if err != nil {
			return err
		}

		if err := tx.Where("batch_id = ?", model.ID).Delete(&TestRecordModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&BatchModel{}, "id = ?", model.ID).Error
	})
}

func (s *GormBatchStore) Records(ctx context.Context, batchID string) ([]domain.TestRecord, error) {
	return s.findRecords(s.db.WithContext(ctx).Where("batch_id = ?", batchID))
}

// NextUnprocessed returns up to limit pending records in roster order.
func (s *GormBatchStore) NextUnprocessed(ctx context.Context, batchID string, limit int) ([]domain.TestRecord, error) {
	if limit <= 0 {
		return []domain.TestRecord{}, nil
	}
	return s.findRecords(s.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, domain.StatusPending).
		Limit(limit))
}

func (s *GormBatchStore) SubmittedRecords(ctx context.Context, batchID string) ([]domain.TestRecord, error) {
	return s.findRecords(s.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, domain.StatusSubmitted))
}

func (s *GormBatchStore) findRecords(query *gorm.DB) ([]domain.TestRecord, error) {
	var models []TestRecordModel
	if err := query.Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]domain.TestRecord, 0, len(models))
	for i := range models {
		records = append(records, *recordModelToDomain(&models[i]))
	}
	return records, nil
}

// MarkSubmitted moves a pending record to submitted and counts it as processed.
func (s *GormBatchStore) MarkSubmitted(ctx context.Context, batchID, accountID string, sub domain.Submission) error {
	if strings.TrimSpace(sub.TestID) == "" {
		return fmt.Errorf("%w: test id is required", domain.ErrValidation)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	accountID = domain.NormalizeEmail(accountID)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TestRecordModel{}).
			Where("batch_id = ? AND account_id = ? AND status = ?", batchID, accountID, domain.StatusPending).
			Updates(map[string]any{
				"status":        domain.StatusSubmitted,
				"test_id":       sub.TestID,
				"filter_phrase": sub.FilterPhrase,
				"recipients":    joinRecipients(sub.Recipients),
				"test_url":      sub.TestURL,
				"submitted_at":  sub.SubmittedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			_, err := transitionError(tx, batchID, accountID, domain.StatusSubmitted)
			return err
		}
		return incrementProcessed(tx, batchID)
	})
}

// MarkFailed moves a pending or submitted record to failed. Repeating the
// same failure is a no-op.
func (s *GormBatchStore) MarkFailed(ctx context.Context, batchID, accountID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: failure reason is required", domain.ErrValidation)
	}
	accountID = domain.NormalizeEmail(accountID)
	failedAt := s.now()
	updates := map[string]any{
		"status":         domain.StatusFailed,
		"failure_reason": reason,
		"failed_at":      failedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TestRecordModel{}).
			Where("batch_id = ? AND account_id = ? AND status = ?", batchID, accountID, domain.StatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return incrementProcessed(tx, batchID)
		}

		result = tx.Model(&TestRecordModel{}).
			Where("batch_id = ? AND account_id = ? AND status = ?", batchID, accountID, domain.StatusSubmitted).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}

		current, err := transitionError(tx, batchID, accountID, domain.StatusFailed)
		if current != nil && current.Status == domain.StatusFailed && current.FailureReason != nil && *current.FailureReason == reason {
			return nil
		}
		return err
	})
}

// MarkResult resolves a submitted record. Applying the same resolution to an
// already resolved record is a no-op; a different one is rejected.
func (s *GormBatchStore) MarkResult(ctx context.Context, batchID, accountID string, res domain.Result) error {
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = s.now()
	}
	accountID = domain.NormalizeEmail(accountID)
	target := res.TargetStatus()
	if target == domain.StatusCompleted {
		if res.Provider == "" {
			res.Provider = domain.ProviderUnknown
		}
		if !res.Outcome.IsValid() {
			res.Outcome = domain.OutcomeUnknown
		}
	}

	updates := map[string]any{
		"status":      target,
		"resolved_at": res.ResolvedAt,
		"raw_result":  string(res.Raw),
	}
	if target == domain.StatusFailed {
		updates["failure_reason"] = strings.TrimSpace(res.Error)
		updates["failed_at"] = res.ResolvedAt
	} else {
		placements, err := encodePlacements(res.Placements)
		if err != nil {
			return fmt.Errorf("encode placements: %w", err)
		}
		updates["provider"] = res.Provider.String()
		updates["outcome"] = res.Outcome.String()
		updates["placements"] = placements
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TestRecordModel{}).
			Where("batch_id = ? AND account_id = ? AND status = ?", batchID, accountID, domain.StatusSubmitted).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}

		current, err := transitionError(tx, batchID, accountID, target)
		if current != nil && recordModelToDomain(current).SameResolution(res) {
			return nil
		}
		return err
	})
}

// IncrementRun bumps the batch run counter and returns the new value.
func (s *GormBatchStore) IncrementRun(ctx context.Context, batchID string) (int, error) {
	var runCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&BatchModel{}).
			Where("id = ?", batchID).
			Update("run_count", gorm.Expr("run_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
		}
		return tx.Model(&BatchModel{}).Where("id = ?", batchID).Pluck("run_count", &runCount).Error
	})
	return runCount, err
}

// IsFullyResolved reports whether every record of the batch is completed or failed.
func (s *GormBatchStore) IsFullyResolved(ctx context.Context, batchID string) (bool, error) {
	db := s.db.WithContext(ctx)

	var batches int64
	if err := db.Model(&BatchModel{}).Where("id = ?", batchID).Count(&batches).Error; err != nil {
		return false, err
	}
	if batches == 0 {
		return false, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}

	var open int64
	err := db.Model(&TestRecordModel{}).
		Where("batch_id = ? AND status IN ?", batchID, []domain.RecordStatus{domain.StatusPending, domain.StatusSubmitted}).
		Count(&open).Error
	if err != nil {
		return false, err
	}
	return open == 0, nil
}

func incrementProcessed(tx *gorm.DB, batchID string) error {
	return tx.Model(&BatchModel{}).
		Where("id = ?", batchID).
		Update("domains_processed", gorm.Expr("domains_processed + 1")).Error
}

// transitionError explains why a conditional update matched no row and
// returns the current record when there is one.
func transitionError(tx *gorm.DB, batchID, accountID string, target domain.RecordStatus) (*TestRecordModel, error) {
	var current TestRecordModel
	err := tx.Where("batch_id = ? AND account_id = ?", batchID, accountID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: record %s in batch %s", domain.ErrNotFound, accountID, batchID)
	}
	if err != nil {
		return nil, err
	}
	return &current, fmt.Errorf("%w: %s -> %s for %s", domain.ErrInvalidTransition, current.Status, target, accountID)
}
