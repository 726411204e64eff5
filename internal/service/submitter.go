package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/mailer"
	"github.com/kursadbilgin/placement-engine/internal/observability"
	"github.com/kursadbilgin/placement-engine/internal/provider"
	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultMaxPerRun = 50
	DefaultSendDelay = 3 * time.Second

	untrackedReason = "probe dispatched but could not be tracked"
)

type SubmitterConfig struct {
	MaxPerRun int
	SendDelay time.Duration
	Subject   string
	Body      string
}

// SubmitReport describes one submit run.
type SubmitReport struct {
	BatchID   string
	RunNumber int
	Attempted int
	Submitted []string
	Failed    []*AccountError
	// Skipped counts selected records that were not attempted because the run was cancelled.
	Skipped   int
	Remaining int
}

// Err combines the per-account failures of the run, or returns nil.
func (r *SubmitReport) Err() error {
	if r == nil {
		return nil
	}
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, f)
	}
	return err
}

func (r *SubmitReport) fail(accountID string, terminal bool, err error) {
	r.Failed = append(r.Failed, &AccountError{AccountID: accountID, Terminal: terminal, Err: err})
}

// Submitter registers a placement test for each pending account of a batch,
// sends the probe and records the submission.
type Submitter struct {
	store   repository.BatchStore
	measure provider.MeasurementService
	sender  mailer.Sender
	pacer   ratelimit.Pacer
	locker  ratelimit.Locker
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     SubmitterConfig
	now     func() time.Time
}

// NewSubmitter wires a Submitter. A nil pacer or locker is replaced by an
// in-process one.
func NewSubmitter(
	store repository.BatchStore,
	measure provider.MeasurementService,
	sender mailer.Sender,
	pacer ratelimit.Pacer,
	locker ratelimit.Locker,
	cfg SubmitterConfig,
	logger *zap.Logger,
) (*Submitter, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if measure == nil {
		return nil, fmt.Errorf("measurement service is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = DefaultMaxPerRun
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = DefaultSendDelay
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = mailer.DefaultSubject
	}
	if strings.TrimSpace(cfg.Body) == "" {
		cfg.Body = mailer.DefaultBody
	}
	if pacer == nil {
		pacer = ratelimit.NewLocalPacer(cfg.SendDelay)
	}
	if locker == nil {
		locker = ratelimit.NewKeyedLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Submitter{
		store:   store,
		measure: measure,
		sender:  sender,
		pacer:   pacer,
		locker:  locker,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

func (s *Submitter) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit processes up to maxCount pending records of the batch, capped by the
// configured per-run limit. Per-account failures are collected in the report;
// only cancellation and store failures abort the run.
func (s *Submitter) Submit(ctx context.Context, customer, name string, maxCount int) (*SubmitReport, error) {
	batch, err := s.store.Get(ctx, customer, name)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKey(batch))
	if err != nil {
		return nil, err
	}
	defer unlock()

	limit := s.cfg.MaxPerRun
	if maxCount > 0 && maxCount < limit {
		limit = maxCount
	}

	records, err := s.store.NextUnprocessed(ctx, batch.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending records: %w", err)
	}

	report := &SubmitReport{BatchID: batch.ID}
	if len(records) == 0 {
		return report, nil
	}

	report.RunNumber, err = s.store.IncrementRun(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	ctx = observability.WithRun(ctx, observability.Run{
		ID:       uuid.NewString(),
		Kind:     "submit",
		Customer: batch.Customer,
		Batch:    batch.Name,
	})
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.Int("run", report.RunNumber))
	logger.Info("submit run started", zap.Int("selected", len(records)))

	for i := range records {
		if ctx.Err() != nil {
			report.Skipped = len(records) - i
			break
		}

		report.Attempted++
		if err := s.submitOne(ctx, batch, records[i], report, logger); err != nil {
			report.Skipped = len(records) - i - 1
			return report, err
		}
	}

	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	pending, err := s.store.NextUnprocessed(ctx, batch.ID, len(batch.Roster))
	if err != nil {
		return report, fmt.Errorf("failed to count remaining records: %w", err)
	}
	report.Remaining = len(pending)

	logger.Info("submit run finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("submitted", len(report.Submitted)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("remaining", report.Remaining),
	)
	return report, nil
}

// submitOne returns an error only when the whole run must stop.
func (s *Submitter) submitOne(ctx context.Context, batch *domain.Batch, record domain.TestRecord, report *SubmitReport, logger *zap.Logger) error {
	accountID := record.AccountID()
	logger = logger.With(zap.String("account", accountID))

	registration, err := s.measure.RegisterTest(ctx, record.Account)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		regErr := &provider.RegistrationError{AccountID: accountID, Err: err}

		if provider.IsTransient(err) {
			s.metrics.IncRegistrationFailed("transient")
			logger.Warn("test registration failed, record left pending", zap.Error(err))
			report.fail(accountID, false, regErr)
			return nil
		}

		s.metrics.IncRegistrationFailed("permanent")
		logger.Error("test registration rejected", zap.Error(err))
		if markErr := s.store.MarkFailed(ctx, batch.ID, accountID, regErr.Error()); markErr != nil {
			return fmt.Errorf("failed to mark %s as failed: %w", accountID, markErr)
		}
		report.fail(accountID, true, regErr)
		return nil
	}

	if err := s.pacer.Wait(ctx, lockKey(batch)); err != nil {
		return fmt.Errorf("send pacing interrupted: %w", err)
	}

	probe := mailer.Probe{
		Recipients:   registration.Recipients,
		Subject:      s.cfg.Subject,
		Body:         s.cfg.Body,
		FilterPhrase: registration.FilterPhrase,
	}
	if err := s.sender.Send(ctx, record.Account, probe); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stage := "unknown"
		var sendErr *mailer.SendError
		if errors.As(err, &sendErr) {
			stage = sendErr.Stage
		}
		s.metrics.IncSendFailed(stage)
		logger.Warn("probe send failed, record left pending", zap.String("testId", registration.TestID), zap.Error(err))
		report.fail(accountID, false, err)
		return nil
	}

	// The probe is out; record it even if the run is being cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.MarkSubmitted(persistCtx, batch.ID, accountID, registration.Submission(s.now().UTC())); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("record %s changed during submit: %w", accountID, err)
		}

		reason := fmt.Sprintf("%s: test %s: %v", untrackedReason, registration.TestID, err)
		if markErr := s.store.MarkFailed(persistCtx, batch.ID, accountID, reason); markErr != nil {
			return fmt.Errorf("failed to record submission of %s: %w (mark failed: %v)", accountID, err, markErr)
		}
		logger.Error("probe sent but submission could not be recorded", zap.String("testId", registration.TestID), zap.Error(err))
		report.fail(accountID, true, err)
		return nil
	}

	s.metrics.IncProbeSent()
	report.Submitted = append(report.Submitted, accountID)
	logger.Info("probe submitted", zap.String("testId", registration.TestID), zap.Int("seeds", len(registration.Recipients)))
	return nil
}
