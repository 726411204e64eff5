package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/observability"
	"github.com/kursadbilgin/placement-engine/internal/provider"
	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollWorkers  = 5
)

type PollerConfig struct {
	Interval time.Duration
	Workers  int
}

// Poller fetches results for submitted tests and merges them into the store.
type Poller struct {
	store   repository.BatchStore
	measure provider.MeasurementService
	locker  ratelimit.Locker
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     PollerConfig
	now     func() time.Time
}

func NewPoller(
	store repository.BatchStore,
	measure provider.MeasurementService,
	locker ratelimit.Locker,
	cfg PollerConfig,
	logger *zap.Logger,
) (*Poller, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if measure == nil {
		return nil, fmt.Errorf("measurement service is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPollWorkers
	}
	if locker == nil {
		locker = ratelimit.NewKeyedLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		store:   store,
		measure: measure,
		locker:  locker,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

func (p *Poller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Poll fetches the current result of every submitted record of the batch once
// and returns how many of them are still unresolved afterwards.
func (p *Poller) Poll(ctx context.Context, customer, name string) (int, error) {
	batch, err := p.store.Get(ctx, customer, name)
	if err != nil {
		return 0, err
	}
	return p.pollBatch(withPollRun(ctx, batch), batch)
}

// AutoPoll repeats Poll every interval until no submitted test is left
// unresolved or the deadline passes. Transient service failures and a busy batch lock are
// logged and retried on the next tick. A zero deadline polls until resolution
// or cancellation.
func (p *Poller) AutoPoll(ctx context.Context, customer, name string, interval, deadline time.Duration) (int, error) {
	batch, err := p.store.Get(ctx, customer, name)
	if err != nil {
		return 0, err
	}
	if interval <= 0 {
		interval = p.cfg.Interval
	}

	ctx = withPollRun(ctx, batch)
	logger := observability.WithContextLogger(p.logger, ctx)

	// pollCtx bounds in-flight fetches too, so a slow service cannot hold
	// the loop past its deadline.
	pollCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		unresolved, err := p.pollBatch(pollCtx, batch)
		switch {
		case err == nil:
			if unresolved == 0 {
				resolved, err := p.store.IsFullyResolved(ctx, batch.ID)
				if err != nil {
					return unresolved, err
				}
				if resolved {
					logger.Info("batch fully resolved")
				} else {
					logger.Info("no submitted tests left in flight, batch still has records awaiting submission")
				}
				return 0, nil
			}
		case ctx.Err() != nil:
			return unresolved, ctx.Err()
		case pollCtx.Err() != nil:
			return p.timedOut(ctx, batch, deadline)
		case isRecoverable(err):
			logger.Warn("poll iteration failed, retrying next interval", zap.Error(err))
		default:
			return unresolved, err
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return unresolved, ctx.Err()
			}
			return p.timedOut(ctx, batch, deadline)
		case <-ticker.C:
		}
	}
}

func withPollRun(ctx context.Context, batch *domain.Batch) context.Context {
	return observability.WithRun(ctx, observability.Run{
		ID:       uuid.NewString(),
		Kind:     "poll",
		Customer: batch.Customer,
		Batch:    batch.Name,
	})
}

func (p *Poller) timedOut(ctx context.Context, batch *domain.Batch, deadline time.Duration) (int, error) {
	open, err := p.countOpen(ctx, batch.ID)
	if err != nil {
		return 0, err
	}
	observability.WithContextLogger(p.logger, ctx).Warn("auto-poll deadline reached",
		zap.String("batchId", batch.ID),
		zap.Int("unresolved", open),
		zap.Duration("deadline", deadline),
	)
	return open, &PollTimeoutError{BatchID: batch.ID, Unresolved: open, Deadline: deadline}
}

func (p *Poller) pollBatch(ctx context.Context, batch *domain.Batch) (int, error) {
	unlock, err := p.locker.Lock(ctx, lockKey(batch))
	if err != nil {
		return 0, err
	}
	defer unlock()

	started := p.now()
	defer func() { p.metrics.ObservePollDuration(p.now().Sub(started)) }()
	logger := observability.WithContextLogger(p.logger, ctx)

	records, err := p.store.SubmittedRecords(ctx, batch.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load submitted records: %w", err)
	}

	var (
		mu        sync.Mutex
		fetchErrs []error
		resolved  int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Workers)

	for i := range records {
		record := records[i]
		group.Go(func() error {
			result, err := p.measure.FetchResult(groupCtx, record.TestID())
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				logger.Warn("result fetch failed",
					zap.String("account", record.AccountID()),
					zap.String("testId", record.TestID()),
					zap.Error(err),
				)
				mu.Lock()
				fetchErrs = append(fetchErrs, fmt.Errorf("%s: %w", record.AccountID(), err))
				mu.Unlock()
				return nil
			}

			res, done := result.Resolve(p.now().UTC())
			if !done {
				return nil
			}
			if err := p.store.MarkResult(groupCtx, batch.ID, record.AccountID(), res); err != nil {
				return fmt.Errorf("failed to merge result for %s: %w", record.AccountID(), err)
			}

			outcome := string(res.Outcome)
			if res.TargetStatus() == domain.StatusFailed {
				outcome = string(domain.StatusFailed)
			}
			p.metrics.IncResult(string(res.Provider), outcome)

			mu.Lock()
			resolved++
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return len(records) - resolved, err
	}

	unresolved := len(records) - resolved
	logger.Info("poll finished",
		zap.String("batchId", batch.ID),
		zap.Int("polled", len(records)),
		zap.Int("resolved", resolved),
		zap.Int("unresolved", unresolved),
		zap.Int("fetchFailures", len(fetchErrs)),
	)

	if len(records) > 0 && len(fetchErrs) == len(records) {
		return unresolved, fmt.Errorf("all %d result fetches failed: %w", len(records), multierr.Combine(fetchErrs...))
	}
	return unresolved, nil
}

func (p *Poller) countOpen(ctx context.Context, batchID string) (int, error) {
	records, err := p.store.Records(ctx, batchID)
	if err != nil {
		return 0, err
	}
	summary := domain.Summarize(records)
	return summary.Pending, nil
}

func isRecoverable(err error) bool {
	return errors.Is(err, domain.ErrConflict) || provider.IsTransient(err)
}
