package main

import (
	"fmt"

	"github.com/kursadbilgin/placement-engine/internal/config"
	"github.com/kursadbilgin/placement-engine/internal/infra/database"
	infraredis "github.com/kursadbilgin/placement-engine/internal/infra/redis"
	"github.com/kursadbilgin/placement-engine/internal/mailer"
	"github.com/kursadbilgin/placement-engine/internal/observability"
	"github.com/kursadbilgin/placement-engine/internal/provider"
	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"github.com/kursadbilgin/placement-engine/internal/service"
	"github.com/kursadbilgin/placement-engine/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	db      *gorm.DB
	rdb     *redis.Client
	paths   *storage.Paths

	batches   *service.BatchService
	submitter *service.Submitter
	poller    *service.Poller
	reporter  *service.Reporter
}

func newApp() (*app, error) {
	var files []string
	if envFileFlag != "" {
		files = append(files, envFileFlag)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	paths, err := storage.NewPaths(cfg.DataDir)
	if err != nil {
		return err
	}
	a.paths = paths

	a.db, err = database.Open(cfg.DatabaseDSN, paths.DatabasePath())
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	store := repository.NewGormBatchStore(a.db)

	var (
		pacer  ratelimit.Pacer  = ratelimit.NewLocalPacer(cfg.SendDelay())
		locker ratelimit.Locker = ratelimit.NewKeyedLocker()
	)
	if cfg.RedisURL != "" {
		a.rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		if pacer, err = infraredis.NewRedisPacer(a.rdb, cfg.SendDelay()); err != nil {
			return err
		}
		if locker, err = infraredis.NewBatchLocker(a.rdb, infraredis.DefaultLockTTL, a.logger); err != nil {
			return err
		}
	}

	measure, err := provider.NewEmailGuardClient(provider.ClientConfig{
		BaseURL:    cfg.EmailGuardAPIURL,
		APIKey:     cfg.EmailGuardAPIKey,
		Timeout:    cfg.HTTPTimeout(),
		RetryCount: cfg.HTTPRetryCount,
	})
	if err != nil {
		return err
	}

	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Port:       cfg.SMTPPort,
		TLSMode:    cfg.SMTPTLSMode,
		SkipVerify: cfg.SMTPSkipVerify,
		Timeout:    cfg.SMTPTimeout(),
	}, a.logger)
	if err != nil {
		return err
	}

	if a.batches, err = service.NewBatchService(store, paths, a.logger); err != nil {
		return err
	}

	a.submitter, err = service.NewSubmitter(store, measure, sender, pacer, locker, service.SubmitterConfig{
		MaxPerRun: cfg.BatchMaxPerRun,
		SendDelay: cfg.SendDelay(),
		Subject:   cfg.ProbeSubject,
		Body:      cfg.ProbeBody,
	}, a.logger)
	if err != nil {
		return err
	}
	a.submitter.SetMetrics(a.metrics)

	a.poller, err = service.NewPoller(store, measure, locker, service.PollerConfig{
		Interval: cfg.PollInterval(),
		Workers:  cfg.PollWorkers,
	}, a.logger)
	if err != nil {
		return err
	}
	a.poller.SetMetrics(a.metrics)

	a.reporter, err = service.NewReporter(store, paths, nil, a.logger)
	return err
}

func (a *app) Close() error {
	var err error
	if a.rdb != nil {
		err = multierr.Append(err, a.rdb.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, database.Close(a.db))
	}
	_ = a.logger.Sync()
	return err
}
