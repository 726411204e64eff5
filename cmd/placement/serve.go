package main

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/placement-engine/internal/handler"
	"github.com/kursadbilgin/placement-engine/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch API, health probes and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			server, err := a.newServer()
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("placement api started", zap.Int("port", a.cfg.APIPort))
				errCh <- server.Listen(fmt.Sprintf(":%d", a.cfg.APIPort))
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			a.logger.Info("shutting down placement api")
			if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
				a.logger.Error("api shutdown failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func (a *app) newServer() (*fiber.App, error) {
	sqlDB, err := a.db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle init failed: %w", err)
	}

	h, err := handler.NewBatchHandler(a.batches, a.submitter, a.poller, a.reporter)
	if err != nil {
		return nil, err
	}

	server := fiber.New(fiber.Config{
		AppName:               "placement-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(a.logger),
	})
	server.Use(a.metrics.HTTPMiddleware())
	server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	handler.RegisterHealthRoutes(server, sqlDB, a.rdb)
	handler.RegisterBatchRoutes(server, h)
	return server, nil
}
