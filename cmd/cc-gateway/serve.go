package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/cc-gateway/internal/di"
	"github.com/omarluq/cc-gateway/internal/ro"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cc-gateway server",
	Long: `Start the gateway. It authenticates client keys, enforces token quotas and
proxies admitted requests to the configured upstream until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configPath()
	container, err := di.NewContainer(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to load config")
		return err
	}

	logger := di.MustInvoke[*di.LoggerService](container).Logger
	log.Logger = *logger
	zerolog.DefaultContextLogger = logger

	if err := container.HealthCheck(); err != nil {
		_ = container.Shutdown()
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		_ = container.Shutdown()
		return err
	}
	retentionSvc, err := di.Invoke[*di.RetentionService](container)
	if err != nil {
		_ = container.Shutdown()
		return err
	}

	cfgSvc.StartWatching(ctx)
	di.MustInvoke[*di.CheckerService](container).Start(ctx)
	di.MustInvoke[*di.LimitsService](container).Start(ctx)
	if err := retentionSvc.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("retention scheduler not started")
	}

	quotaSvc := di.MustInvoke[*di.QuotaService](container)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serverSvc.Server.ListenAndServe()
	}()

	logger.Info().
		Str("listen", serverSvc.Server.Addr()).
		Str("strategy", quotaSvc.Strategy).
		Msg("starting cc-gateway")

	shutdown := ro.GracefulShutdown()
	waitErr := make(chan error, 1)
	go func() {
		sig, err := ro.Wait(ctx, shutdown)
		if err == nil {
			logger.Info().Str("signal", sig.String()).Msg("shutting down...")
		}
		waitErr <- err
	}()

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			runErr = err
		}
	case <-waitErr:
	}
	cancel()

	drainErr := ro.Drain(context.Background(), shutdownTimeout,
		ro.Step{Name: "server", Run: serverSvc.Server.Shutdown},
		ro.Step{Name: "quota", Run: func(ctx context.Context) error {
			report := quotaSvc.Checker.Flush(ctx)
			logger.Info().
				Int("flushed", report.Flushed).
				Int("failed", report.Failed).
				Int("dead_lettered", report.DeadLettered).
				Msg("final quota flush")
			return nil
		}},
		ro.Step{Name: "container", Run: container.ShutdownWithContext},
	)
	if drainErr != nil {
		logger.Error().Err(drainErr).Msg("shutdown error")
	}

	logger.Info().Msg("server stopped")
	return errors.Join(runErr, drainErr)
}
