package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebadeco/rainbow-form-app/internal/platform/config"
	"github.com/ebadeco/rainbow-form-app/internal/platform/credentials"
	"github.com/ebadeco/rainbow-form-app/internal/platform/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Rainbow Form sketch-to-toy portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the process environment (empty disables)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Load credentials and serve the portal over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithLogger(func(logger *zap.Logger) error {
				return serve(cmd.Context(), logger, config.WithEnvFile(envFile))
			})
		},
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Load configuration and credentials, then exit 0 on success or 1 on failure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithLogger(func(logger *zap.Logger) error {
				return verify(cmd.Context(), logger, config.WithEnvFile(envFile))
			})
		},
	}
	root.AddCommand(serve, verify)
	return root
}

func runWithLogger(fn func(*zap.Logger) error) error {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	return fn(baseLogger.Named("portal"))
}

func verify(ctx context.Context, logger *zap.Logger, opts ...config.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithLogger(ctx, logger)

	cfg, creds, err := loadSettings(ctx, logger, opts...)
	if err != nil {
		reportStartupError(logger, err)
		return err
	}
	logger.Info("configuration ok",
		zap.String("model", cfg.AI.Model),
		zap.Bool("storage", creds.StorageEnabled()),
		zap.Bool("persistAssets", cfg.Features.PersistAssets),
		zap.Bool("designRef", cfg.Features.DesignRef),
		zap.Bool("redisSessions", cfg.Session.RedisURL != ""),
		zap.Bool("ledger", cfg.Ledger.ProjectID != ""),
	)
	return nil
}

func serve(ctx context.Context, logger *zap.Logger, opts ...config.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithLogger(ctx, logger)

	cfg, creds, err := loadSettings(ctx, logger, opts...)
	if err != nil {
		reportStartupError(logger, err)
		return err
	}

	app, err := buildApp(ctx, logger, cfg, creds)
	if err != nil {
		logger.Error("failed to build portal", zap.Error(err))
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("portal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			serverLogger.Error("http server error", zap.Error(err))
			return err
		}
		return nil
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func reportStartupError(logger *zap.Logger, err error) {
	var (
		missing *config.MissingSecretsError
		invalid *credentials.ConfigurationError
	)
	switch {
	case errors.As(err, &missing):
		logger.Error(credentials.FatalMessage, zap.Strings("secrets", missing.RedactedNames()))
	case errors.As(err, &invalid):
		logger.Error(credentials.FatalMessage, zap.Strings("fields", invalid.Fields), zap.Error(err))
	default:
		logger.Error("failed to load configuration", zap.Error(err))
	}
}
