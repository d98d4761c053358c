package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/workbench/internal/config"
	"github.com/harun/workbench/internal/logger"
	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
)

const defaultShutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workbench API server",
	Long: `Start the workbench HTTP and WebSocket API in the foreground.
The server runs until it receives SIGINT or SIGTERM, then drains in-flight
runs before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads, overrides and validates the process config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Pretty:    cfg.Logging.Pretty,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.Component("workbench")

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(ctx, tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Endpoint:    cfg.Tracing.Endpoint,
		}); err != nil {
			zl.Warn().Err(err).Msg("OpenTelemetry disabled")
		}
	}

	app, err := NewApp(ctx, cfg, cfgFile, log.Zerolog())
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}
	zl.Info().
		Str("addr", cfg.Gateway.Addr()).
		Str("provider", cfg.Engine.Provider).
		Bool("public_access", cfg.Gateway.PublicAccess).
		Msg("Workbench started")

	<-ctx.Done()
	zl.Info().Msg("Shutting down")

	timeout := time.Duration(cfg.Orchestrator.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("Shutdown incomplete")
	}
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("Failed to flush spans")
	}
	zl.Info().Msg("Workbench stopped")
	return nil
}
