package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/collector"
	"github.com/telhawk-systems/flowguard/internal/handlers"
	"github.com/telhawk-systems/flowguard/internal/ingest"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/server"
	"github.com/telhawk-systems/flowguard/internal/validator"
)

var (
	serveMemory bool
	serveInline bool
	serveDemo   bool
	servePort   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the ingest, query and admin API.

Accepted batches are published to NATS JetStream for the workers. With
--inline (implied by --memory) batches are processed in the API process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "use in-memory storage instead of PostgreSQL")
	serveCmd.Flags().BoolVar(&serveInline, "inline", false, "process batches in-process instead of publishing to NATS")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "run the synthetic data generator alongside the API")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	rootCmd.AddCommand(serveCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	repo, err := openRepository(ctx, cfg, serveMemory, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, closeStore, err := newWindowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	orchestrator := newOrchestrator(cfg, repo, store, logger)
	handler := handlers.NewHandler(repo, logger).
		WithAllowlist(validator.NewAllowlist(cfg.Ingest.Allowlist)).
		WithTestAlerter(orchestrator).
		WithConfig(handlers.NewConfigView(cfg))

	var sink ingest.Sink
	if serveMemory || serveInline {
		sink = ingest.NewInlineSink(orchestrator, logger)
		logger.Info("processing batches inline")
	} else {
		js, err := connectBroker(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer js.Close()
		sink = ingest.NewQueueSink(js)
		handler.WithBroker(js)
		logger.Info("publishing batches to JetStream", slog.String("url", cfg.NATS.URL))
	}
	handler.WithSink(sink)

	if serveDemo {
		demo := collector.NewDemoGenerator(sink, cfg.Demo.Services, logger).
			WithIntervals(cfg.Demo.LogInterval, cfg.Demo.MetricInterval)
		go demo.Run(ctx)
	}

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      server.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("FlowGuard API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logging.Error(err))
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
