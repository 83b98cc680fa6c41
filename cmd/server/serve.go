package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MedGAN-AI/price-pilot/internal/api"
	"github.com/MedGAN-AI/price-pilot/internal/middleware"
	"github.com/MedGAN-AI/price-pilot/internal/session"
	"github.com/MedGAN-AI/price-pilot/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conns := api.NewConnRegistry()
		a, err := buildApp(ctx, cfg, logger, conns.CloseSession)
		if err != nil {
			slog.Error("Failed to initialize", "error", err)
			return err
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				slog.Error("Failed to release resources", "error", closeErr)
			}
		}()

		probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
		a.orch.ProbeWorkers(probeCtx)
		cancelProbe()

		session.StartEvictor(ctx, a.sessions, cfg.EvictionInterval)

		limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limiter.OnReject(a.metrics.RateLimited)
		limiter.StartEviction(ctx)

		router := api.NewRouter(api.RouterConfig{
			Orchestrator: a.orch,
			Store:        a.repo,
			Metrics:      a.metrics.Handler(),
			Limiter:      limiter,
			CORSOrigins:  cfg.CORSOrigins,
			MaxBodyBytes: cfg.MaxRequestBodyBytes,
			Conns:        conns,
			Frontend:     web.Handler(),
			Logger:       logger,
		})

		// WebSocket chat streams stay open, so no WriteTimeout.
		srv := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("Server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			slog.Error("Server failed", "error", err)
			return err
		}
		stop()

		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}

		slog.Info("Server stopped successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
