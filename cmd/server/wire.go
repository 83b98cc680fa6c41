package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MedGAN-AI/price-pilot/internal/audit"
	"github.com/MedGAN-AI/price-pilot/internal/config"
	"github.com/MedGAN-AI/price-pilot/internal/intent"
	"github.com/MedGAN-AI/price-pilot/internal/metrics"
	"github.com/MedGAN-AI/price-pilot/internal/orchestrator"
	"github.com/MedGAN-AI/price-pilot/internal/session"
	"github.com/MedGAN-AI/price-pilot/internal/store"
	"github.com/MedGAN-AI/price-pilot/internal/worker"
	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

// app holds the wired core and everything that must be closed on exit.
type app struct {
	repo     store.Repository
	sessions *session.Store
	orch     *orchestrator.Orchestrator
	metrics  *metrics.Registry
	closers  []func() error
}

// buildApp wires the orchestrator from cfg. onEvict runs for every session
// the evictor removes.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, onEvict func(string)) (*app, error) {
	a := &app{metrics: metrics.New()}

	repo, err := store.New(cfg.StoreDriver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize session store: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)

	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("session store health check: %w", err)
	}
	slog.Info("Session store connected", "driver", cfg.StoreDriver)

	a.sessions = session.NewStore(repo, cfg.SessionTTL,
		session.WithLogger(logger),
		session.WithEvictCallback(func(id string) {
			a.metrics.SessionsEvicted(1)
			if onEvict != nil {
				onEvict(id)
			}
		}))

	registry, err := workflow.BuildRegistry(cfg.WorkflowFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	adapters, err := a.dialWorkers(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditLog, err := audit.New(audit.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize conversation log: %w", err)
	}
	a.closers = append(a.closers, auditLog.Close)

	a.orch = orchestrator.New(orchestrator.Deps{
		Sessions:   a.sessions,
		Classifier: intent.NewClassifier(nil, cfg.ConfidenceFloor),
		Registry:   registry,
		Adapters:   adapters,
		Audit:      auditLog,
		Metrics:    a.metrics,
		Logger:     logger,
	}, orchestrator.Config{
		TurnTimeout: cfg.TurnTimeout,
		MaxFanOut:   cfg.MaxFanOut,
	})

	return a, nil
}

func (a *app) dialWorkers(cfg *config.Config, logger *slog.Logger) ([]*worker.Adapter, error) {
	adapters := make([]*worker.Adapter, 0, len(cfg.Workers))
	for _, name := range worker.Names() {
		wc := cfg.Workers[name]
		w, transport, err := worker.Dial(name, wc.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("dial %s worker: %w", name, err)
		}
		if closer, ok := w.(interface{ Close() error }); ok {
			a.closers = append(a.closers, closer.Close)
		}

		wcfg := worker.DefaultConfig(name)
		wcfg.Timeout = wc.Timeout
		wcfg.MaxRetries = wc.MaxRetries
		wcfg.SideEffecting = wc.SideEffecting
		wcfg.Transport = transport
		adapters = append(adapters, worker.NewAdapter(wcfg, w, logger))

		if transport == "none" {
			slog.Warn("Worker not configured, routes through it will degrade", "worker", name)
		} else {
			slog.Info("Worker configured", "worker", name, "transport", transport, "timeout", wc.Timeout, "retries", wc.MaxRetries)
		}
	}
	return adapters, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
