// Package app wires the storage backend, model clients and session manager
// from configuration. Both binaries start here.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/events"
	"github.com/paperlens/backend/internal/history"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/session"
	"github.com/paperlens/backend/internal/storage"
	"github.com/paperlens/backend/pkg/config"
)

type App struct {
	Config   *config.Config
	Backend  storage.Backend
	History  *history.Store
	Tracker  *evaluation.Tracker
	Clients  *llm.Clients
	Sessions *session.Manager
	Bus      *events.Bus
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store, err := history.Open(ctx, backend, cfg.Storage.Namespace, history.WithLogger(log.Named("history")))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	tracker, err := evaluation.OpenTracker(ctx, backend, cfg.Storage.Namespace,
		evaluation.WithTrackerLogger(log.Named("evaluation")))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}

	clients, err := llm.NewClients(ctx, cfg, log)
	if err != nil {
		backend.Close()
		return nil, err
	}

	pipeline := analysis.NewPipeline(clients.Structured, log.Named("analysis"),
		analysis.WithAdvancedCritique(cfg.LLM.AdvancedCritique))
	engine := evaluation.NewEngine(clients.Structured, evaluation.WithLogger(log.Named("evaluation")))

	bus := events.NewBus()
	sessions := session.NewManager(pipeline, store, bus, session.Config{
		EvaluationEnabled:  cfg.Evaluation.Enabled,
		EvaluationTimeout:  time.Duration(cfg.Evaluation.TimeoutSec) * time.Second,
		ValidateConcurrent: cfg.Upload.Concurrency,
		MaxFileSize:        cfg.Upload.MaxFileSize(),
	}, session.WithEvaluation(engine, tracker), session.WithLogger(log.Named("session")))

	return &App{
		Config:   cfg,
		Backend:  backend,
		History:  store,
		Tracker:  tracker,
		Clients:  clients,
		Sessions: sessions,
		Bus:      bus,
	}, nil
}

// Ready checks that the backend still answers.
func (a *App) Ready(ctx context.Context) error {
	_, _, err := a.Backend.Load(ctx, a.Config.Storage.Namespace)
	return err
}

// Close waits for background evaluations and releases the backend.
func (a *App) Close() error {
	a.Sessions.Close()
	a.Sessions.Wait()
	return a.Backend.Close()
}
