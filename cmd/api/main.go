package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/api"
	"github.com/paperlens/backend/internal/app"
	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/config"
	appLogger "github.com/paperlens/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PaperLens API server",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("storage", cfg.Storage.Backend),
	)

	metrics.Init()

	a, err := app.New(context.Background(), cfg, appLogger.GetLogger())
	if err != nil {
		appLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLogger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Sessions: a.Sessions,
		Tracker:  a.Tracker,
		Streamer: a.Clients.Streaming,
		Logger:   appLogger.Named("http"),
		Ready:    a.Ready,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Shutdown did not complete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
