// Package main provides the HTTP API server for intake.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/intake-go/internal/config"
	"github.com/raphaelgruber/intake-go/internal/db"
	"github.com/raphaelgruber/intake-go/internal/llm"
	"github.com/raphaelgruber/intake-go/internal/metrics"
	"github.com/raphaelgruber/intake-go/internal/pipeline"
	"github.com/raphaelgruber/intake-go/internal/profile"
	"github.com/raphaelgruber/intake-go/internal/server"
)

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging: text to stderr, JSON to file
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting intake-server", "port", cfg.ServerPort)

	// Connect to SurrealDB
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		cancel()
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := store.InitSchema(ctx); err != nil {
		cancel()
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("INTAKE_WIPE_DB") == "true" {
		if err := store.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}
	cancel()
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Create LLM model
	model, err := llm.NewModel(cfg)
	if err != nil {
		slog.Error("failed to create LLM model", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM model ready", "provider", cfg.LLMProvider, "model", model.Model())

	// Runtime statistics, served at /stats
	collector := metrics.NewCollector()
	model.SetMetrics(collector)

	// Load the field mapping table
	mapping, err := profile.LoadMapping(cfg.MappingPath)
	if err != nil {
		slog.Error("failed to load field mapping", "path", cfg.MappingPath, "error", err)
		os.Exit(1)
	}
	slog.Info("field mapping loaded", "path", cfg.MappingPath, "fields", mapping.Len())

	// Wire the analysis pipeline
	tracker := pipeline.NewTracker(store)
	pipe, err := pipeline.New(model, model, mapping, store, tracker, pipeline.Options{
		Window:     cfg.ChunkWindow,
		Timeout:    cfg.LLMTimeout,
		Watermarks: store,
		Audit:      store,
		Stats:      collector,
	})
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	srv := server.New(store, pipe, logger, cfg.ChunkWindow)
	srv.SetStats(collector)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
