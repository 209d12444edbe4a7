// ResumeForge orchestrator server: serves the HTTP API, drives the
// multi-stage resume pipeline, and streams progress to clients over SSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/resumeforge/resumeforge/pkg/api"
	"github.com/resumeforge/resumeforge/pkg/bus"
	"github.com/resumeforge/resumeforge/pkg/cleanup"
	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/database"
	"github.com/resumeforge/resumeforge/pkg/gate"
	"github.com/resumeforge/resumeforge/pkg/llm"
	"github.com/resumeforge/resumeforge/pkg/pipeline"
	"github.com/resumeforge/resumeforge/pkg/services"
	"github.com/resumeforge/resumeforge/pkg/stream"
	"github.com/resumeforge/resumeforge/pkg/version"
)

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	podID := resolvePodID()
	slog.Info("Starting ResumeForge", "version", version.Full(), "pod_id", podID)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (opens the pool and applies embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Services
	db := dbClient.DB()
	sessionService := services.NewSessionService(db)
	artifactService := services.NewArtifactService(db)
	eventService := services.NewEventService(db)
	lockService := services.NewLockService(db, podID)
	usageService := services.NewUsageService(db)
	usageFlusher := services.NewUsageFlusher(usageService)
	slog.Info("Services initialized")

	// 4. LLM client
	llmClient, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:    cfg.LLM.APIKey,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()
	slog.Info("LLM client initialized")

	// 5. Streaming, gates, and the pipeline runtime
	restorer := pipeline.NewRestorer(sessionService, eventService, cfg.Stream.RestoreMessageBound)
	streamManager := stream.NewManager(cfg.Stream, restorer, eventService)
	gateCoordinator := gate.NewCoordinator(sessionService, cfg.Pipeline.StaleThreshold)
	agentBus := bus.New()

	pipelineManager := pipeline.NewManager(cfg, sessionService, artifactService,
		lockService, eventService, usageFlusher, streamManager, gateCoordinator,
		agentBus, llmClient)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	pipelineManager.StartOrphanSweep(sweepCtx)
	slog.Info("Pipeline runtime initialized")

	cleanupService := cleanup.NewService(cfg.Retention, sessionService, eventService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 6. HTTP server
	auth := api.NewAuthenticator(api.ParseAuthTokens(os.Getenv("AUTH_TOKENS")))
	apiServer := api.NewServer(cfg, dbClient, sessionService, artifactService,
		pipelineManager, gateCoordinator, streamManager, auth)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		// WriteTimeout stays zero so SSE connections are not cut off.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("ResumeForge started successfully", "pod_id", podID)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: pipelines first, then streams, then HTTP, each
	// within its own budget.
	stopSweep()

	pipelineCtx, pipelineCancel := context.WithTimeout(ctx, cfg.Pipeline.GracefulShutdownTimeout+5*time.Second)
	pipelineManager.Shutdown(pipelineCtx)
	pipelineCancel()
	slog.Info("Pipelines stopped")

	streamManager.Shutdown()

	httpCtx, httpCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
