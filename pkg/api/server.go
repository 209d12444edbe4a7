// Package api exposes the HTTP surface: session CRUD, pipeline start and
// gate responses, the workflow summary, and the SSE stream. Handlers bind,
// validate, and delegate to services; mapServiceError translates service
// errors into the response envelope.
package api

import (
	"context"
	"encoding/json"

	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/pipeline"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// Route groups for rate limiting.
const (
	groupSessions = "sessions"
	groupPipeline = "pipeline"
	groupWorkflow = "workflow"
	groupSSE      = "sse"
)

// sessionStore is the session persistence surface the handlers need;
// satisfied by services.SessionService.
type sessionStore interface {
	CreateSession(ctx context.Context, userID string) (*models.Session, error)
	GetOwnedSession(ctx context.Context, sessionID, userID string) (*models.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error)
	GetState(ctx context.Context, sessionID string) (*models.PipelineState, error)
	ResetForRestart(ctx context.Context, sessionID string) error
}

// artifactStore is the artifact surface; satisfied by services.ArtifactService.
type artifactStore interface {
	Latest(ctx context.Context, sessionID, nodeKey, artifactType string) (*models.Artifact, error)
	ListLatest(ctx context.Context, sessionID string) ([]models.Artifact, error)
}

// pipelineRunner drives pipeline lifecycle; satisfied by pipeline.Manager.
type pipelineRunner interface {
	Start(ctx context.Context, sess *models.Session, input *pipeline.StartInput) error
	RequestReplan(ctx context.Context, sess *models.Session, assumptions json.RawMessage, confirmRebuild bool) error
}

// gateResponder routes gate responses; satisfied by gate.Coordinator.
type gateResponder interface {
	Respond(ctx context.Context, sess *models.Session, gateName string, response json.RawMessage) (string, error)
}

// healthChecker pings a dependency; satisfied by database.Client.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	db        healthChecker
	sessions  sessionStore
	artifacts artifactStore
	pipeline  pipelineRunner
	gates     gateResponder
	stream    *stream.Manager
	auth      *Authenticator
	limiter   *RateLimiter
}

// NewServer creates the API server.
func NewServer(
	cfg *config.Config,
	db healthChecker,
	sessions sessionStore,
	artifacts artifactStore,
	pipelineMgr pipelineRunner,
	gates gateResponder,
	streamMgr *stream.Manager,
	auth *Authenticator,
) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		sessions:  sessions,
		artifacts: artifacts,
		pipeline:  pipelineMgr,
		gates:     gates,
		stream:    streamMgr,
		auth:      auth,
		limiter:   NewRateLimiter(cfg.RateLimit),
	}
}

// Handler builds the echo instance with middleware and routes.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = errorHandler
	e.Use(securityHeaders(), requestID())

	e.GET("/health", s.healthHandler, requestMetrics("/health"))
	e.GET("/ready", s.readyHandler, requestMetrics("/ready"))
	e.GET("/metrics", s.metricsHandler)

	e.POST("/api/sessions", s.createSessionHandler,
		requestMetrics("/api/sessions"), s.requireAuth, s.rateLimit(groupSessions))
	e.GET("/api/sessions", s.listSessionsHandler,
		requestMetrics("/api/sessions"), s.requireAuth)
	e.GET("/api/sessions/:id/resume", s.getResumeHandler,
		requestMetrics("/api/sessions/:id/resume"), s.requireAuth)
	e.GET("/api/sessions/:id/sse", s.sseHandler,
		requestMetrics("/api/sessions/:id/sse"), s.requireAuth, s.rateLimit(groupSSE))

	e.POST("/api/pipeline/start", s.startPipelineHandler,
		requestMetrics("/api/pipeline/start"), s.requireAuth, s.rateLimit(groupPipeline))
	e.POST("/api/pipeline/respond", s.respondHandler,
		requestMetrics("/api/pipeline/respond"), s.requireAuth, s.rateLimit(groupPipeline))

	e.GET("/api/workflow/:id", s.getWorkflowHandler,
		requestMetrics("/api/workflow/:id"), s.requireAuth)
	e.POST("/api/workflow/:id/benchmark/assumptions", s.benchmarkAssumptionsHandler,
		requestMetrics("/api/workflow/:id/benchmark/assumptions"), s.requireAuth, s.rateLimit(groupWorkflow))
	e.POST("/api/workflow/:id/restart", s.restartHandler,
		requestMetrics("/api/workflow/:id/restart"), s.requireAuth, s.rateLimit(groupWorkflow))

	return e
}
