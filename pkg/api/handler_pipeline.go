package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/pipeline"
)

// startPipelineHandler handles POST /api/pipeline/start.
// Admission (capacity caps, per-user slot) happens inside the pipeline
// manager; denials surface as 503 CAPACITY_LIMIT.
func (s *Server) startPipelineHandler(c *echo.Context) error {
	var req StartPipelineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid session_id"})
	}
	if req.ResumeText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "resume_text is required"})
	}
	if req.JobDescription == "" {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "job_description is required"})
	}

	principal := principalFrom(c)
	if err := principal.RequireFeature(FeaturePipeline); err != nil {
		return mapServiceError(err)
	}

	sess, err := s.sessions.GetOwnedSession(c.Request().Context(), req.SessionID, principal.UserID)
	if err != nil {
		return mapServiceError(err)
	}

	input := &pipeline.StartInput{
		ResumeText:     req.ResumeText,
		JobDescription: req.JobDescription,
		Preferences:    req.Preferences,
	}
	if err := s.pipeline.Start(c.Request().Context(), sess, input); err != nil {
		return mapServiceError(err)
	}

	requestLogger(c).Info("pipeline started", "session_id", sess.ID, "user_id", sess.UserID)
	return c.JSON(http.StatusAccepted, &StartPipelineResponse{
		SessionID: sess.ID,
		Status:    "running",
	})
}

// respondHandler handles POST /api/pipeline/respond.
func (s *Server) respondHandler(c *echo.Context) error {
	var req RespondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid session_id"})
	}

	sess, err := s.sessions.GetOwnedSession(c.Request().Context(), req.SessionID, principalFrom(c).UserID)
	if err != nil {
		return mapServiceError(err)
	}

	status, err := s.gates.Respond(c.Request().Context(), sess, req.Gate, req.Response)
	if err != nil {
		return mapServiceError(err)
	}

	requestLogger(c).Info("gate response routed",
		"session_id", sess.ID, "gate", req.Gate, "status", status)
	return c.JSON(http.StatusOK, &RespondResponse{Status: status, Gate: req.Gate})
}
