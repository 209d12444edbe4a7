package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// getWorkflowHandler handles GET /api/workflow/:id: per-stage node status,
// the latest artifact of each type, replan state, and draft readiness.
// Clients poll this between stream events.
func (s *Server) getWorkflowHandler(c *echo.Context) error {
	sess, err := s.ownedSessionParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	artifacts, err := s.artifacts.ListLatest(ctx, sess.ID)
	if err != nil {
		return mapServiceError(err)
	}

	state, err := s.sessions.GetState(ctx, sess.ID)
	if err != nil {
		return mapServiceError(err)
	}

	resp := &WorkflowResponse{
		SessionID:      sess.ID,
		PipelineStatus: sess.PipelineStatus,
		Stage:          sess.PipelineStage,
		ReplanState:    sess.ReplanState,
		Nodes:          workflowNodes(sess),
		Artifacts:      make([]WorkflowArtifact, 0, len(artifacts)),
		DraftReadiness: draftReadiness(state),
	}
	for _, a := range artifacts {
		resp.Artifacts = append(resp.Artifacts, WorkflowArtifact{
			NodeKey:      a.NodeKey,
			ArtifactType: a.ArtifactType,
			Version:      a.Version,
			Payload:      a.Payload,
			CreatedAt:    a.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// workflowNodes derives per-stage status from the session's durable position.
func workflowNodes(sess *models.Session) []WorkflowNode {
	current := -1
	for i, st := range models.StageOrder {
		if st == sess.PipelineStage {
			current = i
		}
	}

	nodes := make([]WorkflowNode, 0, len(models.StageOrder)-1)
	for i, st := range models.StageOrder {
		if st == models.StageComplete {
			continue
		}
		status := "pending"
		switch {
		case sess.PipelineStatus == models.PipelineStatusComplete, i < current:
			status = "completed"
		case i == current && sess.PipelineStatus == models.PipelineStatusRunning:
			status = "in_progress"
		}
		nodes = append(nodes, WorkflowNode{Key: string(st), Status: status})
	}
	return nodes
}

// draftReadiness summarises section progress from the state snapshot. Ready
// means every drafted section has been approved.
func draftReadiness(state *models.PipelineState) DraftReadiness {
	r := DraftReadiness{Drafted: len(state.SectionDrafts)}
	for section := range state.SectionDrafts {
		if state.IsApproved(section) {
			r.Approved++
		}
	}
	r.Ready = r.Drafted > 0 && r.Approved == r.Drafted
	return r
}

// benchmarkAssumptionsHandler handles POST /api/workflow/:id/benchmark/assumptions.
// Before section writing the run replans in place; after it the caller must
// confirm a full rebuild.
func (s *Server) benchmarkAssumptionsHandler(c *echo.Context) error {
	var req BenchmarkAssumptionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
	}
	if len(req.Assumptions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "assumptions is required"})
	}

	principal := principalFrom(c)
	if err := principal.RequireFeature(FeatureReplan); err != nil {
		return mapServiceError(err)
	}

	sess, err := s.ownedSessionParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.pipeline.RequestReplan(c.Request().Context(), sess, req.Assumptions, req.ConfirmRebuild); err != nil {
		return mapServiceError(err)
	}

	requestLogger(c).Info("benchmark assumptions saved",
		"session_id", sess.ID, "confirm_rebuild", req.ConfirmRebuild)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// restartHandler handles POST /api/workflow/:id/restart: returns a finished
// or failed session to idle so a fresh run can start from the saved inputs.
// Artifacts survive the reset.
func (s *Server) restartHandler(c *echo.Context) error {
	sess, err := s.ownedSessionParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.sessions.ResetForRestart(c.Request().Context(), sess.ID); err != nil {
		return mapServiceError(err)
	}

	requestLogger(c).Info("session reset for restart", "session_id", sess.ID)
	return c.JSON(http.StatusOK, map[string]string{"status": "idle", "session_id": sess.ID})
}
