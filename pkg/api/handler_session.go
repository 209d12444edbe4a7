package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// ownedSessionParam validates the :id path parameter and loads the session
// with the ownership check. Non-owners see the same 404 as a missing id.
func (s *Server) ownedSessionParam(c *echo.Context, param string) (*models.Session, error) {
	id := c.Param(param)
	if _, err := uuid.Parse(id); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid session id"})
	}
	sess, err := s.sessions.GetOwnedSession(c.Request().Context(), id, principalFrom(c).UserID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return sess, nil
}

// createSessionHandler handles POST /api/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	sess, err := s.sessions.CreateSession(c.Request().Context(), principalFrom(c).UserID)
	if err != nil {
		return mapServiceError(err)
	}

	requestLogger(c).Info("session created", "session_id", sess.ID, "user_id", sess.UserID)
	return c.JSON(http.StatusCreated, &SessionResponse{Session: sess})
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, &ErrorResponse{Error: "invalid limit"})
		}
		if n < limit {
			limit = n
		}
	}

	summaries, err := s.sessions.ListSessions(c.Request().Context(), principalFrom(c).UserID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SessionListResponse{Sessions: summaries})
}

// getResumeHandler handles GET /api/sessions/:id/resume.
func (s *Server) getResumeHandler(c *echo.Context) error {
	sess, err := s.ownedSessionParam(c, "id")
	if err != nil {
		return err
	}

	artifact, err := s.artifacts.Latest(c.Request().Context(), sess.ID, "resume", models.ArtifactFinalResume)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ResumeResponse{
		SessionID: sess.ID,
		Version:   artifact.Version,
		Resume:    artifact.Payload,
		CreatedAt: artifact.CreatedAt,
	})
}
