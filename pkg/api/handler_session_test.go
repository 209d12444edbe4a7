package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/models"
)

func TestCreateSessionHandler(t *testing.T) {
	store := newFakeSessions()
	s := &Server{sessions: store}

	c, rec := jsonContext(t, http.MethodPost, "/api/sessions", "", Principal{UserID: "alice", Plan: PlanFree})
	require.NoError(t, s.createSessionHandler(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Equal(t, "alice", resp.Session.UserID)
	assert.Equal(t, models.PipelineStatusIdle, resp.Session.PipelineStatus)
}

func TestListSessionsHandler_Validation(t *testing.T) {
	s := &Server{}

	for _, limit := range []string{"abc", "0", "-5"} {
		t.Run("limit "+limit, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit="+limit, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.listSessionsHandler(c)
			code, body := envelope(t, err)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body.Error, "invalid limit")
		})
	}
}

func TestListSessionsHandler_ScopedToCaller(t *testing.T) {
	store := newFakeSessions(
		&models.Session{ID: testSessionID, UserID: "alice"},
		&models.Session{ID: "7c2995d9-1c30-4c94-a0ab-4f2f6cbfd112", UserID: "bob"},
	)
	s := &Server{sessions: store}

	c, rec := jsonContext(t, http.MethodGet, "/api/sessions", "", Principal{UserID: "alice"})
	require.NoError(t, s.listSessionsHandler(c))

	var resp SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, testSessionID, resp.Sessions[0].ID)
}

// ownedSessionEcho registers a minimal route so the router fills :id, with a
// handler that loads the owned session.
func ownedSessionEcho(s *Server, principal Principal) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = errorHandler
	e.GET("/api/workflow/:id", func(c *echo.Context) error {
		c.Set(principalKey, principal)
		sess, err := s.ownedSessionParam(c, "id")
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sess)
	})
	return e
}

func TestOwnedSessionParam(t *testing.T) {
	store := newFakeSessions(&models.Session{ID: testSessionID, UserID: "alice"})
	s := &Server{sessions: store}

	t.Run("owner loads the session", func(t *testing.T) {
		e := ownedSessionEcho(s, Principal{UserID: "alice"})
		req := httptest.NewRequest(http.MethodGet, "/api/workflow/"+testSessionID, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var sess models.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
		assert.Equal(t, testSessionID, sess.ID)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		e := ownedSessionEcho(s, Principal{UserID: "alice"})
		req := httptest.NewRequest(http.MethodGet, "/api/workflow/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invalid session id", body.Error)
	})

	t.Run("non-owner is 404", func(t *testing.T) {
		e := ownedSessionEcho(s, Principal{UserID: otherUserID})
		req := httptest.NewRequest(http.MethodGet, "/api/workflow/"+testSessionID, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
