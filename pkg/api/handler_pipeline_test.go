package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/pipeline"
	"github.com/resumeforge/resumeforge/pkg/services"
)

const (
	testSessionID = "6b1884c8-0b2f-4b83-9f9a-3f1e5bafc001"
	otherUserID   = "mallory"
)

type fakeSessions struct {
	sessions map[string]*models.Session
	state    *models.PipelineState
	created  *models.Session
	resets   []string
}

func newFakeSessions(sessions ...*models.Session) *fakeSessions {
	f := &fakeSessions{sessions: make(map[string]*models.Session)}
	for _, sess := range sessions {
		f.sessions[sess.ID] = sess
	}
	return f
}

func (f *fakeSessions) CreateSession(_ context.Context, userID string) (*models.Session, error) {
	f.created = &models.Session{ID: testSessionID, UserID: userID, PipelineStatus: models.PipelineStatusIdle}
	return f.created, nil
}

func (f *fakeSessions) GetOwnedSession(_ context.Context, sessionID, userID string) (*models.Session, error) {
	sess, ok := f.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, services.ErrNotFound
	}
	return sess, nil
}

func (f *fakeSessions) ListSessions(_ context.Context, userID string, _ int) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for _, sess := range f.sessions {
		if sess.UserID == userID {
			out = append(out, models.SessionSummary{ID: sess.ID, PipelineStatus: sess.PipelineStatus})
		}
	}
	return out, nil
}

func (f *fakeSessions) GetState(context.Context, string) (*models.PipelineState, error) {
	if f.state == nil {
		return models.NewPipelineState(testSessionID, "alice"), nil
	}
	return f.state, nil
}

func (f *fakeSessions) ResetForRestart(_ context.Context, sessionID string) error {
	f.resets = append(f.resets, sessionID)
	return nil
}

type fakePipeline struct {
	startErr   error
	replanErr  error
	started    []*pipeline.StartInput
	replans    int
	confirmed  bool
	lastResume string
}

func (f *fakePipeline) Start(_ context.Context, _ *models.Session, input *pipeline.StartInput) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, input)
	f.lastResume = input.ResumeText
	return nil
}

func (f *fakePipeline) RequestReplan(_ context.Context, _ *models.Session, _ json.RawMessage, confirmRebuild bool) error {
	if f.replanErr != nil {
		return f.replanErr
	}
	f.replans++
	f.confirmed = confirmRebuild
	return nil
}

type fakeGates struct {
	status string
	err    error
	gate   string
}

func (f *fakeGates) Respond(_ context.Context, _ *models.Session, gateName string, _ json.RawMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.gate = gateName
	return f.status, nil
}

func jsonContext(t *testing.T, method, target, body string, principal Principal) (*echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(principalKey, principal)
	return c, rec
}

func TestStartPipelineHandler_Validation(t *testing.T) {
	s := &Server{}
	principal := Principal{UserID: "alice", Plan: PlanFree}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "invalid session id",
			body:   `{"session_id": "not-a-uuid", "resume_text": "r", "job_description": "j"}`,
			errMsg: "invalid session_id",
		},
		{
			name:   "missing resume text",
			body:   `{"session_id": "` + testSessionID + `", "job_description": "j"}`,
			errMsg: "resume_text is required",
		},
		{
			name:   "missing job description",
			body:   `{"session_id": "` + testSessionID + `", "resume_text": "r"}`,
			errMsg: "job_description is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonContext(t, http.MethodPost, "/api/pipeline/start", tt.body, principal)
			err := s.startPipelineHandler(c)
			code, body := envelope(t, err)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body.Error, tt.errMsg)
		})
	}
}

func TestStartPipelineHandler_Accepted(t *testing.T) {
	sess := &models.Session{ID: testSessionID, UserID: "alice", PipelineStatus: models.PipelineStatusIdle}
	runner := &fakePipeline{}
	s := &Server{sessions: newFakeSessions(sess), pipeline: runner}

	body := `{"session_id": "` + testSessionID + `", "resume_text": "resume", "job_description": "jd"}`
	c, rec := jsonContext(t, http.MethodPost, "/api/pipeline/start", body, Principal{UserID: "alice", Plan: PlanFree})

	require.NoError(t, s.startPipelineHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp StartPipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testSessionID, resp.SessionID)
	assert.Equal(t, "running", resp.Status)
	require.Len(t, runner.started, 1)
	assert.Equal(t, "resume", runner.lastResume)
}

func TestStartPipelineHandler_NonOwnerSees404(t *testing.T) {
	sess := &models.Session{ID: testSessionID, UserID: "alice"}
	s := &Server{sessions: newFakeSessions(sess), pipeline: &fakePipeline{}}

	body := `{"session_id": "` + testSessionID + `", "resume_text": "r", "job_description": "j"}`
	c, _ := jsonContext(t, http.MethodPost, "/api/pipeline/start", body, Principal{UserID: otherUserID, Plan: PlanFree})

	err := s.startPipelineHandler(c)
	code, _ := envelope(t, err)
	assert.Equal(t, http.StatusNotFound, code, "ownership failures look like missing sessions")
}

func TestStartPipelineHandler_CapacityDenial(t *testing.T) {
	sess := &models.Session{ID: testSessionID, UserID: "alice"}
	s := &Server{
		sessions: newFakeSessions(sess),
		pipeline: &fakePipeline{startErr: &services.CapacityError{Scope: "global", Limit: 20}},
	}

	body := `{"session_id": "` + testSessionID + `", "resume_text": "r", "job_description": "j"}`
	c, _ := jsonContext(t, http.MethodPost, "/api/pipeline/start", body, Principal{UserID: "alice", Plan: PlanFree})

	err := s.startPipelineHandler(c)
	code, resp := envelope(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, CodeCapacityLimit, resp.Code)
}

func TestRespondHandler(t *testing.T) {
	sess := &models.Session{ID: testSessionID, UserID: "alice", PipelineStatus: models.PipelineStatusRunning}

	t.Run("invalid session id", func(t *testing.T) {
		s := &Server{}
		c, _ := jsonContext(t, http.MethodPost, "/api/pipeline/respond",
			`{"session_id": "nope", "gate": "phase_gate"}`, Principal{UserID: "alice"})
		err := s.respondHandler(c)
		code, _ := envelope(t, err)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("ok status from a woken gate", func(t *testing.T) {
		gates := &fakeGates{status: "ok"}
		s := &Server{sessions: newFakeSessions(sess), gates: gates}
		c, rec := jsonContext(t, http.MethodPost, "/api/pipeline/respond",
			`{"session_id": "`+testSessionID+`", "gate": "phase_gate", "response": {"action": "continue"}}`,
			Principal{UserID: "alice"})

		require.NoError(t, s.respondHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp RespondResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "phase_gate", resp.Gate)
		assert.Equal(t, "phase_gate", gates.gate)
	})

	t.Run("stale pipeline surfaces STALE_PIPELINE", func(t *testing.T) {
		s := &Server{sessions: newFakeSessions(sess), gates: &fakeGates{err: services.ErrStalePipeline}}
		c, _ := jsonContext(t, http.MethodPost, "/api/pipeline/respond",
			`{"session_id": "`+testSessionID+`", "gate": "phase_gate"}`, Principal{UserID: "alice"})

		err := s.respondHandler(c)
		code, resp := envelope(t, err)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, CodeStalePipeline, resp.Code)
	})
}
