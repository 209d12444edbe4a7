// Package services implements the persistence layer: plain SQL over
// database/sql, one service per aggregate, sentinel errors mapped to HTTP by
// the API layer.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// SessionService manages session lifecycle and durable pipeline state.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a new SessionService
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

const sessionColumns = `id, user_id, pipeline_status, pipeline_stage,
	pending_gate, pending_gate_data, last_panel_type, last_panel_data,
	replan_state, created_at, updated_at`

// CreateSession creates a new idle session for the user.
func (s *SessionService) CreateSession(httpCtx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	// Background context with timeout: the write must land even if the
	// client goes away mid-request.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := uuid.New().String()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, user_id, pipeline_status, pipeline_stage, state)
		VALUES ($1, $2, 'idle', 'intake', '{}'::jsonb)
		RETURNING `+sessionColumns,
		id, userID)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetOwnedSession retrieves a session only if the user owns it. Non-owners
// get ErrNotFound, indistinguishable from a missing session, so session IDs
// cannot be enumerated.
func (s *SessionService) GetOwnedSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotFound
	}
	return session, nil
}

// ListSessions returns the user's sessions, newest first. Token counters and
// company/job fields are derived server-side; last_panel_data itself is never
// part of the projection.
func (s *SessionService) ListSessions(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline_status, pipeline_stage, pending_gate,
		       last_panel_data, state, created_at, updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.SessionSummary, 0, limit)
	for rows.Next() {
		var (
			sum         models.SessionSummary
			pendingGate sql.NullString
			panelData   []byte
			state       []byte
		)
		if err := rows.Scan(&sum.ID, &sum.PipelineStatus, &sum.PipelineStage,
			&pendingGate, &panelData, &state, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.PendingGate = pendingGate.String
		sum.CompanyName, sum.JobTitle = panelJobFields(panelData)
		sum.InputTokens, sum.OutputTokens = stateTokenCounts(state)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// panelJobFields pulls company_name/job_title from a panel snapshot. Panels
// are agent-produced JSON; missing or malformed fields are simply absent.
func panelJobFields(panelData []byte) (company, title string) {
	if len(panelData) == 0 {
		return "", ""
	}
	var panel struct {
		CompanyName string `json:"company_name"`
		JobTitle    string `json:"job_title"`
	}
	if err := json.Unmarshal(panelData, &panel); err != nil {
		return "", ""
	}
	return panel.CompanyName, panel.JobTitle
}

func stateTokenCounts(state []byte) (in, out int64) {
	if len(state) == 0 {
		return 0, 0
	}
	var partial struct {
		Usage models.TokenLedger `json:"usage"`
	}
	if err := json.Unmarshal(state, &partial); err != nil {
		return 0, 0
	}
	return partial.Usage.InputTokens, partial.Usage.OutputTokens
}

// GetState loads the durable pipeline state snapshot.
func (s *SessionService) GetState(ctx context.Context, sessionID string) (*models.PipelineState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = $1`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}
	state := &models.PipelineState{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, state); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
	}
	return state, nil
}

// PatchSessionState snapshots the pipeline state and advances the durable
// status/stage in one write. Called at every stage boundary and every gate.
func (s *SessionService) PatchSessionState(httpCtx context.Context, sessionID string, state *models.PipelineState, status models.PipelineStatus, stage models.Stage) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline state: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = $2, pipeline_status = $3, pipeline_stage = $4,
		    replan_state = NULLIF($5, ''), updated_at = now()
		WHERE id = $1`,
		sessionID, raw, status, stage, string(state.ReplanState))
	if err != nil {
		return fmt.Errorf("failed to patch session state: %w", err)
	}
	return requireRow(res)
}

// SetStatus updates only the pipeline status.
func (s *SessionService) SetStatus(ctx context.Context, sessionID string, status models.PipelineStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET pipeline_status = $2, updated_at = now() WHERE id = $1`,
		sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to set session status: %w", err)
	}
	return requireRow(res)
}

// SetPendingGate persists the pending gate name and payload.
func (s *SessionService) SetPendingGate(ctx context.Context, sessionID, gate string, data json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET pending_gate = $2, pending_gate_data = $3, updated_at = now()
		WHERE id = $1`,
		sessionID, gate, []byte(data))
	if err != nil {
		return fmt.Errorf("failed to set pending gate: %w", err)
	}
	return requireRow(res)
}

// ClearPendingGate removes the pending gate after it has been answered.
func (s *SessionService) ClearPendingGate(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET pending_gate = NULL, pending_gate_data = NULL, updated_at = now()
		WHERE id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear pending gate: %w", err)
	}
	return requireRow(res)
}

// SetReplanState persists the durable replan phase.
func (s *SessionService) SetReplanState(ctx context.Context, sessionID string, phase models.ReplanState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET replan_state = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		sessionID, string(phase))
	if err != nil {
		return fmt.Errorf("failed to set replan state: %w", err)
	}
	return requireRow(res)
}

// SetPanel persists the latest right-panel snapshot for session_restore.
func (s *SessionService) SetPanel(ctx context.Context, sessionID, panelType string, data json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_panel_type = $2, last_panel_data = $3, updated_at = now()
		WHERE id = $1`,
		sessionID, panelType, []byte(data))
	if err != nil {
		return fmt.Errorf("failed to set panel snapshot: %w", err)
	}
	return requireRow(res)
}

// Touch refreshes updated_at; gate staleness is measured against it.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireRow(res)
}

// ResetForRestart returns a completed or failed session to idle so a new
// pipeline run can begin. Artifacts are kept; pending gate and panel are
// cleared.
func (s *SessionService) ResetForRestart(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET pipeline_status = 'idle', pipeline_stage = 'intake',
		    pending_gate = NULL, pending_gate_data = NULL,
		    replan_state = NULL, state = '{}'::jsonb, updated_at = now()
		WHERE id = $1 AND pipeline_status IN ('idle', 'error', 'complete')`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	if n == 0 {
		// Either missing or still running; disambiguate for the caller.
		var status string
		serr := s.db.QueryRowContext(ctx,
			`SELECT pipeline_status FROM sessions WHERE id = $1`, sessionID).Scan(&status)
		if errors.Is(serr, sql.ErrNoRows) {
			return ErrNotFound
		}
		if serr != nil {
			return fmt.Errorf("failed to reset session: %w", serr)
		}
		return fmt.Errorf("%w: cannot restart while running", ErrInvalidInput)
	}
	return nil
}

// DeleteOldSessions removes terminal sessions untouched for longer than the
// retention window. Artifacts, events, and locks go with them via cascade.
func (s *SessionService) DeleteOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE pipeline_status IN ('complete', 'error')
		  AND updated_at < now() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		sess            models.Session
		pendingGate     sql.NullString
		pendingGateData []byte
		panelType       sql.NullString
		panelData       []byte
		replanState     sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.PipelineStatus, &sess.PipelineStage,
		&pendingGate, &pendingGateData, &panelType, &panelData,
		&replanState, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.PendingGate = pendingGate.String
	sess.PendingGateData = pendingGateData
	sess.LastPanelType = panelType.String
	sess.LastPanelData = panelData
	sess.ReplanState = models.ReplanState(replanState.String)
	return &sess, nil
}
