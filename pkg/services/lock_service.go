package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockService manages pipeline lock rows: the capacity-accounting source of
// truth. One row per running pipeline; rows with a recent heartbeat count
// toward the global cap, stale rows are reaped by the orphan sweep.
type LockService struct {
	db    *sql.DB
	podID string
}

// NewLockService creates a new LockService
func NewLockService(db *sql.DB, podID string) *LockService {
	return &LockService{db: db, podID: podID}
}

// CountActive counts lock rows with a heartbeat newer than the threshold.
func (s *LockService) CountActive(ctx context.Context, orphanThreshold time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM session_locks
		WHERE heartbeat_at > now() - $1::interval`,
		orphanThreshold.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active locks: %w", err)
	}
	return n, nil
}

// ClaimSlot atomically reserves a per-user pipeline slot via the
// claim_pipeline_slot stored function. Returns false when the user is at
// their limit or the session already holds a lock.
func (s *LockService) ClaimSlot(ctx context.Context, sessionID, userID string, userLimit int) (bool, error) {
	var claimed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT claim_pipeline_slot($1, $2, $3, $4)`,
		sessionID, userID, s.podID, userLimit).Scan(&claimed)
	if err != nil {
		return false, fmt.Errorf("failed to claim pipeline slot: %w", err)
	}
	return claimed, nil
}

// Release drops the session's lock row. Idempotent.
func (s *LockService) Release(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_locks WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Heartbeat refreshes the lock's heartbeat timestamp.
func (s *LockService) Heartbeat(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_locks SET heartbeat_at = now() WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to heartbeat lock: %w", err)
	}
	return requireRow(res)
}

// ReapOrphans releases locks whose heartbeat is older than the threshold and
// marks the matching sessions as errored so clients can restart them.
// Returns the released session IDs.
func (s *LockService) ReapOrphans(ctx context.Context, threshold time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH orphaned AS (
			DELETE FROM session_locks
			WHERE heartbeat_at < now() - $1::interval
			RETURNING session_id
		)
		UPDATE sessions
		SET pipeline_status = 'error', updated_at = now()
		FROM orphaned
		WHERE sessions.id = orphaned.session_id
		RETURNING sessions.id`,
		threshold.String())
	if err != nil {
		return nil, fmt.Errorf("failed to reap orphaned locks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
