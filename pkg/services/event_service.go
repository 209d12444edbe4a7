package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventService persists stream events for reconnect catch-up. The in-memory
// replay buffer covers short disconnects; these rows cover process restarts.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// Append stores one event. Best-effort at the call sites: a failed append is
// logged, never fatal to the pipeline.
func (s *EventService) Append(ctx context.Context, sessionID string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, payload) VALUES ($1, $2)`,
		sessionID, []byte(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Recent returns the newest events for a session in chronological order,
// bounded by limit.
func (s *EventService) Recent(ctx context.Context, sessionID string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM (
			SELECT id, payload FROM events
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	defer rows.Close()

	var payloads []json.RawMessage
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

// DeleteOlderThan removes events past their TTL regardless of session.
// Catch-up replay only ever needs recent rows.
func (s *EventService) DeleteOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < now() - $1::interval`,
		ttl.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}

// Prune keeps only the newest `keep` events for a session. Called after a
// pipeline reaches a terminal status.
func (s *EventService) Prune(ctx context.Context, sessionID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE session_id = $1 AND id < (
			SELECT COALESCE(MIN(id), 0) FROM (
				SELECT id FROM events
				WHERE session_id = $1
				ORDER BY id DESC
				LIMIT $2
			) kept
		)`,
		sessionID, keep)
	if err != nil {
		return fmt.Errorf("failed to prune events: %w", err)
	}
	return nil
}
