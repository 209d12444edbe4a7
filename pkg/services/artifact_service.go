package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/resumeforge/resumeforge/pkg/models"
)

// ArtifactService stores versioned stage outputs. Versions are monotonic per
// (session, node, type); the latest version is authoritative and earlier
// versions are kept for replan rewinds and audit.
type ArtifactService struct {
	db *sql.DB
}

// NewArtifactService creates a new ArtifactService
func NewArtifactService(db *sql.DB) *ArtifactService {
	return &ArtifactService{db: db}
}

// Append stores a new artifact version. The version is assigned inside the
// insert so concurrent writers cannot race to the same number.
func (s *ArtifactService) Append(ctx context.Context, sessionID, nodeKey, artifactType string, payload json.RawMessage) (*models.Artifact, error) {
	if nodeKey == "" {
		return nil, NewValidationError("node_key", "required")
	}
	if artifactType == "" {
		return nil, NewValidationError("artifact_type", "required")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO session_artifacts (session_id, node_key, artifact_type, version, payload)
		SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4
		FROM session_artifacts
		WHERE session_id = $1 AND node_key = $2 AND artifact_type = $3
		RETURNING id, session_id, node_key, artifact_type, version, payload, created_at`,
		sessionID, nodeKey, artifactType, []byte(payload))

	artifact, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("failed to append artifact: %w", err)
	}
	return artifact, nil
}

// Latest returns the newest version of an artifact.
func (s *ArtifactService) Latest(ctx context.Context, sessionID, nodeKey, artifactType string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, node_key, artifact_type, version, payload, created_at
		FROM session_artifacts
		WHERE session_id = $1 AND node_key = $2 AND artifact_type = $3
		ORDER BY version DESC
		LIMIT 1`,
		sessionID, nodeKey, artifactType)

	artifact, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest artifact: %w", err)
	}
	return artifact, nil
}

// ListLatest returns the newest version of every artifact for a session,
// keyed by node. Used by the workflow detail endpoint.
func (s *ArtifactService) ListLatest(ctx context.Context, sessionID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (node_key, artifact_type)
		       id, session_id, node_key, artifact_type, version, payload, created_at
		FROM session_artifacts
		WHERE session_id = $1
		ORDER BY node_key, artifact_type, version DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.NodeKey, &a.ArtifactType,
			&a.Version, &a.Payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func scanArtifact(row *sql.Row) (*models.Artifact, error) {
	var a models.Artifact
	err := row.Scan(&a.ID, &a.SessionID, &a.NodeKey, &a.ArtifactType,
		&a.Version, &a.Payload, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
