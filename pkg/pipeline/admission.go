package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resumeforge/resumeforge/pkg/metrics"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/services"
)

// admit enforces the admission sequence for a pipeline start: the session
// must not already be running, the global cap is checked from durable lock
// counts, and the per-user slot is reserved atomically.
//
// The global check fails OPEN: if the capacity query itself errors, the
// request is admitted. Availability wins over strict capping when the check
// is unhealthy.
func (m *Manager) admit(ctx context.Context, sess *models.Session) error {
	if sess.PipelineStatus == models.PipelineStatusRunning {
		return fmt.Errorf("%w: pipeline already running", services.ErrInvalidInput)
	}

	active, err := m.locks.CountActive(ctx, m.cfg.Pipeline.OrphanThreshold)
	if err != nil {
		slog.Warn("capacity check failed, admitting anyway",
			"session_id", sess.ID, "error", err)
	} else if active >= m.cfg.Pipeline.MaxGlobalPipelines {
		metrics.CapacityDenied.WithLabelValues("global").Inc()
		return &services.CapacityError{Scope: "global", Limit: m.cfg.Pipeline.MaxGlobalPipelines}
	}

	claimed, err := m.locks.ClaimSlot(ctx, sess.ID, sess.UserID, m.cfg.Pipeline.MaxUserPipelines)
	if err != nil {
		// The claim is the authoritative reservation; unlike the advisory
		// count above, its failure is a hard error.
		return fmt.Errorf("failed to claim pipeline slot: %w", err)
	}
	if !claimed {
		metrics.CapacityDenied.WithLabelValues("user").Inc()
		return &services.CapacityError{Scope: "user", Limit: m.cfg.Pipeline.MaxUserPipelines}
	}
	return nil
}
