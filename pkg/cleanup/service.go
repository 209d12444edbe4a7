// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/resumeforge/resumeforge/pkg/config"
)

// sessionRetainer deletes terminal sessions past the retention window;
// satisfied by services.SessionService.
type sessionRetainer interface {
	DeleteOldSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// eventRetainer deletes expired catch-up events; satisfied by
// services.EventService.
type eventRetainer interface {
	DeleteOlderThan(ctx context.Context, ttl time.Duration) (int64, error)
}

// Service periodically enforces retention policies:
//   - Deletes terminal sessions (and their artifacts, events, and locks via
//     cascade) past the retention window
//   - Removes catch-up event rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config   *config.RetentionConfig
	sessions sessionRetainer
	events   eventRetainer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, sessions sessionRetainer, events eventRetainer) *Service {
	return &Service{
		config:   cfg,
		sessions: sessions,
		events:   events,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention", s.config.SessionRetention,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldSessions(ctx)
	s.deleteExpiredEvents(ctx)
}

func (s *Service) deleteOldSessions(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	count, err := s.sessions.DeleteOldSessions(sctx, s.config.SessionRetention)
	if err != nil {
		slog.Error("Retention: session delete failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old sessions", "count", count)
	}
}

func (s *Service) deleteExpiredEvents(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	count, err := s.events.DeleteOlderThan(sctx, s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired events", "count", count)
	}
}
