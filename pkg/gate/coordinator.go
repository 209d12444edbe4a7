// Package gate implements human-in-the-loop gates: a running pipeline
// suspends on a named gate, the pending state is persisted for reconnects,
// and the gated agent goroutine is woken when the client's response arrives.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/services"
)

// Response statuses returned by Respond.
const (
	StatusOK       = "ok"
	StatusBuffered = "buffered"
)

// sessionStore is the persistence surface the coordinator needs; satisfied
// by services.SessionService.
type sessionStore interface {
	SetPendingGate(ctx context.Context, sessionID, gate string, data json.RawMessage) error
	ClearPendingGate(ctx context.Context, sessionID string) error
	Touch(ctx context.Context, sessionID string) error
}

// Coordinator mediates between gated agent goroutines and the HTTP response
// endpoint: per-session wake channels, plus a buffer for responses that
// arrive before their gate opens.
type Coordinator struct {
	store          sessionStore
	staleThreshold time.Duration

	mu      sync.Mutex
	waiters map[string]chan json.RawMessage       // session id → wake channel
	buffers map[string]map[string]json.RawMessage // session id → gate name → early response
}

// NewCoordinator creates a gate coordinator.
func NewCoordinator(store sessionStore, staleThreshold time.Duration) *Coordinator {
	return &Coordinator{
		store:          store,
		staleThreshold: staleThreshold,
		waiters:        make(map[string]chan json.RawMessage),
		buffers:        make(map[string]map[string]json.RawMessage),
	}
}

// Open suspends the caller on a named gate until the client responds or ctx
// ends. The pending gate is persisted first so reconnecting clients re-render
// the gate UI; a response buffered before the gate opened is consumed
// immediately and exactly once.
func (c *Coordinator) Open(ctx context.Context, sessionID, gateName string, payload json.RawMessage) (json.RawMessage, error) {
	if err := c.store.SetPendingGate(ctx, sessionID, gateName, payload); err != nil {
		return nil, fmt.Errorf("failed to persist pending gate: %w", err)
	}

	c.mu.Lock()
	if buffered, ok := c.buffers[sessionID][gateName]; ok {
		delete(c.buffers[sessionID], gateName)
		if len(c.buffers[sessionID]) == 0 {
			delete(c.buffers, sessionID)
		}
		c.mu.Unlock()
		c.finish(sessionID)
		return buffered, nil
	}
	wake := make(chan json.RawMessage, 1)
	c.waiters[sessionID] = wake
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.waiters[sessionID] == wake {
			delete(c.waiters, sessionID)
		}
		c.mu.Unlock()
	}()

	select {
	case resp := <-wake:
		c.finish(sessionID)
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish clears the persisted gate and refreshes the activity timestamp.
func (c *Coordinator) finish(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.ClearPendingGate(ctx, sessionID); err != nil {
		slog.Warn("failed to clear pending gate", "session_id", sessionID, "error", err)
	}
}

// Respond validates and routes a client's gate response. Returns StatusOK
// when a waiting gate was woken, StatusBuffered when no gate is pending yet.
// Validation order: running → not stale → name match.
func (c *Coordinator) Respond(ctx context.Context, sess *models.Session, gateName string, response json.RawMessage) (string, error) {
	if gateName == "" {
		return "", services.NewValidationError("gate", "required")
	}
	if sess.PipelineStatus != models.PipelineStatusRunning {
		return "", services.ErrNotRunning
	}
	if time.Since(sess.UpdatedAt) > c.staleThreshold {
		return "", services.ErrStalePipeline
	}

	if sess.PendingGate == "" {
		c.mu.Lock()
		if c.buffers[sess.ID] == nil {
			c.buffers[sess.ID] = make(map[string]json.RawMessage)
		}
		c.buffers[sess.ID][gateName] = response
		c.mu.Unlock()
		return StatusBuffered, nil
	}

	if gateName != sess.PendingGate {
		// The error carries both names so the client can recover.
		return "", fmt.Errorf("%w: got %q, pending gate is %q", services.ErrGateMismatch, gateName, sess.PendingGate)
	}

	c.mu.Lock()
	wake, ok := c.waiters[sess.ID]
	if !ok {
		// Gate persisted but no waiter in this process (e.g. restart mid-gate).
		// Buffer so the re-opened gate consumes it.
		if c.buffers[sess.ID] == nil {
			c.buffers[sess.ID] = make(map[string]json.RawMessage)
		}
		c.buffers[sess.ID][gateName] = response
		c.mu.Unlock()
		return StatusBuffered, nil
	}
	delete(c.waiters, sess.ID)
	c.mu.Unlock()

	wake <- response
	if err := c.store.Touch(ctx, sess.ID); err != nil {
		slog.Warn("failed to touch session after gate response", "session_id", sess.ID, "error", err)
	}
	return StatusOK, nil
}

// Release discards any waiter and buffered responses for a session. Called
// when its pipeline terminates.
func (c *Coordinator) Release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, sessionID)
	delete(c.buffers, sessionID)
}
