// Package pipeline drives resume-generation runs: admission against
// capacity caps, the per-stage coordinator, the revision controller, replan
// handling, and pipeline lifecycle (heartbeats, orphan recovery, shutdown).
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/resumeforge/resumeforge/pkg/agent"
	"github.com/resumeforge/resumeforge/pkg/bus"
	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/gate"
	"github.com/resumeforge/resumeforge/pkg/llm"
	"github.com/resumeforge/resumeforge/pkg/metrics"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/services"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// StartInput is the intake payload for a pipeline run.
type StartInput struct {
	ResumeText     string          `json:"resume_text"`
	JobDescription string          `json:"job_description"`
	Preferences    json.RawMessage `json:"preferences,omitempty"`
}

// Collaborator surfaces, narrowed to what the pipeline actually calls.
// Satisfied by the concrete services wired in NewManager.
type sessionStore interface {
	PatchSessionState(ctx context.Context, sessionID string, state *models.PipelineState, status models.PipelineStatus, stage models.Stage) error
	SetReplanState(ctx context.Context, sessionID string, phase models.ReplanState) error
	SetPanel(ctx context.Context, sessionID, panelType string, data json.RawMessage) error
}

type artifactStore interface {
	Append(ctx context.Context, sessionID, nodeKey, artifactType string, payload json.RawMessage) (*models.Artifact, error)
}

type lockStore interface {
	CountActive(ctx context.Context, orphanThreshold time.Duration) (int, error)
	ClaimSlot(ctx context.Context, sessionID, userID string, userLimit int) (bool, error)
	Release(ctx context.Context, sessionID string) error
	Heartbeat(ctx context.Context, sessionID string) error
	ReapOrphans(ctx context.Context, threshold time.Duration) ([]string, error)
}

type eventPruner interface {
	Prune(ctx context.Context, sessionID string, keep int) error
}

type usageRecorder interface {
	Record(userID string, usage models.TokenLedger)
	FlushAll(ctx context.Context)
}

type eventStream interface {
	Publish(sessionID string, ev stream.Event)
	CloseSession(sessionID string)
}

type gateOpener interface {
	Open(ctx context.Context, sessionID, gateName string, payload json.RawMessage) (json.RawMessage, error)
	Release(sessionID string)
}

type loopRunner interface {
	Run(ctx context.Context, lc *agent.LoopConfig, ec *agent.ExecutionContext, initial string, prior []llm.Message) (*agent.LoopResult, error)
}

// Manager owns every running pipeline in this process.
type Manager struct {
	cfg       *config.Config
	sessions  sessionStore
	artifacts artifactStore
	locks     lockStore
	events    eventPruner
	usage     usageRecorder
	stream    eventStream
	gates     gateOpener
	bus       *bus.Bus
	loop      loopRunner

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	replans  map[string]json.RawMessage
	draining bool
	wg       sync.WaitGroup
}

// NewManager wires the pipeline runtime.
func NewManager(
	cfg *config.Config,
	sessions *services.SessionService,
	artifacts *services.ArtifactService,
	locks *services.LockService,
	events *services.EventService,
	usage *services.UsageFlusher,
	streamMgr *stream.Manager,
	gates *gate.Coordinator,
	agentBus *bus.Bus,
	client llm.Client,
) *Manager {
	return &Manager{
		cfg:       cfg,
		sessions:  sessions,
		artifacts: artifacts,
		locks:     locks,
		events:    events,
		usage:     usage,
		stream:    streamMgr,
		gates:     gates,
		bus:       agentBus,
		loop:      agent.NewLoop(cfg.Agent, client),
		running:   make(map[string]context.CancelFunc),
		replans:   make(map[string]json.RawMessage),
	}
}

// Start admits and launches a pipeline for the session. The run itself
// happens on its own goroutine; Start returns once the slot is claimed and
// the session is marked running.
func (m *Manager) Start(ctx context.Context, sess *models.Session, input *StartInput) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return fmt.Errorf("%w: server is shutting down", services.ErrInvalidInput)
	}
	if _, ok := m.running[sess.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: pipeline already running", services.ErrInvalidInput)
	}
	m.mu.Unlock()

	if err := m.admit(ctx, sess); err != nil {
		return err
	}

	state := models.NewPipelineState(sess.ID, sess.UserID)
	if err := m.sessions.PatchSessionState(ctx, sess.ID, state, models.PipelineStatusRunning, models.StageIntake); err != nil {
		if rerr := m.locks.Release(context.Background(), sess.ID); rerr != nil {
			slog.Warn("failed to release slot after start failure", "session_id", sess.ID, "error", rerr)
		}
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[sess.ID] = cancel
	m.mu.Unlock()

	metrics.PipelinesStarted.Inc()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(sess.ID, cancel)
		m.heartbeatLoop(runCtx, sess.ID)
		m.runPipeline(runCtx, sess, state, input)
	}()
	return nil
}

// heartbeatLoop refreshes the session's lock row while the run lives. The
// heartbeat doubles as the capacity-accounting and orphan-detection signal.
func (m *Manager) heartbeatLoop(ctx context.Context, sessionID string) {
	go func() {
		ticker := time.NewTicker(m.cfg.Pipeline.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := m.locks.Heartbeat(hctx, sessionID); err != nil {
					slog.Warn("pipeline heartbeat failed", "session_id", sessionID, "error", err)
				}
				cancel()
			}
		}
	}()
}

func (m *Manager) release(sessionID string, cancel context.CancelFunc) {
	cancel()
	m.mu.Lock()
	delete(m.running, sessionID)
	m.mu.Unlock()

	ctx, cancelRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelRelease()
	if err := m.locks.Release(ctx, sessionID); err != nil {
		slog.Warn("failed to release pipeline lock", "session_id", sessionID, "error", err)
	}
	m.gates.Release(sessionID)
	m.usage.FlushAll(ctx)
}

// Cancel stops a running pipeline. The run goroutine observes the cancelled
// context, marks the session errored, and emits the final error event.
func (m *Manager) Cancel(sessionID string) bool {
	m.mu.Lock()
	cancel, ok := m.running[sessionID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether this process is driving the session's pipeline.
func (m *Manager) Running(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[sessionID]
	return ok
}

// StartOrphanSweep launches the periodic scan that releases locks whose
// heartbeat went silent and marks their sessions errored. Runs one sweep
// immediately so restarts recover promptly.
func (m *Manager) StartOrphanSweep(ctx context.Context) {
	sweep := func() {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		ids, err := m.locks.ReapOrphans(sctx, m.cfg.Pipeline.OrphanThreshold)
		if err != nil {
			slog.Warn("orphan sweep failed", "error", err)
			return
		}
		for _, id := range ids {
			slog.Info("recovered orphaned pipeline", "session_id", id)
			m.stream.Publish(id, stream.NewEvent(stream.EventPipelineError, map[string]any{
				"message": "The pipeline was interrupted. You can restart it from your saved progress.",
			}))
		}
	}

	go func() {
		sweep()
		ticker := time.NewTicker(m.cfg.Pipeline.OrphanScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}

// Shutdown stops admitting new pipelines and waits for running ones within
// the shutdown budget; stragglers are cancelled.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.draining = true
	cancels := make([]context.CancelFunc, 0, len(m.running))
	for _, cancel := range m.running {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.Pipeline.GracefulShutdownTimeout):
		slog.Warn("shutdown budget exceeded, cancelling running pipelines")
		for _, cancel := range cancels {
			cancel()
		}
		select {
		case <-done:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}

	m.bus.Close()
}

// emitError publishes the user-safe failure event. Raw internal detail stays
// in the logs.
func (m *Manager) emitError(sessionID, message string, err error) {
	slog.Error("pipeline failed", "session_id", sessionID, "error", err)
	m.stream.Publish(sessionID, stream.NewEvent(stream.EventError, map[string]any{
		"message": message,
	}))
	m.stream.Publish(sessionID, stream.NewEvent(stream.EventPipelineError, map[string]any{
		"message": message,
	}))
}

// userSafeMessage converts an internal error into a client-facing string.
// Raw JSON fragments are replaced outright.
func userSafeMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "The pipeline was cancelled."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The pipeline timed out. You can restart it from your saved progress."
	}
	msg := err.Error()
	if len(msg) > 200 || json.Valid([]byte(msg)) {
		return "Something went wrong while generating your resume. Please try again."
	}
	return "Something went wrong: " + msg
}
