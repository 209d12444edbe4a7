package gate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/services"
)

type fakeGateStore struct {
	mu      sync.Mutex
	pending map[string]string
	touched int
	cleared int
}

func newFakeGateStore() *fakeGateStore {
	return &fakeGateStore{pending: make(map[string]string)}
}

func (f *fakeGateStore) SetPendingGate(_ context.Context, sessionID, gate string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[sessionID] = gate
	return nil
}

func (f *fakeGateStore) ClearPendingGate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, sessionID)
	f.cleared++
	return nil
}

func (f *fakeGateStore) Touch(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func (f *fakeGateStore) pendingGate(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[sessionID]
}

func runningSession(pendingGate string) *models.Session {
	return &models.Session{
		ID:             "sess-1",
		UserID:         "user-1",
		PipelineStatus: models.PipelineStatusRunning,
		PendingGate:    pendingGate,
		UpdatedAt:      time.Now(),
	}
}

func TestCoordinator_RespondWakesOpenGate(t *testing.T) {
	store := newFakeGateStore()
	c := NewCoordinator(store, 15*time.Minute)

	type openResult struct {
		resp json.RawMessage
		err  error
	}
	resultCh := make(chan openResult, 1)
	go func() {
		resp, err := c.Open(context.Background(), "sess-1", "phase_gate", json.RawMessage(`{"phase":"positioning"}`))
		resultCh <- openResult{resp, err}
	}()

	// Wait for the gate to be persisted and the waiter registered.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.waiters["sess-1"] != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "phase_gate", store.pendingGate("sess-1"))

	status, err := c.Respond(context.Background(), runningSession("phase_gate"), "phase_gate", json.RawMessage(`{"action":"continue"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)

	res := <-resultCh
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"action":"continue"}`, string(res.resp))

	require.Eventually(t, func() bool {
		return store.pendingGate("sess-1") == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_GateNameMismatch(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	_, err := c.Respond(context.Background(), runningSession("phase_gate"), "questionnaire", json.RawMessage(`{}`))
	require.ErrorIs(t, err, services.ErrGateMismatch)
	assert.Contains(t, err.Error(), `"phase_gate"`, "the error names the truly pending gate")
	assert.Contains(t, err.Error(), `"questionnaire"`, "and the gate that was submitted")

	// The mismatch must not leave a buffered response behind.
	c.mu.Lock()
	assert.Empty(t, c.buffers)
	c.mu.Unlock()
}

func TestCoordinator_EarlyResponseConsumedExactlyOnce(t *testing.T) {
	store := newFakeGateStore()
	c := NewCoordinator(store, 15*time.Minute)

	status, err := c.Respond(context.Background(), runningSession(""), "phase_gate", json.RawMessage(`{"action":"continue"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusBuffered, status)

	resp, err := c.Open(context.Background(), "sess-1", "phase_gate", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"continue"}`, string(resp))

	// A second open of the same gate must block: the buffer was consumed.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Open(ctx, "sess-1", "phase_gate", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_BufferedResponseForDifferentGateDoesNotWake(t *testing.T) {
	store := newFakeGateStore()
	c := NewCoordinator(store, 15*time.Minute)

	_, err := c.Respond(context.Background(), runningSession(""), "questionnaire", json.RawMessage(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Open(ctx, "sess-1", "phase_gate", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_StalePipelineRejected(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	sess := runningSession("phase_gate")
	sess.UpdatedAt = time.Now().Add(-16 * time.Minute)

	_, err := c.Respond(context.Background(), sess, "phase_gate", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, services.ErrStalePipeline)
}

func TestCoordinator_NotRunningRejected(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	sess := runningSession("phase_gate")
	sess.PipelineStatus = models.PipelineStatusComplete

	_, err := c.Respond(context.Background(), sess, "phase_gate", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, services.ErrNotRunning)
}

func TestCoordinator_EmptyGateNameRejected(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	_, err := c.Respond(context.Background(), runningSession("phase_gate"), "", json.RawMessage(`{}`))
	var verr *services.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCoordinator_PersistedGateWithoutWaiterBuffers(t *testing.T) {
	// A gate can be persisted with no in-process waiter after a restart; the
	// response is buffered for the re-opened gate.
	store := newFakeGateStore()
	c := NewCoordinator(store, 15*time.Minute)

	status, err := c.Respond(context.Background(), runningSession("phase_gate"), "phase_gate", json.RawMessage(`{"action":"continue"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusBuffered, status)

	resp, err := c.Open(context.Background(), "sess-1", "phase_gate", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"continue"}`, string(resp))
}

func TestCoordinator_OpenHonorsContext(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Open(ctx, "sess-1", "phase_gate", nil)
	assert.ErrorIs(t, err, context.Canceled)

	c.mu.Lock()
	assert.Empty(t, c.waiters, "cancelled gate must not leak its waiter")
	c.mu.Unlock()
}

func TestCoordinator_ReleaseDiscardsBuffers(t *testing.T) {
	c := NewCoordinator(newFakeGateStore(), 15*time.Minute)

	_, err := c.Respond(context.Background(), runningSession(""), "phase_gate", json.RawMessage(`{}`))
	require.NoError(t, err)

	c.Release("sess-1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Open(ctx, "sess-1", "phase_gate", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
