package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/pkg/stream"
)

// deadlineRecorder exposes SetWriteDeadline so http.ResponseController can
// find it, recording each deadline armed.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadlines []time.Time
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	return nil
}

func TestSSEWriter_ArmsWriteDeadlinePerWrite(t *testing.T) {
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	sw := &sseWriter{
		w:       rec,
		flusher: rec,
		rc:      http.NewResponseController(rec),
		timeout: 10 * time.Second,
	}

	before := time.Now()
	require.NoError(t, sw.WriteEvent(stream.NewEvent(stream.EventStageStart, map[string]any{"stage": "intake"})))
	require.NoError(t, sw.WriteEvent(stream.NewEvent(stream.EventHeartbeat, nil)))

	require.Len(t, rec.deadlines, 2, "every write must arm a fresh deadline")
	for _, d := range rec.deadlines {
		assert.True(t, d.After(before.Add(9*time.Second)), "deadline must sit roughly timeout ahead")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: stage_start\n")
	assert.Contains(t, body, `data: {"type":"stage_start"`)
	assert.True(t, rec.Flushed)
}

func TestSSEWriter_ToleratesMissingDeadlineSupport(t *testing.T) {
	// httptest.ResponseRecorder has no SetWriteDeadline; the controller
	// returns ErrNotSupported, which must not fail the write.
	rec := httptest.NewRecorder()
	sw := &sseWriter{
		w:       rec,
		flusher: rec,
		rc:      http.NewResponseController(rec),
		timeout: 10 * time.Second,
	}

	require.NoError(t, sw.WriteEvent(stream.NewEvent(stream.EventTransparency, map[string]any{"message": "hi"})))
	assert.Contains(t, rec.Body.String(), "event: transparency\n")
}

func TestSSEWriter_ZeroTimeoutArmsNothing(t *testing.T) {
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	sw := &sseWriter{
		w:       rec,
		flusher: rec,
		rc:      http.NewResponseController(rec),
	}

	require.NoError(t, sw.WriteEvent(stream.NewEvent(stream.EventHeartbeat, nil)))
	assert.Empty(t, rec.deadlines)
}
