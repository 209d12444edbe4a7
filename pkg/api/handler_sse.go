package api

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/resumeforge/resumeforge/pkg/stream"
)

// sseWriter adapts the HTTP response to the stream.EventWriter the fan-out
// delivers into. Writes are serialised; every event is flushed immediately so
// frames are never held in a buffer while the pipeline runs. Each write arms
// a deadline so a stalled client cannot park the delivery goroutine forever;
// the server's own WriteTimeout stays zero for SSE.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
}

func (sw *sseWriter) WriteEvent(ev stream.Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timeout > 0 {
		if err := sw.rc.SetWriteDeadline(time.Now().Add(sw.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if err := ev.WriteSSE(sw.w); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// sseHandler handles GET /api/sessions/:id/sse. The connection is handed to
// the stream manager; this handler blocks in Run until the client goes away
// or the stream ends with a terminal event.
func (s *Server) sseHandler(c *echo.Context) error {
	sess, err := s.ownedSessionParam(c, "id")
	if err != nil {
		return err
	}

	flusher, ok := any(c.Response()).(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, &ErrorResponse{Error: "streaming not supported"})
	}

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	writer := &sseWriter{
		w:       c.Response(),
		flusher: flusher,
		rc:      http.NewResponseController(c.Response()),
		timeout: s.cfg.Stream.WriteTimeout,
	}
	ss, err := s.stream.Attach(c.Request().Context(), sess.ID, sess.UserID, writer)
	if err != nil {
		if errors.Is(err, stream.ErrGlobalConnectionCap) || errors.Is(err, stream.ErrUserConnectionCap) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, &ErrorResponse{
				Error: err.Error(),
				Code:  CodeCapacityLimit,
			})
		}
		return mapServiceError(err)
	}

	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	log := requestLogger(c).With("session_id", sess.ID)
	log.Info("stream attached")

	ss.Run()
	s.stream.Detach(ss)

	log.Info("stream detached", "dropped_events", ss.Dropped())
	return nil
}
