package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resumeforge/resumeforge/pkg/metrics"
)

// EventWriter is the transport a stream session delivers into. The SSE
// handler implements it over the HTTP response; tests substitute a recorder.
type EventWriter interface {
	WriteEvent(ev Event) error
}

// StreamSession is the live connection state for one client attached to one
// session: a bounded delivery queue drained by a dedicated goroutine, with
// idle heartbeats. At most one StreamSession exists per session id; a
// reconnect replaces the prior one.
type StreamSession struct {
	SessionID string
	UserID    string

	writer  EventWriter
	queue   chan Event
	dropped atomic.Int64

	heartbeatInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// replay is written by the manager before Run starts: the frames sent
	// ahead of live delivery (connected, session_restore, buffered events).
	replay []Event
}

func newStreamSession(parent context.Context, sessionID, userID string, w EventWriter, queueSize int, heartbeat time.Duration) *StreamSession {
	ctx, cancel := context.WithCancel(parent)
	return &StreamSession{
		SessionID:         sessionID,
		UserID:            userID,
		writer:            w,
		queue:             make(chan Event, queueSize),
		heartbeatInterval: heartbeat,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Run writes the replay frames, then drains the queue until the connection
// context ends or a terminal event is delivered. Blocks; call from the SSE
// handler goroutine.
func (s *StreamSession) Run() {
	defer s.Close()

	for _, ev := range s.replay {
		if err := s.writer.WriteEvent(ev); err != nil {
			slog.Warn("stream replay write failed", "session_id", s.SessionID, "error", err)
			return
		}
		if ev.terminal() {
			return
		}
	}

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.writer.WriteEvent(ev); err != nil {
				slog.Warn("stream write failed", "session_id", s.SessionID, "error", err)
				return
			}
			if ev.terminal() {
				return
			}
		case <-ticker.C:
			if err := s.writer.WriteEvent(Event{Type: EventHeartbeat}); err != nil {
				return
			}
		}
	}
}

// enqueue adds an event to the delivery queue. On overflow the oldest
// non-heartbeat event is dropped and counted; the connection itself is never
// killed, because the client recovers via session_restore on reconnect.
func (s *StreamSession) enqueue(ev Event) {
	for {
		select {
		case s.queue <- ev:
			return
		default:
		}
		// Queue full: evict the oldest entry to make room.
		select {
		case old := <-s.queue:
			if old.Type != EventHeartbeat {
				s.dropped.Add(1)
				metrics.EventsDropped.Inc()
			}
		default:
			// Drained concurrently by the delivery goroutine; retry the send.
		}
	}
}

// Dropped returns the number of non-heartbeat events dropped on overflow.
func (s *StreamSession) Dropped() int64 {
	return s.dropped.Load()
}

// Close cancels the connection context. Idempotent.
func (s *StreamSession) Close() {
	s.closeOnce.Do(s.cancel)
}

// Done exposes the connection context's done channel.
func (s *StreamSession) Done() <-chan struct{} {
	return s.ctx.Done()
}
