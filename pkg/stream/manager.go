package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/metrics"
)

var (
	// ErrGlobalConnectionCap is returned by Attach when the process-wide
	// live-connection cap is reached.
	ErrGlobalConnectionCap = errors.New("global connection limit reached")

	// ErrUserConnectionCap is returned by Attach when the user's
	// live-connection cap is reached.
	ErrUserConnectionCap = errors.New("user connection limit reached")
)

// RestoreProvider builds the session_restore payload sent on every attach:
// current stage, recent events up to a bound, latest panel snapshot, and any
// pending gate.
type RestoreProvider interface {
	BuildRestore(ctx context.Context, sessionID string) (map[string]any, error)
}

// EventSink persists events for restart catch-up. Satisfied by
// services.EventService.
type EventSink interface {
	Append(ctx context.Context, sessionID string, payload json.RawMessage) error
}

// replayBuffer holds events published while a session has no live
// connection, for replay within the reconnect grace window.
type replayBuffer struct {
	events    []Event
	expiresAt time.Time
}

// Manager owns every live stream session: a typed map keyed by session id
// under a reader-writer lock, per-user and global connection accounting, and
// the reconnect replay buffers.
type Manager struct {
	cfg     *config.StreamConfig
	restore RestoreProvider
	sink    EventSink

	mu        sync.RWMutex
	sessions  map[string]*StreamSession
	userConns map[string]int
	total     int
	buffers   map[string]*replayBuffer
	seqs      map[string]int64
}

// NewManager creates the fan-out manager.
func NewManager(cfg *config.StreamConfig, restore RestoreProvider, sink EventSink) *Manager {
	return &Manager{
		cfg:       cfg,
		restore:   restore,
		sink:      sink,
		sessions:  make(map[string]*StreamSession),
		userConns: make(map[string]int),
		buffers:   make(map[string]*replayBuffer),
		seqs:      make(map[string]int64),
	}
}

// Attach admits a new connection for a session. A prior connection for the
// same session is replaced; its Run loop ends when its context is cancelled.
// The returned StreamSession's Run must be called by the handler goroutine,
// and Detach when Run returns.
func (m *Manager) Attach(ctx context.Context, sessionID, userID string, w EventWriter) (*StreamSession, error) {
	m.mu.Lock()

	prior := m.sessions[sessionID]
	// A replacement does not raise the totals, so caps apply only to net-new
	// connections. This keeps admission denials from racing reconnects.
	if prior == nil {
		if m.total >= m.cfg.MaxGlobalConnections {
			m.mu.Unlock()
			return nil, ErrGlobalConnectionCap
		}
		if m.userConns[userID] >= m.cfg.MaxUserConnections {
			m.mu.Unlock()
			return nil, ErrUserConnectionCap
		}
	}

	ss := newStreamSession(ctx, sessionID, userID, w, m.cfg.QueueSize, m.cfg.HeartbeatInterval)

	if prior != nil {
		prior.Close()
		m.userConns[prior.UserID]--
		m.total--
	} else {
		// A replacement is net-zero; the gauge moves only on net-new
		// connections so it mirrors the counts above.
		metrics.SSEConnections.Inc()
	}
	m.sessions[sessionID] = ss
	m.userConns[userID]++
	m.total++

	var buffered []Event
	if buf, ok := m.buffers[sessionID]; ok {
		if time.Now().Before(buf.expiresAt) {
			buffered = buf.events
		}
		delete(m.buffers, sessionID)
	}
	m.mu.Unlock()

	ss.replay = append(ss.replay, Event{Type: EventConnected, Data: map[string]any{"session_id": sessionID}})
	restore, err := m.restore.BuildRestore(ctx, sessionID)
	if err != nil {
		slog.Warn("session_restore build failed", "session_id", sessionID, "error", err)
	} else {
		ss.replay = append(ss.replay, Event{Type: EventSessionRestore, Data: restore})
	}
	ss.replay = append(ss.replay, buffered...)

	return ss, nil
}

// Detach removes a connection after its Run loop ends and opens the
// reconnect grace window for the session.
func (m *Manager) Detach(ss *StreamSession) {
	ss.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[ss.SessionID] != ss {
		// Already replaced by a reconnect; the replacement owns the counts.
		return
	}
	delete(m.sessions, ss.SessionID)
	m.userConns[ss.UserID]--
	if m.userConns[ss.UserID] <= 0 {
		delete(m.userConns, ss.UserID)
	}
	m.total--
	metrics.SSEConnections.Dec()

	m.buffers[ss.SessionID] = &replayBuffer{
		expiresAt: time.Now().Add(m.cfg.ReconnectGrace),
	}
}

// Publish delivers an event to the session's live connection, or buffers it
// within the reconnect grace window. text_complete events are stamped with
// the session's monotonic sequence number before delivery.
func (m *Manager) Publish(sessionID string, ev Event) {
	m.mu.Lock()
	if ev.Type == EventTextComplete {
		m.seqs[sessionID]++
		ev.Seq = m.seqs[sessionID]
	}
	ss := m.sessions[sessionID]
	if ss == nil {
		m.bufferLocked(sessionID, ev)
	}
	m.mu.Unlock()

	m.persist(sessionID, ev)

	if ss != nil {
		ss.enqueue(ev)
	}
}

// bufferLocked appends to the session's replay buffer. Expired buffers are
// discarded here rather than by a janitor; the pipeline stays alive either
// way, and the next connect gets a fresh session_restore.
func (m *Manager) bufferLocked(sessionID string, ev Event) {
	if ev.Type == EventHeartbeat {
		return
	}
	buf := m.buffers[sessionID]
	if buf == nil || time.Now().After(buf.expiresAt) {
		buf = &replayBuffer{expiresAt: time.Now().Add(m.cfg.ReconnectGrace)}
		m.buffers[sessionID] = buf
	}
	if len(buf.events) >= m.cfg.ReplayBufferSize {
		buf.events = buf.events[1:]
		metrics.EventsDropped.Inc()
	}
	buf.events = append(buf.events, ev)
}

// persist appends durable events to the catch-up store, best effort.
func (m *Manager) persist(sessionID string, ev Event) {
	if m.sink == nil || !ev.persistent() {
		return
	}
	payload, err := ev.Marshal()
	if err != nil {
		slog.Warn("event marshal failed", "session_id", sessionID, "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sink.Append(ctx, sessionID, payload); err != nil {
		slog.Warn("event persist failed", "session_id", sessionID, "type", ev.Type, "error", err)
	}
}

// ActiveConnections returns the live connection count.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// CloseSession tears down the session's live connection and replay buffer.
// Called when a pipeline reaches a terminal status and the final event has
// been delivered.
func (m *Manager) CloseSession(sessionID string) {
	m.mu.Lock()
	ss := m.sessions[sessionID]
	delete(m.buffers, sessionID)
	delete(m.seqs, sessionID)
	m.mu.Unlock()
	if ss != nil {
		ss.Close()
	}
}

// Shutdown closes every live connection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*StreamSession, 0, len(m.sessions))
	for _, ss := range m.sessions {
		sessions = append(sessions, ss)
	}
	m.mu.Unlock()
	for _, ss := range sessions {
		ss.Close()
	}
}
