package config

import "time"

// PipelineConfig contains pipeline admission, lock, and shutdown settings.
type PipelineConfig struct {
	// MaxGlobalPipelines is the global limit of concurrently running
	// pipelines across all replicas/pods. Enforced by a database COUNT(*)
	// over live lock rows; the check fails open on database errors.
	MaxGlobalPipelines int

	// MaxUserPipelines is the per-user running-pipeline cap, reserved
	// atomically by claim_pipeline_slot.
	MaxUserPipelines int

	// StaleThreshold is how long a gated session may sit without activity
	// before gate responses are rejected with STALE_PIPELINE.
	StaleThreshold time.Duration

	// HeartbeatInterval is how often a running pipeline refreshes its lock.
	HeartbeatInterval time.Duration

	// OrphanScanInterval is how often to scan for orphaned pipelines.
	OrphanScanInterval time.Duration

	// OrphanThreshold is how long a lock can go without a heartbeat before
	// its pipeline is considered orphaned and the lock is released.
	OrphanThreshold time.Duration

	// GracefulShutdownTimeout is the max time to wait for running pipelines
	// to wind down during shutdown before their contexts are cancelled.
	GracefulShutdownTimeout time.Duration
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxGlobalPipelines:      10,
		MaxUserPipelines:        1,
		StaleThreshold:          15 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		OrphanScanInterval:      1 * time.Minute,
		OrphanThreshold:         2 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// AgentConfig contains agent-loop limits shared by all agents.
type AgentConfig struct {
	// MaxRounds caps model/tool rounds per loop run; reaching it forces a
	// concluding call with tools withheld.
	MaxRounds int

	// RoundTimeout bounds a single model+tools round. Interactive rounds
	// (gates, questionnaires) are exempt.
	RoundTimeout time.Duration

	// OverallTimeout bounds one full loop run.
	OverallTimeout time.Duration

	// MaxRetries is the attempt count for retryable model errors.
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff; jitter is added on top.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// CompactionThreshold is the message-history length past which the loop
	// compacts: head preserved, a summary bridges to the retained tail.
	CompactionThreshold int
	CompactionKeepTail  int
}

// DefaultAgentConfig returns the built-in agent-loop defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxRounds:           10,
		RoundTimeout:        2 * time.Minute,
		OverallTimeout:      10 * time.Minute,
		MaxRetries:          3,
		RetryBaseDelay:      1 * time.Second,
		RetryMaxDelay:       30 * time.Second,
		CompactionThreshold: 30,
		CompactionKeepTail:  20,
	}
}

// StreamConfig contains live-stream fan-out settings.
type StreamConfig struct {
	// QueueSize is the per-connection delivery queue capacity. On overflow
	// the oldest non-heartbeat event is dropped, never the connection.
	QueueSize int

	// HeartbeatInterval is the idle heartbeat cadence.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds a single SSE write; a client that stalls past it
	// fails the write and ends the stream.
	WriteTimeout time.Duration

	// ReconnectGrace is how long events are buffered for a disconnected
	// client before the replay buffer is discarded.
	ReconnectGrace time.Duration

	// ReplayBufferSize caps the reconnect replay buffer per session.
	ReplayBufferSize int

	// MaxGlobalConnections / MaxUserConnections are live-connection caps.
	MaxGlobalConnections int
	MaxUserConnections   int

	// RestoreMessageBound is the max recent events replayed in
	// session_restore.
	RestoreMessageBound int
}

// DefaultStreamConfig returns the built-in stream defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		QueueSize:            64,
		HeartbeatInterval:    5 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectGrace:       60 * time.Second,
		ReplayBufferSize:     256,
		MaxGlobalConnections: 500,
		MaxUserConnections:   5,
		RestoreMessageBound:  50,
	}
}
