// Package agent implements the generic agent runtime: the per-agent tool
// registry, the model/tool round loop, and the execution context tools run
// against.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/resumeforge/resumeforge/pkg/bus"
	"github.com/resumeforge/resumeforge/pkg/models"
)

// EmitFunc publishes a stream event for the session.
type EmitFunc func(eventType string, data map[string]any)

// WaitForUserFunc suspends the caller on a named gate and returns the
// client's response payload.
type WaitForUserFunc func(ctx context.Context, gateName string, payload json.RawMessage) (json.RawMessage, error)

// ExecutionContext is the bundle handed to every tool executor and lifecycle
// hook: read access to pipeline state, a mutable scratchpad, event emission,
// gate suspension, and the agent bus.
type ExecutionContext struct {
	SessionID string
	UserID    string
	AgentName string

	// State is read-only for tools; only the coordinator goroutine mutates
	// it between loop runs.
	State *models.PipelineState

	// Scratchpad is the agent's transient working storage. Tools may freely
	// mutate it; it is discarded on cancellation.
	Scratchpad map[string]json.RawMessage

	Emit        EmitFunc
	WaitForUser WaitForUserFunc
	Bus         *bus.Bus

	Logger *slog.Logger
}

// PutScratch stores a JSON-encodable value in the scratchpad.
func (ec *ExecutionContext) PutScratch(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ec.Scratchpad[key] = raw
	return nil
}

// GetScratch decodes a scratchpad value into out; returns false when absent.
func (ec *ExecutionContext) GetScratch(key string, out any) (bool, error) {
	raw, ok := ec.Scratchpad[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}
