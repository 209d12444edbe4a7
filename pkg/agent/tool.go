package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/resumeforge/resumeforge/pkg/llm"
)

// Interactive tool names: exempt from the per-round timeout because they
// block on a human, not on compute. Still bound by the overall loop timeout.
var interactiveTools = map[string]bool{
	"interview":       true,
	"present_to_user": true,
	"questionnaire":   true,
}

// ToolFunc executes one tool call.
type ToolFunc func(ctx context.Context, input json.RawMessage, ec *ExecutionContext) (json.RawMessage, error)

// ToolDescriptor is an immutable tool declaration.
type ToolDescriptor struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool input; compiled at registry
	// assembly and enforced before every dispatch.
	Schema string
	// ParallelSafe tools may run concurrently with each other within a
	// round. Default false: sequential, in call order.
	ParallelSafe bool
	Execute      ToolFunc
}

// Interactive reports whether the tool blocks on a human response.
func (t *ToolDescriptor) Interactive() bool {
	return interactiveTools[t.Name]
}

type registeredTool struct {
	desc   ToolDescriptor
	schema *jsonschema.Schema
}

// Registry binds tool names to executors for one agent. Assembled statically
// at coordinator start-up; a name is bound to at most one executor.
type Registry struct {
	tools map[string]*registeredTool
	order []string
}

// NewRegistry compiles the tool schemas and builds the registry. Duplicate
// names and invalid schemas are assembly errors.
func NewRegistry(descriptors ...ToolDescriptor) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registeredTool, len(descriptors))}
	for _, desc := range descriptors {
		if desc.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, exists := r.tools[desc.Name]; exists {
			return nil, fmt.Errorf("duplicate tool %q", desc.Name)
		}
		if desc.Execute == nil {
			return nil, fmt.Errorf("tool %q has no executor", desc.Name)
		}

		rt := &registeredTool{desc: desc}
		if desc.Schema != "" {
			var doc any
			if err := json.Unmarshal([]byte(desc.Schema), &doc); err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", desc.Name, err)
			}
			c := jsonschema.NewCompiler()
			if err := c.AddResource("schema.json", doc); err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", desc.Name, err)
			}
			compiled, err := c.Compile("schema.json")
			if err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", desc.Name, err)
			}
			rt.schema = compiled
		}

		r.tools[desc.Name] = rt
		r.order = append(r.order, desc.Name)
	}
	return r, nil
}

// Definitions returns the tool schemas advertised to the model, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].desc
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return defs
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (*ToolDescriptor, bool) {
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return &rt.desc, true
}

// Execute validates the input against the tool's schema and dispatches.
// Unknown tools and schema violations return errors; the loop converts them
// to tool-result error messages for the model rather than aborting.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, ec *ExecutionContext) (json.RawMessage, error) {
	rt, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	if rt.schema != nil {
		var payload any
		if err := json.Unmarshal(input, &payload); err != nil {
			return nil, fmt.Errorf("tool %q input is not valid JSON: %w", name, err)
		}
		if err := rt.schema.Validate(payload); err != nil {
			return nil, fmt.Errorf("tool %q input rejected by schema: %w", name, err)
		}
	}

	return rt.desc.Execute(ctx, input, ec)
}
