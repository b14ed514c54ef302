package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MaxToolNameLength and MaxToolParamsSize bound registration input,
// grounded on the teacher's own registry guard constants.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// StructuredOutputTool is the synthetic tool name the resolver injects
// when the caller requests structured output (spec.md §4.5.4).
const StructuredOutputTool = "StructuredOutput"

// Registry is the process-wide tool registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool, normalising its parameter schema.
func (r *Registry) Register(t *Tool) error {
	if len(t.ID) == 0 || len(t.ID) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", t.ID)
	}
	if len(t.ParametersSchema) > MaxToolParamsSize {
		return fmt.Errorf("tools: parameter schema for %q exceeds size limit", t.ID)
	}

	normalized, err := NormalizeSchema(t.ParametersSchema)
	if err != nil {
		return fmt.Errorf("tools: normalize schema for %q: %w", t.ID, err)
	}
	if err := Validate(normalized); err != nil {
		return fmt.Errorf("tools: %q: %w", t.ID, err)
	}

	clone := *t
	clone.ParametersSchema = normalized

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID] = &clone
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// AsLLMTools converts the registry contents into the provider-facing
// tool-list shape.
func (r *Registry) AsLLMTools() []LLMTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LLMTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, LLMTool{Name: t.ID, Description: t.Description, Parameters: t.ParametersSchema})
	}
	return out
}

// Execute runs the named tool's Execute function if registered.
func (r *Registry) Execute(ctx context.Context, tc ToolContext, name string, input json.RawMessage) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
	tc.Context = ctx
	return t.Execute(tc, input)
}
