// Package tools implements the tool registry and per-turn resolver:
// lookup, JSON-schema normalisation, and agent/session permission
// filtering. Individual tool implementations (read/write/edit/bash/…)
// are external collaborators per SPEC_FULL.md §1; this package only
// hosts the contract they satisfy.
package tools

import (
	"context"
	"encoding/json"
)

// ToolContext carries the per-call environment into a Tool's Execute.
type ToolContext struct {
	Context    context.Context
	SessionID  string
	MessageID  string
	CallID     string
	Agent      string
	Cwd        string
	Worktree   string
	ProviderID string
	ModelID    string
	// OnMetadata lets a tool report intermediate progress (a title and
	// metadata). It is nil unless the caller sets it; the turn runner
	// does not set it, so such reports do not change the tool call's
	// state.
	OnMetadata func(title string, metadata map[string]any)
}

// Result is what a tool's Execute returns on success.
type Result struct {
	Output      string
	Title       string
	Metadata    map[string]any
	Attachments []string
}

// PermissionSpec is one permission check a tool requires before
// executing, consulted by the Tool Executor against the Permission
// Engine.
type PermissionSpec struct {
	Permission string
	Pattern    string
}

// Tool is one registered capability the model can invoke.
type Tool struct {
	ID                string
	Description       string
	ParametersSchema  json.RawMessage
	Execute           func(ToolContext, json.RawMessage) (*Result, error)
	Permissions       func(input json.RawMessage) []PermissionSpec
	AutoTruncate      bool
}

// LLMTool is the provider-facing shape of a registered tool, after
// schema normalisation.
type LLMTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
