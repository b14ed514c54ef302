package tools

import (
	"encoding/json"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
)

// AgentPolicy is the subset of an agent's configuration the resolver
// consults: which tools it forbids outright, its permission rules,
// and its step limit.
type AgentPolicy struct {
	Name          string
	DeniedTools   map[string]bool
	PreferredTool map[string]string // e.g. "edit" -> "apply_patch" for GPT-class models
	Permissions   permission.Ruleset
	StepLimit     int
}

// MCPSource supplies external tool descriptors when the MCP subsystem
// is healthy; SPEC_FULL.md §1 keeps MCP itself out of scope, so the
// resolver only depends on this narrow interface.
type MCPSource interface {
	Healthy() bool
	Tools() []LLMTool
}

// ResolveInput bundles everything the resolver needs for one turn.
type ResolveInput struct {
	Registry           *Registry
	Agent              AgentPolicy
	MCP                MCPSource
	StructuredSchema   json.RawMessage // non-nil if the caller requested structured output
	CurrentStep        int
}

// ResolveResult is the per-turn tool list plus the derived tool_choice
// and reminder signal.
type ResolveResult struct {
	Tools           []LLMTool
	ToolChoice      string // "", "auto", or "required"
	MaxStepsReached bool
}

// Resolve assembles the per-turn tool list per SPEC_FULL.md §4.5:
// filter by agent policy, append healthy MCP tools, drop
// permission-denied tools (registry and MCP alike), optionally append the synthetic
// StructuredOutput tool, and short-circuit to empty with a
// max-steps signal once the agent's step limit is reached.
func Resolve(in ResolveInput) ResolveResult {
	if in.Agent.StepLimit > 0 && in.CurrentStep >= in.Agent.StepLimit {
		return ResolveResult{MaxStepsReached: true}
	}

	var out []LLMTool
	for _, t := range in.Registry.AsLLMTools() {
		name := t.Name
		if preferred, ok := in.Agent.PreferredTool[name]; ok {
			name = preferred
		}
		if in.Agent.DeniedTools[name] {
			continue
		}
		if permission.Evaluate(in.Agent.Permissions, "tool."+name, name) == permission.ActionDeny {
			continue
		}
		out = append(out, LLMTool{Name: name, Description: t.Description, Parameters: t.Parameters})
	}

	if in.MCP != nil && in.MCP.Healthy() {
		for _, t := range in.MCP.Tools() {
			if in.Agent.DeniedTools[t.Name] {
				continue
			}
			if permission.Evaluate(in.Agent.Permissions, "tool."+t.Name, t.Name) == permission.ActionDeny {
				continue
			}
			normalized, err := NormalizeSchema(t.Parameters)
			if err == nil {
				t.Parameters = normalized
			}
			out = append(out, t)
		}
	}

	choice := "auto"
	if in.StructuredSchema != nil {
		out = append(out, LLMTool{
			Name:        StructuredOutputTool,
			Description: "Return the final answer matching the requested schema.",
			Parameters:  in.StructuredSchema,
		})
		choice = "required"
	}

	return ResolveResult{Tools: out, ToolChoice: choice}
}

// MaxStepsReminder is the synthetic assistant message injected when
// Resolve reports MaxStepsReached, per spec.md §4.9.4.
const MaxStepsReminder = "MAXIMUM STEPS REACHED: no further tool calls will be made this turn."
