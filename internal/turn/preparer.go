package turn

import (
	"encoding/json"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

// AgentInfo is the subset of an agent's configuration the preparer
// needs beyond what tools.AgentPolicy already covers: description,
// step limit, and sampling parameters.
type AgentInfo struct {
	Name        string
	Description string
	Steps       int // 0 = unlimited
	Temperature *float64
	TopP        *float64
	Policy      tools.AgentPolicy
}

// PrepareInput bundles everything one turn's preparation needs, per
// SPEC_FULL.md §4.9.
type PrepareInput struct {
	SessionID        string
	Agent            AgentInfo
	Turn             int
	History          []llm.Message
	SystemPrompt     []string
	ProviderID       string
	ModelID          string
	Retries          int
	MaxTokens        int
	Registry         *tools.Registry
	MCP              tools.MCPSource
	StructuredSchema json.RawMessage
}

// PrepareResult is the assembled StreamInput plus whether the agent's
// step limit was hit this turn.
type PrepareResult struct {
	StreamInput     llm.StreamInput
	MaxStepsReached bool
}

// Prepare resolves the effective tool list, appends the max-steps
// reminder when the agent's step limit is reached, and builds the
// StreamInput the Turn Runner will stream.
func Prepare(in PrepareInput) PrepareResult {
	in.Agent.Policy.StepLimit = in.Agent.Steps

	resolved := tools.Resolve(tools.ResolveInput{
		Registry:         in.Registry,
		Agent:            in.Agent.Policy,
		MCP:              in.MCP,
		StructuredSchema: in.StructuredSchema,
		CurrentStep:      in.Turn,
	})

	history := in.History
	if resolved.MaxStepsReached {
		history = make([]llm.Message, len(in.History), len(in.History)+1)
		copy(history, in.History)
		history = append(history, llm.Message{Role: "assistant", Content: tools.MaxStepsReminder})
	}

	toolDefs := make([]llm.ToolDefinition, len(resolved.Tools))
	for i, t := range resolved.Tools {
		toolDefs[i] = llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}

	streamInput := llm.StreamInput{
		SessionID:   in.SessionID,
		ModelID:     in.ModelID,
		ProviderID:  in.ProviderID,
		Messages:    history,
		System:      in.SystemPrompt,
		Tools:       toolDefs,
		ToolChoice:  resolved.ToolChoice,
		Retries:     in.Retries,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Agent.Temperature,
		TopP:        in.Agent.TopP,
	}

	return PrepareResult{StreamInput: streamInput, MaxStepsReached: resolved.MaxStepsReached}
}
