package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Message is the provider-agnostic chat message shape normalised
// before provider-specific conversion.
type Message struct {
	Role            string // system, user, assistant, tool
	Content         string
	ToolCalls       []MessageToolCall
	ToolCallID      string
	ProviderOptions map[string]map[string]any
}

// MessageToolCall is one assistant-issued call recorded on a history
// message, distinct from the streaming ToolCall shape.
type MessageToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// StreamInput is everything a Provider needs to start one streamed
// completion.
type StreamInput struct {
	SessionID   string
	ModelID     string
	ProviderID  string
	Messages    []Message
	System      []string
	Tools       []ToolDefinition
	ToolChoice  string
	Retries     int
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Options     map[string]any
}

// ToolDefinition is the provider-facing tool descriptor, matching
// internal/tools.LLMTool's shape so the resolver's output feeds
// straight into a StreamInput.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

var emptyAssistantPlaceholder = "Done."

// JoinSystemPrompt concatenates non-blank system fragments with a
// blank line between each, matching the original's _join_system_prompt.
func JoinSystemPrompt(system []string) string {
	var parts []string
	for _, s := range system {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

var (
	mistralIDPattern   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	anthropicIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// NormalizeToolCallID rewrites a tool-call id to satisfy a provider's
// id format requirements: Mistral-family wants 9 alphanumerics,
// Anthropic/Claude rejects characters outside [a-zA-Z0-9_-].
func NormalizeToolCallID(toolCallID, providerID, modelID string) string {
	if toolCallID == "" {
		return toolCallID
	}
	provider := strings.ToLower(providerID)
	model := strings.ToLower(modelID)

	if provider == "mistral" || strings.Contains(model, "mistral") || strings.Contains(model, "devstral") {
		cleaned := mistralIDPattern.ReplaceAllString(toolCallID, "")
		if len(cleaned) > 9 {
			cleaned = cleaned[:9]
		}
		for len(cleaned) < 9 {
			cleaned += "0"
		}
		return cleaned
	}

	if provider == "anthropic" || strings.Contains(model, "claude") {
		return anthropicIDPattern.ReplaceAllString(toolCallID, "_")
	}

	return toolCallID
}

func providerOptionsAlias(providerID string) string {
	switch strings.ToLower(providerID) {
	case "openai", "azure":
		return "openai"
	case "anthropic":
		return "anthropic"
	case "amazon-bedrock", "bedrock":
		return "bedrock"
	case "openrouter":
		return "openrouter"
	default:
		return strings.ToLower(providerID)
	}
}

var cacheControlByAlias = map[string]map[string]any{
	"anthropic":  {"cacheControl": map[string]any{"type": "ephemeral"}},
	"openrouter": {"cacheControl": map[string]any{"type": "ephemeral"}},
	"bedrock":    {"cachePoint": map[string]any{"type": "default"}},
	"openai":     {"cache_control": map[string]any{"type": "ephemeral"}},
}

// ApplyCacheControls injects a provider's cache hint on the first two
// system messages and the last two messages overall, matching the
// original's apply_cache_controls window.
func ApplyCacheControls(messages []Message, providerID string) []Message {
	if len(messages) == 0 {
		return messages
	}
	out := make([]Message, len(messages))
	copy(out, messages)

	alias := providerOptionsAlias(providerID)
	cacheOpt, ok := cacheControlByAlias[alias]
	if !ok {
		return out
	}

	targets := map[int]bool{}
	heads := 0
	for i, m := range out {
		if m.Role == "system" {
			targets[i] = true
			heads++
			if heads >= 2 {
				break
			}
		}
	}
	for i := len(out) - 2; i < len(out); i++ {
		if i >= 0 {
			targets[i] = true
		}
	}

	for i := range out {
		if !targets[i] {
			continue
		}
		if out[i].ProviderOptions == nil {
			out[i].ProviderOptions = map[string]map[string]any{}
		}
		existing := out[i].ProviderOptions[alias]
		merged := make(map[string]any, len(existing)+len(cacheOpt))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range cacheOpt {
			merged[k] = v
		}
		out[i].ProviderOptions[alias] = merged
	}
	return out
}

// NormalizeMessages rewrites tool-call ids, drops blank assistant/user
// turns Anthropic rejects, inserts a placeholder assistant turn
// between a tool result and a following user turn for Mistral
// gateways that reject that adjacency, and applies cache controls.
func NormalizeMessages(messages []Message, providerID, modelID, apiType string) []Message {
	isAnthropic := apiType == "anthropic" || strings.ToLower(providerID) == "anthropic" || strings.Contains(strings.ToLower(modelID), "claude")
	isMistral := strings.Contains(strings.ToLower(providerID), "mistral") || strings.Contains(strings.ToLower(modelID), "mistral")

	var out []Message
	for i, msg := range messages {
		m := msg

		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			cleaned := make([]MessageToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				cleaned[j] = tc
				if tc.ID != "" {
					cleaned[j].ID = NormalizeToolCallID(tc.ID, providerID, modelID)
				}
			}
			m.ToolCalls = cleaned
		}

		if m.Role == "tool" && m.ToolCallID != "" {
			m.ToolCallID = NormalizeToolCallID(m.ToolCallID, providerID, modelID)
		}

		if isAnthropic && (m.Role == "assistant" || m.Role == "user") && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}

		out = append(out, m)

		if m.Role == "tool" && i+1 < len(messages) && messages[i+1].Role == "user" && isMistral {
			out = append(out, Message{Role: "assistant", Content: emptyAssistantPlaceholder})
		}
	}

	out = ApplyCacheControls(out, providerID)
	return out
}

// HasToolCalls reports whether any message in history carries a tool
// role entry or a non-empty tool-call list, used to decide whether a
// turn needs to resend tool context.
func HasToolCalls(messages []Message) bool {
	for _, m := range messages {
		if m.Role == "tool" {
			return true
		}
		if len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}
