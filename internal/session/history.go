package session

import (
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
)

// LoadHistory assembles the LLM-ready message history for sessionID:
// it loads every message and its parts, slices off anything before
// the newest resolved compaction boundary via store.FilterCompacted,
// then flattens the remaining messages into llm.Message values. It
// also returns the agent name of the last assistant reply in that
// window, used to resume an in-progress agent across turns.
func LoadHistory(s *store.Store, sessionID string) ([]llm.Message, string, error) {
	infos, err := s.GetMessages(sessionID)
	if err != nil {
		return nil, "", err
	}

	withParts := make([]store.WithParts, len(infos))
	for i, info := range infos {
		parts, err := s.GetParts(sessionID, info.ID)
		if err != nil {
			return nil, "", err
		}
		withParts[i] = store.WithParts{Info: info, Parts: parts}
	}

	filtered := store.FilterCompacted(withParts)

	var messages []llm.Message
	lastAssistantAgent := ""
	for _, wp := range filtered {
		if wp.Info.Role == store.RoleAssistant && wp.Info.Agent != "" {
			lastAssistantAgent = wp.Info.Agent
		}
		messages = append(messages, messagesFromParts(wp)...)
	}

	return messages, lastAssistantAgent, nil
}

// messagesFromParts flattens one stored message and its parts into
// zero or more llm.Message values: a primary message in wp.Info.Role
// carrying concatenated text and any tool calls, plus one additional
// tool-role message per finished tool call carrying its result.
func messagesFromParts(wp store.WithParts) []llm.Message {
	role := string(wp.Info.Role)
	primary := llm.Message{Role: role}

	var tailMessages []llm.Message

	for _, p := range wp.Parts {
		switch part := p.(type) {
		case store.TextPart:
			if part.Ignored {
				continue
			}
			primary.Content += part.Text

		case store.ToolPart:
			primary.ToolCalls = append(primary.ToolCalls, llm.MessageToolCall{
				ID:        part.CallID,
				Name:      part.Tool,
				Arguments: string(part.State.Input),
			})
			if part.State.Status == store.ToolCompleted || part.State.Status == store.ToolError {
				output := part.State.Output
				if part.State.Status == store.ToolError {
					output = part.State.Error
				}
				tailMessages = append(tailMessages, llm.Message{
					Role:       "tool",
					Content:    output,
					ToolCallID: part.CallID,
				})
			}
		}
	}

	if primary.Content == "" && len(primary.ToolCalls) == 0 {
		return tailMessages
	}
	return append([]llm.Message{primary}, tailMessages...)
}
