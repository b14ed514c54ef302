// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's
// Messages streaming API to the internal/llm unified Chunk stream.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
)

// Provider streams completions from the Anthropic Messages API. One
// Provider can serve many concurrent StreamCompletion calls; the SDK
// client is safe for concurrent use.
type Provider struct {
	client anthropic.Client
}

// New constructs a Provider for apiKey, optionally against a custom
// base URL (self-hosted gateways, proxies).
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...)}
}

// StreamCompletion streams one attempt; internal/llm.Stream owns
// retries across attempts, so this method never retries internally.
func (p *Provider) StreamCompletion(ctx context.Context, in llm.StreamInput) (<-chan llm.Chunk, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.ModelID),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(in.MaxTokens)),
	}

	if system := llm.JoinSystemPrompt(in.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(in.Tools) > 0 {
		tools, err := convertTools(in.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	if in.Temperature != nil {
		params.Temperature = anthropic.Float(*in.Temperature)
	}
	if in.TopP != nil {
		params.TopP = anthropic.Float(*in.TopP)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan llm.Chunk, 16)
	go processStream(stream, out)
	return out, nil
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 4096
	}
	return v
}

func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []llm.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- llm.Chunk) {
	defer close(out)

	var currentToolCallID, currentToolCallName string
	var currentToolInput strings.Builder
	inToolUse := false
	inThinking := false

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			out <- llm.Chunk{Type: llm.ChunkMessageStart, Usage: &llm.Usage{
				InputTokens:              int(ms.Message.Usage.InputTokens),
				CacheCreationInputTokens: int(ms.Message.Usage.CacheCreationInputTokens),
				CacheReadInputTokens:     int(ms.Message.Usage.CacheReadInputTokens),
			}}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				out <- llm.Chunk{Type: llm.ChunkReasoningStart, ReasoningID: fmt.Sprint(event.Index)}
			case "tool_use":
				toolUse := block.AsToolUse()
				inToolUse = true
				currentToolCallID = toolUse.ID
				currentToolCallName = toolUse.Name
				currentToolInput.Reset()
				out <- llm.Chunk{Type: llm.ChunkToolCallStart, ToolCallID: toolUse.ID, ToolCallName: toolUse.Name}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- llm.Chunk{Type: llm.ChunkText, Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- llm.Chunk{Type: llm.ChunkReasoningDelta, ReasoningText: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					out <- llm.Chunk{Type: llm.ChunkToolCallDelta, ToolCallID: currentToolCallID, ToolCallInputDelta: delta.PartialJSON}
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				out <- llm.Chunk{Type: llm.ChunkReasoningEnd}
			} else if inToolUse {
				inToolUse = false
				out <- llm.Chunk{Type: llm.ChunkToolCallEnd, ToolCall: &llm.ToolCall{
					ID:    currentToolCallID,
					Name:  currentToolCallName,
					Input: json.RawMessage(currentToolInput.String()),
				}}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			out <- llm.Chunk{
				Type:       llm.ChunkMessageDelta,
				Usage:      &llm.Usage{OutputTokens: int(md.Usage.OutputTokens)},
				StopReason: llm.FinishReason(md.Delta.StopReason),
			}

		case "message_stop":
			out <- llm.Chunk{Type: llm.ChunkMessageEnd}
			return

		case "error":
			out <- llm.Chunk{Type: llm.ChunkError, Error: "anthropic stream error"}
			return
		}
	}

	if err := stream.Err(); err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			out <- llm.Chunk{Type: llm.ChunkError, Error: wrapAPIError(apiErr).Error()}
			return
		}
		out <- llm.Chunk{Type: llm.ChunkError, Error: err.Error()}
	}
}

// apiError adapts *anthropic.Error to llm.RetryableError so
// internal/llm's retry loop can classify it without importing the SDK.
type apiError struct {
	cause      *anthropic.Error
	statusCode int
}

func (e *apiError) Error() string   { return e.cause.Error() }
func (e *apiError) Unwrap() error   { return e.cause }
func (e *apiError) StatusCode() int { return e.statusCode }
func (e *apiError) Header(key string) string {
	if e.cause.Response == nil {
		return ""
	}
	return e.cause.Response.Header.Get(key)
}

func wrapAPIError(apiErr *anthropic.Error) error {
	return &apiError{cause: apiErr, statusCode: apiErr.StatusCode}
}
