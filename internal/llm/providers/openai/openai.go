// Package openai adapts github.com/sashabaranov/go-openai's chat
// completion streaming API to the internal/llm unified Chunk stream.
// It also serves any OpenAI-compatible gateway reachable by base URL
// (OpenRouter, self-hosted proxies, Mistral's OpenAI-compatible mode).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
)

// Provider streams completions from an OpenAI-compatible chat
// completions endpoint.
type Provider struct {
	client *openai.Client
}

// New constructs a Provider for apiKey, optionally against a custom
// base URL for OpenAI-compatible gateways.
func New(apiKey, baseURL string) *Provider {
	if strings.TrimSpace(baseURL) == "" {
		return &Provider{client: openai.NewClient(apiKey)}
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	return &Provider{client: openai.NewClientWithConfig(config)}
}

// StreamCompletion streams one attempt; internal/llm.Stream owns
// retries across attempts, so this method never retries internally.
func (p *Provider) StreamCompletion(ctx context.Context, in llm.StreamInput) (<-chan llm.Chunk, error) {
	messages := convertMessages(in.Messages, llm.JoinSystemPrompt(in.System))

	req := openai.ChatCompletionRequest{
		Model:    in.ModelID,
		Messages: messages,
		Stream:   true,
	}
	if in.MaxTokens > 0 {
		req.MaxTokens = in.MaxTokens
	}
	if in.Temperature != nil {
		req.Temperature = float32(*in.Temperature)
	}
	if in.TopP != nil {
		req.TopP = float32(*in.TopP)
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapStreamError(err)
	}

	out := make(chan llm.Chunk, 16)
	go processStream(stream, out)
	return out, nil
}

func convertMessages(messages []llm.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})

		case "tool":
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}

	return result
}

func convertTools(tools []llm.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

type pendingToolCall struct {
	id, name string
	args     strings.Builder
}

func processStream(stream *openai.ChatCompletionStream, out chan<- llm.Chunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := map[int]*pendingToolCall{}
	order := []int{}
	started := map[int]bool{}

	flush := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.id == "" || tc.name == "" {
				continue
			}
			out <- llm.Chunk{Type: llm.ChunkToolCallEnd, ToolCall: &llm.ToolCall{
				ID:    tc.id,
				Name:  tc.name,
				Input: json.RawMessage(tc.args.String()),
			}}
		}
		toolCalls = map[int]*pendingToolCall{}
		order = nil
		started = map[int]bool{}
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				out <- llm.Chunk{Type: llm.ChunkMessageEnd}
				return
			}
			out <- llm.Chunk{Type: llm.ChunkError, Error: wrapStreamError(err).Error()}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- llm.Chunk{Type: llm.ChunkText, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			pending, ok := toolCalls[index]
			if !ok {
				pending = &pendingToolCall{}
				toolCalls[index] = pending
				order = append(order, index)
			}
			if tc.ID != "" {
				pending.id = tc.ID
			}
			if tc.Function.Name != "" {
				pending.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				if !started[index] {
					started[index] = true
					out <- llm.Chunk{Type: llm.ChunkToolCallStart, ToolCallID: pending.id, ToolCallName: pending.name}
				}
				pending.args.WriteString(tc.Function.Arguments)
				out <- llm.Chunk{Type: llm.ChunkToolCallDelta, ToolCallID: pending.id, ToolCallInputDelta: tc.Function.Arguments}
			}
		}

		if choice.FinishReason != "" {
			stop := llm.NormalizeFinishReason(string(choice.FinishReason))
			if string(choice.FinishReason) == "tool_calls" {
				flush()
			}
			usage := (*llm.Usage)(nil)
			if response.Usage != nil {
				usage = &llm.Usage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
				}
			}
			out <- llm.Chunk{Type: llm.ChunkMessageDelta, StopReason: stop, Usage: usage}
		}
	}
}

// apiError adapts an OpenAI API error to llm.RetryableError.
type apiError struct {
	cause      error
	statusCode int
	headers    map[string]string
}

func (e *apiError) Error() string  { return e.cause.Error() }
func (e *apiError) Unwrap() error  { return e.cause }
func (e *apiError) StatusCode() int { return e.statusCode }
func (e *apiError) Header(key string) string {
	return e.headers[strings.ToLower(key)]
}

// wrapStreamError classifies a go-openai error into llm.RetryableError
// where possible. go-openai surfaces HTTP failures as *openai.APIError
// carrying a numeric HTTPStatusCode; anything else (dial/timeout
// failures from the underlying transport) is wrapped as a connection
// error so Retryable still recognises it.
func wrapStreamError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apiError{cause: err, statusCode: apiErr.HTTPStatusCode}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return llm.WrapTimeoutError(err)
	}
	return llm.WrapConnectionError(err)
}
