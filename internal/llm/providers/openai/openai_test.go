package openai

import (
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
)

func TestConvertMessagesPrependsSystemPrompt(t *testing.T) {
	out := convertMessages(nil, "be helpful")
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("expected leading system message, got %+v", out)
	}
}

func TestConvertMessagesMapsToolResultAndAssistantCalls(t *testing.T) {
	messages := []llm.Message{
		{Role: "user", Content: "do it"},
		{Role: "assistant", ToolCalls: []llm.MessageToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"path":"a.go"}`},
		}},
		{Role: "tool", ToolCallID: "call_1", Content: "contents"},
	}
	out := convertMessages(messages, "")
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[1].ToolCalls[0].Function.Name != "read_file" {
		t.Fatalf("expected tool call preserved, got %+v", out[1].ToolCalls)
	}
	if out[2].Role != openai.ChatMessageRoleTool || out[2].ToolCallID != "call_1" {
		t.Fatalf("expected tool-role message with id, got %+v", out[2])
	}
}

func TestConvertToolsFallsBackToEmptySchemaOnInvalidJSON(t *testing.T) {
	tools := []llm.ToolDefinition{{Name: "bad", Parameters: json.RawMessage(`not json`)}}
	out := convertTools(tools)
	if len(out) != 1 {
		t.Fatalf("expected one tool, got %d", len(out))
	}
	if out[0].Function.Parameters == nil {
		t.Fatal("expected fallback schema to be set")
	}
}

func TestWrapStreamErrorClassifiesAPIError(t *testing.T) {
	err := wrapStreamError(&openai.APIError{HTTPStatusCode: 503, Message: "unavailable"})
	var re llm.RetryableError
	if !errors.As(err, &re) {
		t.Fatal("expected wrapped error to satisfy llm.RetryableError")
	}
	if re.StatusCode() != 503 {
		t.Fatalf("got status %d, want 503", re.StatusCode())
	}
}

func TestWrapStreamErrorClassifiesConnectionFailure(t *testing.T) {
	err := wrapStreamError(errors.New("dial tcp: connection refused"))
	if !llm.Retryable(err) {
		t.Fatal("expected connection failure to be retryable")
	}
}

func TestWrapStreamErrorNilIsNil(t *testing.T) {
	if wrapStreamError(nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}
