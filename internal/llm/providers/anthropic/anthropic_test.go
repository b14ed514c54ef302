package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
)

func TestConvertMessagesSkipsSystemAndMapsToolResult(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hi"},
		{Role: "tool", ToolCallID: "call_1", Content: "42"},
	}
	out, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected system message dropped, got %d messages", len(out))
	}
}

func TestConvertMessagesEncodesToolCallInput(t *testing.T) {
	messages := []llm.Message{
		{Role: "assistant", ToolCalls: []llm.MessageToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"path":"a.go"}`},
		}},
	}
	out, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one assistant message, got %d", len(out))
	}
}

func TestConvertMessagesRejectsMalformedToolArguments(t *testing.T) {
	messages := []llm.Message{
		{Role: "assistant", ToolCalls: []llm.MessageToolCall{
			{ID: "call_1", Name: "read_file", Arguments: "not json"},
		}},
	}
	if _, err := convertMessages(messages); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestConvertToolsBuildsSchemaFromParameters(t *testing.T) {
	tools := []llm.ToolDefinition{
		{Name: "read_file", Description: "reads a file", Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}}
		}`)},
	}
	out, err := convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one tool, got %d", len(out))
	}
	if out[0].OfTool == nil {
		t.Fatal("expected OfTool to be populated")
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	tools := []llm.ToolDefinition{
		{Name: "bad", Parameters: json.RawMessage(`not json`)},
	}
	if _, err := convertTools(tools); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if got := maxTokensOrDefault(0); got != 4096 {
		t.Fatalf("got %d, want 4096", got)
	}
	if got := maxTokensOrDefault(100); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
}
