package turn

import (
	"encoding/json"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

func newToolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	_ = reg.Register(&tools.Tool{
		ID:               "read_file",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		Execute: func(tools.ToolContext, json.RawMessage) (*tools.Result, error) {
			return &tools.Result{}, nil
		},
	})
	return reg
}

func TestPrepareResolvesToolsAndBuildsStreamInput(t *testing.T) {
	reg := newToolRegistry(t)
	result := Prepare(PrepareInput{
		SessionID:    "ses1",
		Agent:        AgentInfo{Name: "build", Steps: 5},
		Turn:         1,
		History:      []llm.Message{{Role: "user", Content: "hi"}},
		SystemPrompt: []string{"be helpful"},
		ProviderID:   "anthropic",
		ModelID:      "claude-3",
		Retries:      2,
		Registry:     reg,
	})

	if result.MaxStepsReached {
		t.Fatal("did not expect max steps reached")
	}
	if len(result.StreamInput.Tools) != 1 || result.StreamInput.Tools[0].Name != "read_file" {
		t.Fatalf("expected read_file tool resolved, got %+v", result.StreamInput.Tools)
	}
	if result.StreamInput.ToolChoice != "auto" {
		t.Fatalf("got tool choice %q", result.StreamInput.ToolChoice)
	}
	if len(result.StreamInput.Messages) != 1 {
		t.Fatalf("expected history unchanged, got %d messages", len(result.StreamInput.Messages))
	}
}

func TestPrepareAppendsMaxStepsReminder(t *testing.T) {
	reg := newToolRegistry(t)
	result := Prepare(PrepareInput{
		SessionID: "ses1",
		Agent:     AgentInfo{Name: "build", Steps: 3},
		Turn:      3,
		History:   []llm.Message{{Role: "user", Content: "hi"}},
		Registry:  reg,
	})

	if !result.MaxStepsReached {
		t.Fatal("expected max steps reached")
	}
	if len(result.StreamInput.Tools) != 0 {
		t.Fatalf("expected no tools on last step, got %+v", result.StreamInput.Tools)
	}
	messages := result.StreamInput.Messages
	if len(messages) != 2 {
		t.Fatalf("expected reminder appended, got %d messages", len(messages))
	}
	last := messages[len(messages)-1]
	if last.Role != "assistant" || last.Content != tools.MaxStepsReminder {
		t.Fatalf("expected reminder message, got %+v", last)
	}
}

func TestPrepareRequestsStructuredOutput(t *testing.T) {
	reg := newToolRegistry(t)
	result := Prepare(PrepareInput{
		SessionID:        "ses1",
		Agent:            AgentInfo{Name: "build"},
		Registry:         reg,
		StructuredSchema: json.RawMessage(`{"type":"object"}`),
	})

	if result.StreamInput.ToolChoice != "required" {
		t.Fatalf("got tool choice %q", result.StreamInput.ToolChoice)
	}
	found := false
	for _, tool := range result.StreamInput.Tools {
		if tool.Name == tools.StructuredOutputTool {
			found = true
		}
	}
	if !found {
		t.Fatal("expected StructuredOutput tool appended")
	}
}
