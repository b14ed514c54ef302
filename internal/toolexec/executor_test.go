package toolexec

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

func newHarness(t *testing.T) (*Executor, *tools.Registry, *permission.Engine) {
	t.Helper()
	b := bus.New(nil)
	perm := permission.New(b)
	reg := tools.NewRegistry()
	return New(reg, perm, DefaultConfig()), reg, perm
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	ex, _, _ := newHarness(t)
	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, nil, Call{ToolName: "missing", Input: json.RawMessage(`{}`)})
	if out.Error == "" {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteRunsToolAndMapsResult(t *testing.T) {
	ex, reg, _ := newHarness(t)
	_ = reg.Register(&tools.Tool{
		ID:               "echo",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		Execute: func(tc tools.ToolContext, input json.RawMessage) (*tools.Result, error) {
			return &tools.Result{Output: "hello", Title: "Echo"}, nil
		},
	})

	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, nil, Call{ToolName: "echo", Input: json.RawMessage(`{"text":"hi"}`)})
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Output != "hello" || out.Title != "Echo" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestExecuteStructuredOutputShortCircuits(t *testing.T) {
	ex, _, _ := newHarness(t)
	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, nil, Call{
		ToolName: tools.StructuredOutputTool,
		Input:    json.RawMessage(`{"answer":42}`),
	})
	if out.Output != `{"answer":42}` {
		t.Fatalf("expected structured output passthrough, got %+v", out)
	}
}

func TestExecutePermissionDeniedBlocks(t *testing.T) {
	ex, reg, _ := newHarness(t)
	_ = reg.Register(&tools.Tool{
		ID:               "bash",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Execute: func(tc tools.ToolContext, input json.RawMessage) (*tools.Result, error) {
			t.Fatal("bash should not execute once denied")
			return nil, nil
		},
		Permissions: func(input json.RawMessage) []tools.PermissionSpec {
			return []tools.PermissionSpec{{Permission: "tool.bash.denied", Pattern: "*"}}
		},
	})

	ruleset := permission.Ruleset{{Permission: "tool.bash.denied", Pattern: "*", Action: permission.ActionDeny}}
	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, ruleset, Call{ToolName: "bash", Input: json.RawMessage(`{}`)})
	if !out.Blocked {
		t.Fatalf("expected blocked outcome, got %+v", out)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	ex, reg, _ := newHarness(t)
	_ = reg.Register(&tools.Tool{
		ID:               "boom",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Execute: func(tc tools.ToolContext, input json.RawMessage) (*tools.Result, error) {
			panic("kaboom")
		},
	})

	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, nil, Call{ToolName: "boom", Input: json.RawMessage(`{}`)})
	if out.Error == "" {
		t.Fatal("expected panic to be mapped to an error outcome")
	}
}

func TestExecuteTimesOut(t *testing.T) {
	b := bus.New(nil)
	perm := permission.New(b)
	reg := tools.NewRegistry()
	ex := New(reg, perm, Config{DefaultTimeout: 10 * time.Millisecond})

	_ = reg.Register(&tools.Tool{
		ID:               "slow",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Execute: func(tc tools.ToolContext, input json.RawMessage) (*tools.Result, error) {
			<-tc.Context.Done()
			return nil, tc.Context.Err()
		},
	})

	out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses1"}, nil, Call{ToolName: "slow", Input: json.RawMessage(`{}`)})
	if out.Error == "" {
		t.Fatal("expected timeout error")
	}
}

func TestDoomLoopTriggersOnRepeatedIdenticalCalls(t *testing.T) {
	ex, reg, perm := newHarness(t)
	_ = reg.Register(&tools.Tool{
		ID:               "grep",
		ParametersSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		Execute: func(tc tools.ToolContext, input json.RawMessage) (*tools.Result, error) {
			return &tools.Result{Output: "match"}, nil
		},
	})

	input := json.RawMessage(`{"q":"needle"}`)
	for i := 0; i < 2; i++ {
		out := ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses-loop"}, nil, Call{ToolName: "grep", Input: input})
		if out.Error != "" {
			t.Fatalf("unexpected error on call %d: %s", i, out.Error)
		}
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- ex.Execute(context.Background(), tools.ToolContext{SessionID: "ses-loop"}, nil, Call{ToolName: "grep", Input: input})
	}()

	var pendingID string
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ps := perm.Pending(); len(ps) > 0 {
			pendingID = ps[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}
	if pendingID == "" {
		t.Fatal("expected doom-loop confirmation request to be pending")
	}

	if err := perm.Reply(pendingID, permission.ReplyReject, "stop"); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-done:
		if !out.Blocked {
			t.Fatalf("expected rejected doom-loop call to be blocked, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for doom-loop call to resolve")
	}
}
