// Package toolexec executes one tool call at a time: it resolves the
// tool, consults the permission engine, runs the doom-loop detector,
// invokes the tool with panic/timeout safety, and maps the outcome to
// a persisted tool-part update, per SPEC_FULL.md §4.6.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

// Config tunes timeout behaviour.
type Config struct {
	DefaultTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{DefaultTimeout: 30 * time.Second}
}

// Outcome is the mapped result of one tool call.
type Outcome struct {
	Output      string
	Title       string
	Metadata    map[string]any
	Attachments []string
	Error       string
	Blocked     bool
}

// Executor runs exactly one tool call at a time per turn; concurrency
// across calls comes from the turn runner yielding sequential
// tool-call-end chunks, not from this type.
type Executor struct {
	registry   *tools.Registry
	permission *permission.Engine
	config     Config
	doomLoop   *DoomLoopDetector
}

// New creates an Executor backed by registry and permission engine.
func New(registry *tools.Registry, perm *permission.Engine, config Config) *Executor {
	if config.DefaultTimeout == 0 {
		config = DefaultConfig()
	}
	return &Executor{registry: registry, permission: perm, config: config, doomLoop: NewDoomLoopDetector(perm, 3, 50)}
}

// Call is one invocation the caller wants executed.
type Call struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
}

// Execute runs one tool call end to end. ruleset is the caller's
// effective permission ruleset for this turn (agent policy concatenated
// with session/project/global config, per spec.md §4.3); a nil ruleset
// lets every permission default to allow, per Evaluate's no-match rule.
func (e *Executor) Execute(ctx context.Context, tc tools.ToolContext, ruleset permission.Ruleset, call Call) Outcome {
	if call.ToolName == tools.StructuredOutputTool {
		// Stashed on the turn by the caller; no side effects here.
		return Outcome{Output: string(call.Input)}
	}

	t, ok := e.registry.Get(call.ToolName)
	if !ok {
		return Outcome{Error: "Unknown tool"}
	}

	if t.Permissions != nil {
		for _, spec := range t.Permissions(call.Input) {
			err := e.permission.Ask(tc.SessionID, "", spec.Permission, []string{spec.Pattern}, ruleset, []string{spec.Pattern}, nil, call.ToolName, permission.ScopeSession)
			if err != nil {
				return mapPermissionError(err)
			}
		}
	}

	if outcome, asked := e.doomLoop.Check(tc.SessionID, call.ToolName, call.Input); asked {
		if outcome != nil {
			return *outcome
		}
	}

	result, err := e.executeWithTimeout(ctx, tc, t, call)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return Outcome{
		Output:      result.Output,
		Title:       result.Title,
		Metadata:    result.Metadata,
		Attachments: result.Attachments,
	}
}

func mapPermissionError(err error) Outcome {
	var denied *permission.DeniedError
	var rejected *permission.RejectedError
	switch {
	case errors.As(err, &denied):
		return Outcome{Error: denied.Error(), Blocked: true}
	case errors.As(err, &rejected):
		return Outcome{Error: rejected.Error(), Blocked: true}
	default:
		return Outcome{Error: err.Error(), Blocked: true}
	}
}

func (e *Executor) executeWithTimeout(ctx context.Context, tc tools.ToolContext, t *tools.Tool, call Call) (*tools.Result, error) {
	timeout := e.config.DefaultTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *tools.Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool %q panicked: %v\n%s", call.ToolName, r, debug.Stack())}
			}
		}()
		tc.Context = execCtx
		result, err := t.Execute(tc, call.Input)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tool %q timed out after %s", call.ToolName, timeout)
	}
}
