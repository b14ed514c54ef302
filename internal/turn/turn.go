// Package turn implements the chunk-dispatch state machine that
// consumes one streamed LLM completion and drives tool execution,
// plus the turn preparer that assembles a StreamInput for it.
package turn

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/toolexec"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

// Status is a turn's terminal disposition.
type Status string

const (
	StatusContinue Status = "continue"
	StatusStop     Status = "stop"
	StatusError    Status = "error"
)

// ToolCallStatus tracks one tool call's lifecycle within a turn.
type ToolCallStatus string

const (
	ToolPending   ToolCallStatus = "pending"
	ToolRunning   ToolCallStatus = "running"
	ToolCompleted ToolCallStatus = "completed"
	ToolFailed    ToolCallStatus = "error"
)

// ToolCallState is the mutable record of one in-flight or finished
// tool call, updated as chunks arrive and as the Tool Executor runs.
type ToolCallState struct {
	ID   string
	Name string

	Input json.RawMessage

	Status ToolCallStatus

	Output      string
	Error       string
	Title       string
	Blocked     bool
	Attachments []string
	Metadata    map[string]any

	StartTimeMS int64
	EndTimeMS   int64
}

// Result is what Run produces once the stream ends, the turn is
// stopped, or an in-band error chunk terminates it early.
type Result struct {
	Status        Status
	Text          string
	ReasoningText string
	ToolCalls     []*ToolCallState
	Error         string
	Usage         llm.Usage
	StopReason    llm.FinishReason
}

// Callbacks are notified as the turn progresses; any field may be
// nil. A callback panic is recovered and logged, matching the
// original's call_callback isolation, and never aborts the turn.
type Callbacks struct {
	OnText           func(text string)
	OnToolStart      func(name, id string, input json.RawMessage)
	OnToolEnd        func(tc *ToolCallState)
	OnToolUpdate     func(tc *ToolCallState)
	OnReasoningStart func(reasoningID string, metadata map[string]any)
	OnReasoningDelta func(reasoningID, text string, metadata map[string]any)
	OnReasoningEnd   func(reasoningID string, metadata map[string]any)
}

func safely(log *slog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("turn callback panicked", "panic", r)
		}
	}()
	fn()
}

func (c Callbacks) text(log *slog.Logger, s string) {
	if c.OnText != nil {
		safely(log, func() { c.OnText(s) })
	}
}

func (c Callbacks) toolStart(log *slog.Logger, name, id string, input json.RawMessage) {
	if c.OnToolStart != nil {
		safely(log, func() { c.OnToolStart(name, id, input) })
	}
}

func (c Callbacks) toolEnd(log *slog.Logger, tc *ToolCallState) {
	if c.OnToolEnd != nil {
		safely(log, func() { c.OnToolEnd(tc) })
	}
}

func (c Callbacks) toolUpdate(log *slog.Logger, tc *ToolCallState) {
	if c.OnToolUpdate != nil {
		safely(log, func() { c.OnToolUpdate(tc) })
	}
}

func (c Callbacks) reasoningStart(log *slog.Logger, id string, metadata map[string]any) {
	if c.OnReasoningStart != nil {
		safely(log, func() { c.OnReasoningStart(id, metadata) })
	}
}

func (c Callbacks) reasoningDelta(log *slog.Logger, id, text string, metadata map[string]any) {
	if c.OnReasoningDelta != nil {
		safely(log, func() { c.OnReasoningDelta(id, text, metadata) })
	}
}

func (c Callbacks) reasoningEnd(log *slog.Logger, id string, metadata map[string]any) {
	if c.OnReasoningEnd != nil {
		safely(log, func() { c.OnReasoningEnd(id, metadata) })
	}
}

// Input bundles everything one Run call needs.
type Input struct {
	StreamInput        llm.StreamInput
	ToolContext        tools.ToolContext
	Ruleset            permission.Ruleset
	ContinueLoopOnDeny bool
	Callbacks          Callbacks
}

// Runner consumes a provider-agnostic chunk stream and coordinates
// per-chunk callbacks and tool dispatch, per SPEC_FULL.md §4.8.
type Runner struct {
	providers llm.Registry
	executor  *toolexec.Executor
	log       *slog.Logger
}

// New constructs a Runner. If log is nil, slog.Default() is used.
func New(providers llm.Registry, executor *toolexec.Executor, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{providers: providers, executor: executor, log: log}
}

// Run streams in.StreamInput to completion, dispatching tool calls as
// they close and invoking in.Callbacks as chunks arrive. All
// model-supplied text and reasoning already arrives sanitised by
// internal/llm.Stream before Run ever sees it.
func (r *Runner) Run(ctx context.Context, in Input) *Result {
	result := &Result{Status: StatusContinue}
	calls := map[string]*ToolCallState{}
	var reasoning []byte
	cb := in.Callbacks

	chunks := llm.Stream(ctx, r.providers, in.StreamInput, r.log)

	for chunk := range chunks {
		switch chunk.Type {
		case llm.ChunkText:
			if chunk.Text == "" {
				continue
			}
			result.Text += chunk.Text
			cb.text(r.log, chunk.Text)

		case llm.ChunkToolCallStart:
			tc := &ToolCallState{
				ID:          chunk.ToolCallID,
				Name:        chunk.ToolCallName,
				Status:      ToolPending,
				StartTimeMS: nowMS(),
			}
			calls[tc.ID] = tc
			cb.toolStart(r.log, tc.Name, tc.ID, nil)
			cb.toolUpdate(r.log, tc)

		case llm.ChunkToolCallEnd:
			if chunk.ToolCall == nil {
				continue
			}
			tc, ok := calls[chunk.ToolCall.ID]
			if !ok {
				continue
			}
			tc.Input = chunk.ToolCall.Input
			tc.Status = ToolRunning
			cb.toolStart(r.log, tc.Name, tc.ID, tc.Input)
			cb.toolUpdate(r.log, tc)

			r.runTool(ctx, in, tc)
			tc.EndTimeMS = nowMS()
			cb.toolUpdate(r.log, tc)

			result.ToolCalls = append(result.ToolCalls, tc)
			cb.toolEnd(r.log, tc)

			if tc.Blocked && !in.ContinueLoopOnDeny {
				result.Status = StatusStop
				result.ReasoningText = string(reasoning)
				return result
			}

		case llm.ChunkReasoningStart:
			cb.reasoningStart(r.log, chunk.ReasoningID, chunk.ProviderMetadata)

		case llm.ChunkReasoningDelta:
			if chunk.ReasoningText != "" {
				reasoning = append(reasoning, chunk.ReasoningText...)
			}
			cb.reasoningDelta(r.log, chunk.ReasoningID, chunk.ReasoningText, chunk.ProviderMetadata)

		case llm.ChunkReasoningEnd:
			cb.reasoningEnd(r.log, chunk.ReasoningID, chunk.ProviderMetadata)

		case llm.ChunkMessageDelta:
			if chunk.Usage != nil {
				mergeUsage(&result.Usage, *chunk.Usage)
			}
			if chunk.StopReason != "" {
				result.StopReason = chunk.StopReason
			}

		case llm.ChunkError:
			result.Status = StatusError
			result.Error = chunk.Error
			result.ReasoningText = string(reasoning)
			return result
		}
	}

	result.ReasoningText = string(reasoning)
	return result
}

func (r *Runner) runTool(ctx context.Context, in Input, tc *ToolCallState) {
	tcCopy := in.ToolContext
	tcCopy.CallID = tc.ID
	outcome := r.executor.Execute(ctx, tcCopy, in.Ruleset, toolexec.Call{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Input:      tc.Input,
	})

	if outcome.Error != "" {
		tc.Status = ToolFailed
		tc.Error = outcome.Error
		tc.Blocked = outcome.Blocked
		return
	}
	tc.Status = ToolCompleted
	tc.Output = outcome.Output
	tc.Title = outcome.Title
	tc.Attachments = outcome.Attachments
	tc.Metadata = outcome.Metadata
}

func nowMS() int64 { return time.Now().UnixMilli() }

func mergeUsage(dst *llm.Usage, src llm.Usage) {
	if src.InputTokens > 0 {
		dst.InputTokens = src.InputTokens
	}
	if src.OutputTokens > 0 {
		dst.OutputTokens = src.OutputTokens
	}
	if src.CacheCreationInputTokens > 0 {
		dst.CacheCreationInputTokens = src.CacheCreationInputTokens
	}
	if src.CacheReadInputTokens > 0 {
		dst.CacheReadInputTokens = src.CacheReadInputTokens
	}
	if src.ReasoningTokens > 0 {
		dst.ReasoningTokens = src.ReasoningTokens
	}
}
