package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

const compactionUserText = "What did we do so far?"
const continueUserText = "Continue if you have next steps, or stop and ask for clarification if you are unsure how to proceed."

// maxTitleWords/maxTitleLen bound the best-effort title derived from
// the session's first user message.
const maxTitleWords = 7
const maxTitleLen = 120

// Loop drives the Session Prompt Loop: persisting turns, running the
// Turn Runner step by step, and triggering compaction, per
// SPEC_FULL.md §4.10.
type Loop struct {
	store    *store.Store
	runner   *turn.Runner
	compact  *Compaction
	log      *slog.Logger
}

// NewLoop constructs a Loop. If log is nil, slog.Default() is used.
func NewLoop(s *store.Store, runner *turn.Runner, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{store: s, runner: runner, compact: NewCompaction(s), log: log}
}

// PromptInput bundles everything one Prompt call needs.
type PromptInput struct {
	SessionID  string
	Content    string
	Format     map[string]any
	ProviderID string
	ModelID    string
	Agent      turn.AgentInfo
	Cwd        string
	Worktree   string

	SystemPrompt []string

	AssistantMessageID string

	AutoCompaction bool
	ResumeHistory  bool

	Retries   int
	MaxTokens int

	Model            ModelInfo
	CompactionConfig *config.CompactionConfig
	CompactionAgent  *turn.AgentInfo

	Ruleset            permission.Ruleset
	ContinueLoopOnDeny bool
	MCP                tools.MCPSource
	Registry           *tools.Registry

	Callbacks turn.Callbacks
}

// PromptResult is what Prompt produces once the loop stops.
type PromptResult struct {
	Status             turn.Status
	Text               string
	Error              string
	UserMessageID      string
	AssistantMessageID string
}

// Prompt persists the incoming user message, best-effort titles the
// session, then runs the prompt loop to completion.
func (l *Loop) Prompt(ctx context.Context, in PromptInput) (*PromptResult, error) {
	sessionInfo, err := l.store.GetSession(in.SessionID, "")
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if sessionInfo.Title == "" {
		if title := titleFromText(in.Content); title != "" {
			upd := store.SessionUpdate{Title: &title}
			if _, err := l.store.UpdateSession(in.SessionID, sessionInfo.ProjectID, upd); err != nil {
				l.log.Warn("failed to set session title", "error", err)
			}
		}
	}

	userMessageID, err := l.persistUserMessage(in)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	var history []llm.Message
	lastAgent := ""
	if in.ResumeHistory {
		history, lastAgent, err = LoadHistory(l.store, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	} else {
		history = append(history, llm.Message{Role: "user", Content: in.Content})
	}
	_ = lastAgent

	return l.loop(ctx, in, userMessageID, history)
}

// Compact opens a manual (non-auto) compaction window over sessionID's
// existing history and runs the loop to resolve it, skipping the
// ordinary user-message persistence Prompt does: a manual compaction
// is not itself a conversational turn.
func (l *Loop) Compact(ctx context.Context, in PromptInput) (*PromptResult, error) {
	history, _, err := LoadHistory(l.store, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgID, err := l.compact.CreateRequest(in.SessionID, in.Agent.Name, in.ProviderID, in.ModelID, false, "")
	if err != nil {
		return nil, fmt.Errorf("create compaction request: %w", err)
	}

	return l.loop(ctx, in, msgID, history)
}

func (l *Loop) loop(ctx context.Context, in PromptInput, userMessageID string, history []llm.Message) (*PromptResult, error) {
	assistantMessageID := in.AssistantMessageID
	turnNumber := 0

	for {
		pending, err := l.compact.Pending(in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("pending compaction: %w", err)
		}
		if pending != nil {
			res, err := l.runCompaction(ctx, in, history, compactionRunOptions{
				auto:             pending.Auto,
				compactionUserID: pending.UserMessageID,
			})
			if err != nil {
				return nil, err
			}
			if res.err != "" {
				return &PromptResult{Status: turn.StatusError, Error: res.err, UserMessageID: userMessageID}, nil
			}
			history = res.history
			if !res.autoContinued {
				return &PromptResult{Status: turn.StatusStop, UserMessageID: userMessageID}, nil
			}
			continue
		}

		if assistantMessageID == "" {
			assistantMessageID, err = id.Ascending(id.PrefixMessage)
			if err != nil {
				return nil, err
			}
		}

		structuredSchema := structuredSchemaFromFormat(in.Format)

		prep := turn.Prepare(turn.PrepareInput{
			SessionID:        in.SessionID,
			Agent:            in.Agent,
			Turn:             turnNumber,
			History:          history,
			SystemPrompt:     in.SystemPrompt,
			ProviderID:       in.ProviderID,
			ModelID:          in.ModelID,
			Retries:          in.Retries,
			MaxTokens:        in.MaxTokens,
			Registry:         in.Registry,
			MCP:              in.MCP,
			StructuredSchema: structuredSchema,
		})

		if err := l.writeStepStart(in.SessionID, assistantMessageID); err != nil {
			return nil, err
		}

		result := l.runner.Run(ctx, turn.Input{
			StreamInput: prep.StreamInput,
			ToolContext: tools.ToolContext{
				Context:    ctx,
				SessionID:  in.SessionID,
				MessageID:  assistantMessageID,
				Agent:      in.Agent.Name,
				Cwd:        in.Cwd,
				Worktree:   in.Worktree,
				ProviderID: in.ProviderID,
				ModelID:    in.ModelID,
			},
			Ruleset:            in.Ruleset,
			ContinueLoopOnDeny: in.ContinueLoopOnDeny,
			Callbacks:          in.Callbacks,
		})

		finish := stepFinishReason(result)
		cost := usageCost(result.Usage, in.Model)
		tokens := tokensFromUsage(result.Usage)

		if err := l.persistAssistantMessage(in, assistantMessageID, userMessageID, result, finish, cost, tokens, structuredSchema != nil); err != nil {
			return nil, err
		}
		if err := l.writeStepFinish(in.SessionID, assistantMessageID, finish, cost, tokens); err != nil {
			return nil, err
		}

		history = append(history, historyMessagesForStep(result)...)

		if result.Status == turn.StatusError {
			return &PromptResult{
				Status:              turn.StatusError,
				Text:                result.Text,
				Error:               result.Error,
				UserMessageID:       userMessageID,
				AssistantMessageID:  assistantMessageID,
			}, nil
		}
		if result.Status != turn.StatusContinue || len(result.ToolCalls) == 0 {
			break
		}

		if in.AutoCompaction && in.Model.Limits.Context > 0 {
			if l.compact.IsOverflow(tokens, in.Model, in.CompactionConfig) {
				res, err := l.runCompaction(ctx, in, history, compactionRunOptions{auto: true})
				if err != nil {
					return nil, err
				}
				if res.err != "" {
					return &PromptResult{Status: turn.StatusError, Error: res.err, UserMessageID: userMessageID}, nil
				}
				history = res.history
				if !res.autoContinued {
					break
				}
				assistantMessageID = ""
				turnNumber++
				continue
			}
		}

		assistantMessageID = ""
		turnNumber++
	}

	if err := l.compact.Prune(in.SessionID, in.CompactionConfig); err != nil {
		l.log.Warn("prune failed", "error", err)
	}

	return &PromptResult{
		Status:              turn.StatusStop,
		UserMessageID:        userMessageID,
		AssistantMessageID:  assistantMessageID,
	}, nil
}

// compactionRunOptions configures one compaction pass.
type compactionRunOptions struct {
	auto             bool
	compactionUserID string
}

type compactionRunResult struct {
	history       []llm.Message
	autoContinued bool
	err           string
}

// runCompaction runs the summarisation agent over the current
// history, persists the summary as a Summary=true assistant message,
// and (when auto-triggered) injects a synthetic continue-user message
// so the outer loop resumes automatically.
func (l *Loop) runCompaction(ctx context.Context, in PromptInput, history []llm.Message, opts compactionRunOptions) (*compactionRunResult, error) {
	compactionUserID := opts.compactionUserID
	if compactionUserID == "" {
		var err error
		compactionUserID, err = l.compact.CreateRequest(in.SessionID, in.Agent.Name, in.ProviderID, in.ModelID, opts.auto, "")
		if err != nil {
			return nil, err
		}
		if err := l.addTextPart(in.SessionID, compactionUserID, compactionUserText, true); err != nil {
			return nil, err
		}
	}

	agent := in.Agent
	if in.CompactionAgent != nil {
		agent = *in.CompactionAgent
	} else {
		agent.Name = CompactAgentName
	}

	assistantID, err := id.Ascending(id.PrefixMessage)
	if err != nil {
		return nil, err
	}

	compactionHistory := append(append([]llm.Message{}, history...), llm.Message{Role: "user", Content: compactionUserText})

	prep := turn.Prepare(turn.PrepareInput{
		SessionID:    in.SessionID,
		Agent:        agent,
		Turn:         0,
		History:      compactionHistory,
		SystemPrompt: in.SystemPrompt,
		ProviderID:   in.ProviderID,
		ModelID:      in.ModelID,
		Retries:      in.Retries,
		MaxTokens:    in.MaxTokens,
		Registry:     in.Registry,
	})

	result := l.runner.Run(ctx, turn.Input{
		StreamInput: prep.StreamInput,
		ToolContext: tools.ToolContext{
			Context:    ctx,
			SessionID:  in.SessionID,
			MessageID:  assistantID,
			Agent:      agent.Name,
			Cwd:        in.Cwd,
			Worktree:   in.Worktree,
			ProviderID: in.ProviderID,
			ModelID:    in.ModelID,
		},
		Ruleset: in.Ruleset,
	})

	if result.Status == turn.StatusError {
		return &compactionRunResult{history: history, err: result.Error}, nil
	}

	finish := stepFinishReason(result)
	cost := usageCost(result.Usage, in.Model)
	tokens := tokensFromUsage(result.Usage)

	summaryInfo := store.MessageInfo{
		ID:        assistantID,
		SessionID: in.SessionID,
		Role:      store.RoleAssistant,
		ParentID:  compactionUserID,
		Agent:     agent.Name,
		Model:     &store.ModelRef{ProviderID: in.ProviderID, ModelID: in.ModelID},
		Finish:    finishPtr(finish),
		Cost:      cost,
		Tokens:    tokens,
		Summary:   true,
		Time:      store.MessageTime{Created: nowMillis(), Completed: completedPtr()},
	}
	if err := l.store.AddMessage(summaryInfo); err != nil {
		return nil, err
	}
	if err := l.addTextPart(in.SessionID, assistantID, result.Text, false); err != nil {
		return nil, err
	}

	newHistory := []llm.Message{
		{Role: "user", Content: compactionUserText},
		{Role: "assistant", Content: result.Text},
	}

	if !opts.auto {
		return &compactionRunResult{history: newHistory}, nil
	}

	continueUserID, err := id.Ascending(id.PrefixMessage)
	if err != nil {
		return nil, err
	}
	if err := l.store.AddMessage(store.MessageInfo{
		ID:        continueUserID,
		SessionID: in.SessionID,
		Role:      store.RoleUser,
		Agent:     in.Agent.Name,
		Time:      store.MessageTime{Created: nowMillis()},
	}); err != nil {
		return nil, err
	}
	if err := l.addTextPart(in.SessionID, continueUserID, continueUserText, true); err != nil {
		return nil, err
	}
	newHistory = append(newHistory, llm.Message{Role: "user", Content: continueUserText})

	return &compactionRunResult{history: newHistory, autoContinued: true}, nil
}

func (l *Loop) persistUserMessage(in PromptInput) (string, error) {
	msgID, err := id.Ascending(id.PrefixMessage)
	if err != nil {
		return "", err
	}
	info := store.MessageInfo{
		ID:        msgID,
		SessionID: in.SessionID,
		Role:      store.RoleUser,
		Agent:     in.Agent.Name,
		Model:     &store.ModelRef{ProviderID: in.ProviderID, ModelID: in.ModelID},
		Path:      &store.PathInfo{Cwd: in.Cwd, Worktree: in.Worktree},
		Time:      store.MessageTime{Created: nowMillis()},
	}
	if err := l.store.AddMessage(info); err != nil {
		return "", err
	}
	if err := l.addTextPart(in.SessionID, msgID, in.Content, false); err != nil {
		return "", err
	}
	return msgID, nil
}

func (l *Loop) persistAssistantMessage(in PromptInput, assistantMessageID, userMessageID string, result *turn.Result, finish store.FinishReason, cost float64, tokens store.TokenUsage, structured bool) error {
	now := completedPtr()
	info := store.MessageInfo{
		ID:         assistantMessageID,
		SessionID:  in.SessionID,
		Role:       store.RoleAssistant,
		ParentID:   userMessageID,
		Agent:      in.Agent.Name,
		Model:      &store.ModelRef{ProviderID: in.ProviderID, ModelID: in.ModelID},
		Finish:     finishPtr(finish),
		Error:      result.Error,
		Cost:       cost,
		Tokens:     tokens,
		Structured: structured,
		Path:       &store.PathInfo{Cwd: in.Cwd, Worktree: in.Worktree},
		Time:       store.MessageTime{Created: nowMillis(), Completed: now},
	}
	if err := l.store.AddMessage(info); err != nil {
		return err
	}

	if result.Text != "" {
		if err := l.addTextPart(in.SessionID, assistantMessageID, result.Text, false); err != nil {
			return err
		}
	}
	if result.ReasoningText != "" {
		partID, err := id.Ascending(id.PrefixPart)
		if err != nil {
			return err
		}
		end := nowMillis()
		if err := l.store.AddPart(store.ReasoningPart{
			PartBase: store.PartBase{ID: partID, SessionID: in.SessionID, MessageID: assistantMessageID, Type: store.PartTypeReasoning},
			Text:     result.ReasoningText,
			Time:     store.PartTime{Start: end, End: &end},
		}); err != nil {
			return err
		}
	}

	for _, tc := range result.ToolCalls {
		partID, err := id.Ascending(id.PrefixPart)
		if err != nil {
			return err
		}
		status := store.ToolCompleted
		if tc.Status == turn.ToolFailed {
			status = store.ToolError
		}
		endTime := tc.EndTimeMS
		toolPart := store.ToolPart{
			PartBase: store.PartBase{ID: partID, SessionID: in.SessionID, MessageID: assistantMessageID, Type: store.PartTypeTool},
			Tool:     tc.Name,
			CallID:   tc.ID,
			State: store.ToolState{
				Status:      status,
				Input:       tc.Input,
				Output:      tc.Output,
				Error:       tc.Error,
				Title:       tc.Title,
				Metadata:    tc.Metadata,
				Attachments: tc.Attachments,
				Time:        store.ToolStateTime{Start: tc.StartTimeMS, End: &endTime},
			},
		}
		if err := l.store.AddPart(toolPart); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loop) addTextPart(sessionID, messageID, text string, synthetic bool) error {
	partID, err := id.Ascending(id.PrefixPart)
	if err != nil {
		return err
	}
	return l.store.AddPart(store.TextPart{
		PartBase:  store.PartBase{ID: partID, SessionID: sessionID, MessageID: messageID, Type: store.PartTypeText},
		Text:      text,
		Synthetic: synthetic,
	})
}

func (l *Loop) writeStepStart(sessionID, messageID string) error {
	partID, err := id.Ascending(id.PrefixPart)
	if err != nil {
		return err
	}
	return l.store.AddPart(store.StepStartPart{
		PartBase: store.PartBase{ID: partID, SessionID: sessionID, MessageID: messageID, Type: store.PartTypeStepStart},
	})
}

func (l *Loop) writeStepFinish(sessionID, messageID string, reason store.FinishReason, cost float64, tokens store.TokenUsage) error {
	partID, err := id.Ascending(id.PrefixPart)
	if err != nil {
		return err
	}
	return l.store.AddPart(store.StepFinishPart{
		PartBase: store.PartBase{ID: partID, SessionID: sessionID, MessageID: messageID, Type: store.PartTypeStepFinish},
		Reason:   reason,
		Cost:     cost,
		Tokens:   tokens,
	})
}

func finishPtr(f store.FinishReason) *store.FinishReason { return &f }

func completedPtr() *int64 {
	now := nowMillis()
	return &now
}

// stepFinishReason normalises a turn Result's disposition into the
// closed store.FinishReason set.
func stepFinishReason(result *turn.Result) store.FinishReason {
	if result.StopReason != "" {
		return store.FinishReason(result.StopReason)
	}
	if result.Status == turn.StatusError {
		return store.FinishUnknown
	}
	if len(result.ToolCalls) > 0 {
		return store.FinishToolCalls
	}
	return store.FinishStop
}

// tokensFromUsage converts a stream Usage into the persisted
// TokenUsage shape.
func tokensFromUsage(u llm.Usage) store.TokenUsage {
	return store.TokenUsage{
		Input:      int64(u.InputTokens),
		Output:     int64(u.OutputTokens),
		Reasoning:  int64(u.ReasoningTokens),
		CacheRead:  int64(u.CacheReadInputTokens),
		CacheWrite: int64(u.CacheCreationInputTokens),
	}
}

// usageCost computes the USD cost of one step from per-million-token
// pricing, floored at zero.
func usageCost(u llm.Usage, model ModelInfo) float64 {
	cost := float64(u.InputTokens)*model.Cost.Input/1_000_000 +
		float64(u.OutputTokens)*model.Cost.Output/1_000_000 +
		float64(u.CacheReadInputTokens)*model.Cost.CacheRead/1_000_000 +
		float64(u.CacheCreationInputTokens)*model.Cost.CacheWrite/1_000_000 +
		float64(u.ReasoningTokens)*model.Cost.Output/1_000_000
	if cost < 0 {
		return 0
	}
	return cost
}

// historyMessagesForStep converts one finished turn's result into the
// in-memory history messages the next step needs: the assistant's
// text/tool-call message, plus one tool-role message per finished
// call.
func historyMessagesForStep(result *turn.Result) []llm.Message {
	if result.Text == "" && len(result.ToolCalls) == 0 {
		return nil
	}

	assistant := llm.Message{Role: "assistant", Content: result.Text}
	var tail []llm.Message
	for _, tc := range result.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, llm.MessageToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: string(tc.Input),
		})
		output := tc.Output
		if tc.Status == turn.ToolFailed {
			output = tc.Error
		}
		tail = append(tail, llm.Message{Role: "tool", Content: output, ToolCallID: tc.ID})
	}

	return append([]llm.Message{assistant}, tail...)
}

// titleFromText derives a best-effort session title from the first
// user message: the first maxTitleWords words, capped at
// maxTitleLen runes.
func titleFromText(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > maxTitleWords {
		fields = fields[:maxTitleWords]
	}
	title := strings.Join(fields, " ")
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}

// structuredSchemaFromFormat extracts a JSON Schema from a
// format={"type":"json_schema","schema":{...}} request, or nil when
// no structured output was requested.
func structuredSchemaFromFormat(format map[string]any) json.RawMessage {
	if format == nil {
		return nil
	}
	if format["type"] != "json_schema" {
		return nil
	}
	schema := format["schema"]
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return b
}
