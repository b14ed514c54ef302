// Package store implements the structured message store: sessions,
// messages, and their parts, persisted as a hierarchical JSON-file
// layout and published over the event bus on every mutation.
package store

import "encoding/json"

// SessionTime records session creation/update timestamps in Unix
// milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// SessionShare is a passthrough field: present at the surface per the
// source implementation but never acted on by the core.
type SessionShare struct {
	URL     string `json:"url"`
	Version int    `json:"version"`
}

// SessionInfo is the persisted metadata record of one session.
type SessionInfo struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	Title      string        `json:"title,omitempty"`
	Agent      string        `json:"agent"`
	ModelID    string        `json:"model_id,omitempty"`
	ProviderID string        `json:"provider_id,omitempty"`
	Directory  string        `json:"directory,omitempty"`
	ParentID   string        `json:"parent_id,omitempty"`
	Time       SessionTime   `json:"time"`
	Share      *SessionShare `json:"share,omitempty"`
}

// Role is the closed set of message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// FinishReason is the closed, normalised set of stream finish reasons.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// ModelRef pins a message/session to a provider and model pair.
type ModelRef struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

// MessageTime records message creation/completion timestamps.
type MessageTime struct {
	Created   int64  `json:"created"`
	Completed *int64 `json:"completed,omitempty"`
}

// TokenUsage accumulates token counts for one message or step.
type TokenUsage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	Reasoning   int64 `json:"reasoning"`
	CacheRead   int64 `json:"cache_read"`
	CacheWrite  int64 `json:"cache_write"`
	TotalOption int64 `json:"total,omitempty"`
}

// Total returns the effective total token count: the explicit Total
// field when set, otherwise the sum of the individual counters, per
// the overflow-threshold formula in session.Compaction.IsOverflow.
func (t TokenUsage) Total() int64 {
	if t.TotalOption != 0 {
		return t.TotalOption
	}
	return t.Input + t.Output + t.Reasoning + t.CacheRead + t.CacheWrite
}

// PathInfo records the working-directory context a message was
// produced under.
type PathInfo struct {
	Cwd       string `json:"cwd,omitempty"`
	Worktree  string `json:"worktree,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// MessageInfo is the metadata record of one conversational turn.
// Parts are stored separately and referenced by (SessionID, ID).
type MessageInfo struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Role       Role          `json:"role"`
	ParentID   string        `json:"parent_id,omitempty"`
	Agent      string        `json:"agent,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Model      *ModelRef     `json:"model,omitempty"`
	Variant    string        `json:"variant,omitempty"`
	System     string        `json:"system,omitempty"`
	Tools      []string      `json:"tools,omitempty"`
	Format     string        `json:"format,omitempty"`
	Finish     *FinishReason `json:"finish,omitempty"`
	Error      string        `json:"error,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     TokenUsage    `json:"tokens"`
	Path       *PathInfo     `json:"path,omitempty"`
	Summary    bool          `json:"summary,omitempty"`
	Structured bool          `json:"structured,omitempty"`
	Time       MessageTime   `json:"time"`
}

// PartTime is the generic start/end timestamp pair shared by several
// part variants.
type PartTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// PartType is the tagged-union discriminator for Part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeReasoning  PartType = "reasoning"
	PartTypeTool       PartType = "tool"
	PartTypeFile       PartType = "file"
	PartTypeStepStart  PartType = "step-start"
	PartTypeStepFinish PartType = "step-finish"
	PartTypePatch      PartType = "patch"
	PartTypeCompaction PartType = "compaction"
	PartTypeSubtask    PartType = "subtask"
)

// PartBase carries the fields common to every Part variant.
type PartBase struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	MessageID string   `json:"message_id"`
	Type      PartType `json:"type"`
}

// ToolStateStatus is the tool part state machine's closed status set.
type ToolStateStatus string

const (
	ToolPending   ToolStateStatus = "pending"
	ToolRunning   ToolStateStatus = "running"
	ToolCompleted ToolStateStatus = "completed"
	ToolError     ToolStateStatus = "error"
)

// ToolStateTime records the tool call's lifecycle timestamps,
// including the pruning-only Compacted marker.
type ToolStateTime struct {
	Start     int64  `json:"start"`
	End       *int64 `json:"end,omitempty"`
	Compacted *int64 `json:"compacted,omitempty"`
}

// ToolState is the mutable execution state of one tool call.
type ToolState struct {
	Status      ToolStateStatus   `json:"status"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Raw         string            `json:"raw,omitempty"`
	Output      string            `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Title       string            `json:"title,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	Time        ToolStateTime     `json:"time"`
}

// Part is the tagged-variant interface every part kind satisfies.
type Part interface {
	Base() PartBase
	PartType() PartType
}

func (p TextPart) Base() PartBase       { return p.PartBase }
func (p TextPart) PartType() PartType   { return PartTypeText }
func (p ReasoningPart) Base() PartBase     { return p.PartBase }
func (p ReasoningPart) PartType() PartType { return PartTypeReasoning }
func (p ToolPart) Base() PartBase        { return p.PartBase }
func (p ToolPart) PartType() PartType    { return PartTypeTool }
func (p FilePart) Base() PartBase        { return p.PartBase }
func (p FilePart) PartType() PartType    { return PartTypeFile }
func (p StepStartPart) Base() PartBase     { return p.PartBase }
func (p StepStartPart) PartType() PartType { return PartTypeStepStart }
func (p StepFinishPart) Base() PartBase    { return p.PartBase }
func (p StepFinishPart) PartType() PartType { return PartTypeStepFinish }
func (p PatchPart) Base() PartBase       { return p.PartBase }
func (p PatchPart) PartType() PartType   { return PartTypePatch }
func (p CompactionPart) Base() PartBase    { return p.PartBase }
func (p CompactionPart) PartType() PartType { return PartTypeCompaction }
func (p SubtaskPart) Base() PartBase      { return p.PartBase }
func (p SubtaskPart) PartType() PartType  { return PartTypeSubtask }

// TextPart is model- or user-authored plain text.
type TextPart struct {
	PartBase
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Ignored   bool      `json:"ignored,omitempty"`
	Time      *PartTime `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ReasoningPart is model "thinking" text, closed when Time.End is set.
type ReasoningPart struct {
	PartBase
	Text     string         `json:"text"`
	Time     PartTime       `json:"time"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolPart is one tool invocation's persisted record.
type ToolPart struct {
	PartBase
	Tool     string         `json:"tool"`
	CallID   string         `json:"call_id"`
	State    ToolState      `json:"state"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FilePart references an attached or produced file.
type FilePart struct {
	PartBase
	Mime     string `json:"mime"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Source   string `json:"source,omitempty"`
}

// StepStartPart opens one assistant turn.
type StepStartPart struct {
	PartBase
	Snapshot string `json:"snapshot,omitempty"`
}

// StepFinishPart closes one assistant turn with its cost and usage.
type StepFinishPart struct {
	PartBase
	Reason   FinishReason `json:"reason"`
	Snapshot string       `json:"snapshot,omitempty"`
	Cost     float64      `json:"cost"`
	Tokens   TokenUsage   `json:"tokens"`
}

// PatchFile is one file touched by a patch part.
type PatchFile struct {
	Path string `json:"path"`
}

// PatchPart records a filesystem patch applied during a turn.
type PatchPart struct {
	PartBase
	Hash  string      `json:"hash"`
	Files []PatchFile `json:"files"`
}

// CompactionPart marks the user message that opens a compaction
// window; Auto distinguishes automatic (overflow-triggered) from
// user-requested compaction.
type CompactionPart struct {
	PartBase
	Auto bool `json:"auto"`
}

// SubtaskPart records a delegated sub-agent invocation.
type SubtaskPart struct {
	PartBase
	Prompt      string `json:"prompt"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent"`
	Model       string `json:"model,omitempty"`
	Command     string `json:"command,omitempty"`
}

// WithParts bundles a message's metadata with its ordered parts, the
// unit the facade and the turn runner most often operate on.
type WithParts struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}
