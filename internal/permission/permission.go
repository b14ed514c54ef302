// Package permission implements the "ask and remember" permission
// workflow: pattern-ruleset evaluation plus an ask/reply protocol that
// can suspend for user approval and transitively resolve other
// pending requests approved "always" under the same pattern.
package permission

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
)

// Action is the closed set of rule/decision outcomes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Scope is the closed set of places an "always" approval can be
// remembered.
type Scope string

const (
	ScopeTurn      Scope = "turn"
	ScopeSession   Scope = "session"
	ScopeProject   Scope = "project"
	ScopePersisted Scope = "persisted"
)

// Rule is one permission/pattern/action triple.
type Rule struct {
	Permission string
	Pattern    string
	Action     Action
}

// Ruleset is an ordered list of rules; more specific patterns win
// regardless of position, ties broken by the later entry (so
// agent+session+config rulesets may be concatenated agent-first and
// still let a session override win on equal specificity).
type Ruleset []Rule

// Bus event type names.
const (
	EventAsked   = "permission.asked"
	EventReplied = "permission.replied"
)

// Reply is the closed set of ways a pending request can be resolved.
type Reply string

const (
	ReplyOnce   Reply = "once"
	ReplyAlways Reply = "always"
	ReplyReject Reply = "reject"
)

// DeniedError is raised synchronously when a ruleset evaluates to deny.
type DeniedError struct{ Permission, Pattern string }

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission: %s denied for pattern %q", e.Permission, e.Pattern)
}

// RejectedError is raised when a pending request is explicitly
// rejected by the user.
type RejectedError struct {
	RequestID string
	Message   string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("permission: request %s rejected: %s", e.RequestID, e.Message)
	}
	return fmt.Sprintf("permission: request %s rejected", e.RequestID)
}

// CorrectedError signals a rule-driven rewrite rather than a flat
// denial (e.g. an agent policy substitutes a narrower tool).
type CorrectedError struct {
	Permission string
	Message    string
}

func (e *CorrectedError) Error() string {
	return fmt.Sprintf("permission: %s corrected: %s", e.Permission, e.Message)
}

// Request is one pending ask() call awaiting a reply.
type Request struct {
	ID         string
	SessionID  string
	Permission string
	Patterns   []string
	Always     []string
	Metadata   map[string]any
	Tool       string

	scope  scopeKey
	done   chan struct{}
	result replyResult
}

type replyResult struct {
	reply   Reply
	message string
}

type scopeKey struct {
	scope     Scope
	sessionID string
	projectID string
}

// AskedProps is published when a request is created.
type AskedProps struct{ Request Request }

func (p AskedProps) SessionID() string { return p.Request.SessionID }

// RepliedProps is published once per resolved request, including
// those resolved transitively.
type RepliedProps struct {
	RequestID string
	Reply     Reply
}

func (p RepliedProps) SessionID() string { return "" }

// Engine is the process-wide permission engine.
type Engine struct {
	bus *bus.Bus

	mu             sync.Mutex
	pending        map[string]*Request
	approvedAlways map[scopeKey]map[string]bool
}

// New creates an empty Engine.
func New(b *bus.Bus) *Engine {
	return &Engine{
		bus:            b,
		pending:        make(map[string]*Request),
		approvedAlways: make(map[scopeKey]map[string]bool),
	}
}

// Evaluate returns the most-specific rule's action for target against
// ruleset, defaulting to allow when nothing matches. "Most specific"
// is measured by matched pattern length, then by later-rule-wins on
// ties, mirroring agent+session+config concatenation semantics.
func Evaluate(ruleset Ruleset, permissionName, target string) Action {
	best := -1
	action := ActionAllow
	for _, r := range ruleset {
		if r.Permission != permissionName {
			continue
		}
		if !matchGlob(r.Pattern, target) {
			continue
		}
		spec := len(r.Pattern)
		if spec >= best {
			best = spec
			action = r.Action
		}
	}
	return action
}

func matchGlob(pattern, target string) bool {
	if pattern == "*" || pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, target)
	if err == nil && ok {
		return true
	}
	// path.Match does not treat "/" specially the way shell globs over
	// arbitrary strings need to; fall back to a prefix/suffix check for
	// the common "prefix*" / "*suffix" idioms used throughout rulesets.
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(target, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(target, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	return pattern == target
}

func scopeKeyFor(scope Scope, sessionID, projectID string) scopeKey {
	switch scope {
	case ScopeSession:
		return scopeKey{scope: scope, sessionID: sessionID}
	case ScopeProject:
		return scopeKey{scope: scope, projectID: projectID}
	case ScopeTurn:
		return scopeKey{scope: scope, sessionID: sessionID}
	default:
		return scopeKey{scope: ScopePersisted}
	}
}

func (e *Engine) isAlwaysApproved(key scopeKey, pattern string) bool {
	set, ok := e.approvedAlways[key]
	if !ok {
		return false
	}
	return set[pattern]
}

// Ask evaluates ruleset against every pattern. A deny raises
// DeniedError synchronously. If every pattern already resolves to
// allow (directly, or via a prior "always" approval in scope), Ask
// returns immediately. Otherwise it registers a pending request,
// publishes permission.asked, and blocks until Reply resolves it.
func (e *Engine) Ask(sessionID, projectID, permissionName string, patterns []string, ruleset Ruleset, always []string, metadata map[string]any, tool string, scope Scope) error {
	needsAsk := false
	key := scopeKeyFor(scope, sessionID, projectID)

	e.mu.Lock()
	for _, p := range patterns {
		action := Evaluate(ruleset, permissionName, p)
		if action == ActionDeny {
			e.mu.Unlock()
			return &DeniedError{Permission: permissionName, Pattern: p}
		}
		if action == ActionAllow {
			continue
		}
		// action == ask, unless already remembered as "always".
		if e.isAlwaysApproved(key, p) {
			continue
		}
		needsAsk = true
	}
	e.mu.Unlock()

	if !needsAsk {
		return nil
	}

	reqID, err := id.Ascending(id.PrefixPermission)
	if err != nil {
		return fmt.Errorf("permission: generate request id: %w", err)
	}
	req := &Request{
		ID:         reqID,
		SessionID:  sessionID,
		Permission: permissionName,
		Patterns:   patterns,
		Always:     always,
		Metadata:   metadata,
		Tool:       tool,
		scope:      key,
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.pending[reqID] = req
	e.mu.Unlock()

	e.bus.Publish(EventAsked, AskedProps{Request: *req})

	<-req.done

	switch req.result.reply {
	case ReplyReject:
		return &RejectedError{RequestID: reqID, Message: req.result.message}
	default:
		return nil
	}
}

// Reply resolves requestID with the given reply, and — for "always" —
// transitively resolves every other pending request whose Always
// patterns overlap with the just-approved set. The overlap check
// iterates a snapshot of pending taken before resolution begins, so
// requests created during resolution are not visited.
func (e *Engine) Reply(requestID string, reply Reply, message string) error {
	e.mu.Lock()
	req, ok := e.pending[requestID]
	if !ok {
		e.mu.Unlock()
		return errors.New("permission: unknown request id")
	}
	delete(e.pending, requestID)

	var snapshot []*Request
	for _, r := range e.pending {
		snapshot = append(snapshot, r)
	}

	if reply == ReplyAlways {
		set, ok := e.approvedAlways[req.scope]
		if !ok {
			set = make(map[string]bool)
			e.approvedAlways[req.scope] = set
		}
		for _, p := range req.Always {
			set[p] = true
		}
	}
	e.mu.Unlock()

	req.result = replyResult{reply: reply, message: message}
	close(req.done)
	e.bus.Publish(EventReplied, RepliedProps{RequestID: requestID, Reply: reply})

	if reply != ReplyAlways {
		return nil
	}

	resolved := e.transitivelyResolve(req.scope, req.Always, snapshot)
	for _, r := range resolved {
		e.bus.Publish(EventReplied, RepliedProps{RequestID: r.ID, Reply: ReplyAlways})
	}
	return nil
}

func (e *Engine) transitivelyResolve(scope scopeKey, approvedPatterns []string, snapshot []*Request) []*Request {
	approved := make(map[string]bool, len(approvedPatterns))
	for _, p := range approvedPatterns {
		approved[p] = true
	}

	var resolved []*Request
	e.mu.Lock()
	for _, candidate := range snapshot {
		if candidate.scope != scope {
			continue
		}
		if _, stillPending := e.pending[candidate.ID]; !stillPending {
			continue
		}
		overlap := false
		for _, p := range candidate.Always {
			if approved[p] {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}
		delete(e.pending, candidate.ID)
		resolved = append(resolved, candidate)
	}
	e.mu.Unlock()

	for _, r := range resolved {
		r.result = replyResult{reply: ReplyAlways}
		close(r.done)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved
}

// Pending returns a snapshot of every currently pending request.
func (e *Engine) Pending() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Request, 0, len(e.pending))
	for _, r := range e.pending {
		out = append(out, *r)
	}
	return out
}

// ClearScope drops all "always" approvals for scope (used by
// Runtime.Interrupt to drop a session's turn- and session-scoped
// approvals).
func (e *Engine) ClearScope(scope Scope, sessionID, projectID string) {
	key := scopeKeyFor(scope, sessionID, projectID)
	e.mu.Lock()
	delete(e.approvedAlways, key)
	e.mu.Unlock()
}
