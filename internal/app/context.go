// Package app composes the process-wide App Context: the event bus,
// message store, permission/question engines, tool registry/resolver
// inputs, provider registry, and the session prompt loop/runtime,
// wired from configuration into one value with an idempotent
// startup/shutdown lifecycle, per spec.md §4.12.
package app

import (
	"log/slog"
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/question"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/session"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/toolexec"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

// Context bundles {bus, permission, question, skills, agents, tools,
// mcp, lsp, runner} per spec.md §4.12, plus the store and session
// layers every other package needs to actually run a turn.
type Context struct {
	Config *config.Config

	Bus        *bus.Bus
	Store      *store.Store
	Permission *permission.Engine
	Question   *question.Engine
	Tools      *tools.Registry
	Providers  *ProviderRegistry
	MCP        *MCPRegistry
	LSP        LSPClient

	Agents map[string]turn.AgentInfo
	Skills []Skill
	Global permission.Ruleset

	Executor *toolexec.Executor
	Runner   *turn.Runner
	Loop     *session.Loop
	Runtime  *session.Runtime

	log *slog.Logger

	mu      sync.Mutex
	started bool
	unsubs  []func()
}

// Options configures New.
type Options struct {
	Config  *config.Config
	DataDir string
	Logger  *slog.Logger
}

// New wires every subsystem from opts into a Context. The returned
// Context is not started: call Startup before running any session.
func New(opts Options) (*Context, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	b := bus.New(log)

	kv, err := store.NewKV(opts.DataDir)
	if err != nil {
		return nil, err
	}
	st := store.New(kv, b)

	perm := permission.New(b)
	ques := question.New(b)
	registry := tools.NewRegistry()
	mcp := NewMCPRegistry()
	providers := providersFromConfig(cfg)

	executor := toolexec.New(registry, perm, toolexec.DefaultConfig())
	runner := turn.New(providers, executor, log)
	loop := session.NewLoop(st, runner, log)
	runtime := session.NewRuntime(b, perm, ques, log)

	return &Context{
		Config:     cfg,
		Bus:        b,
		Store:      st,
		Permission: perm,
		Question:   ques,
		Tools:      registry,
		Providers:  providers,
		MCP:        mcp,
		Agents:     agentsFromConfig(cfg),
		Skills:     discoverSkills(cfg.Skills),
		Global:     globalRuleset(cfg),
		Executor:   executor,
		Runner:     runner,
		Loop:       loop,
		Runtime:    runtime,
		log:        log,
	}, nil
}

// Startup is idempotent: the first call registers the session-scoped
// bus listeners the Context owns; later calls are no-ops.
func (c *Context) Startup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	unsubStatus := c.Bus.Subscribe(session.EventSessionStatus, func(e bus.Event) {
		props, ok := e.Properties.(session.SessionStatusProps)
		if !ok {
			return
		}
		c.log.Debug("session status changed", "session_id", props.SessionID(), "status", props.Status)
	})
	c.unsubs = append(c.unsubs, unsubStatus)

	c.started = true
	return nil
}

// Shutdown unsubscribes every session-scoped listener registered by
// Startup and cancels any still-running session tasks. It is safe to
// call more than once or before Startup.
func (c *Context) Shutdown() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	unsubs := c.unsubs
	c.unsubs = nil
	c.started = false
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.Runtime.Shutdown()
}

// AgentPolicy resolves the effective tools.AgentPolicy for agentName,
// concatenating the agent's own rules ahead of the global ruleset.
// Evaluate lets the later of two equally specific rules win, so a
// global rule overrides an agent rule for the same pattern.
func (c *Context) AgentPolicy(agentName string) tools.AgentPolicy {
	info, ok := c.Agents[agentName]
	if !ok {
		return tools.AgentPolicy{Name: agentName, Permissions: c.Global}
	}
	policy := info.Policy
	policy.Permissions = append(append(permission.Ruleset{}, policy.Permissions...), c.Global...)
	return policy
}

// HealthTable reports the MCP server health rows for /healthz; overall
// registry health is reported separately by MCP.Healthy.
func (c *Context) HealthTable() map[string]MCPServerHealth {
	return c.MCP.HealthTable()
}
