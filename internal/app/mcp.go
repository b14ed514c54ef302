package app

import (
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

// MCPStatus is the closed set of health states one MCP server can be
// in, per spec.md §4.12's health table {status, critical, error}.
type MCPStatus string

const (
	MCPHealthy  MCPStatus = "healthy"
	MCPDegraded MCPStatus = "degraded"
)

// MCPServerHealth is one row of the health table the resolver
// consults before including a server's tools.
type MCPServerHealth struct {
	Status   MCPStatus
	Critical bool
	Error    string
}

type registeredServer struct {
	health MCPServerHealth
	tools  []tools.LLMTool
}

// MCPRegistry tracks the external MCP servers configured for this
// process and satisfies tools.MCPSource: the resolver reads Healthy()
// and Tools() once per turn and silently omits tools from any server
// currently marked degraded, per spec.md §4.12. The MCP subsystem
// itself (the client/transport that populates this registry) is out
// of scope per spec.md §1; this registry is the narrow interface the
// core depends on.
type MCPRegistry struct {
	mu      sync.RWMutex
	servers map[string]*registeredServer
}

// NewMCPRegistry creates an empty MCPRegistry.
func NewMCPRegistry() *MCPRegistry {
	return &MCPRegistry{servers: make(map[string]*registeredServer)}
}

// Register adds or replaces server's tool list, marking it healthy.
func (r *MCPRegistry) Register(server string, serverTools []tools.LLMTool, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[server] = &registeredServer{
		health: MCPServerHealth{Status: MCPHealthy, Critical: critical},
		tools:  serverTools,
	}
}

// SetHealth updates server's health row without touching its tool
// list, so a transport failure can mark a server degraded in place.
func (r *MCPRegistry) SetHealth(server string, status MCPStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[server]
	if !ok {
		s = &registeredServer{}
		r.servers[server] = s
	}
	s.health.Status = status
	if err != nil {
		s.health.Error = err.Error()
	} else {
		s.health.Error = ""
	}
}

// Healthy reports false only when a server marked critical is
// currently degraded; a degraded non-critical server still omits its
// own tools (via Tools) without blocking resolution entirely.
func (r *MCPRegistry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		if s.health.Critical && s.health.Status == MCPDegraded {
			return false
		}
	}
	return true
}

// Tools returns the union of every healthy server's tool list.
func (r *MCPRegistry) Tools() []tools.LLMTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tools.LLMTool
	for _, s := range r.servers {
		if s.health.Status == MCPHealthy {
			out = append(out, s.tools...)
		}
	}
	return out
}

// HealthTable returns a snapshot of every server's health row, for
// /healthz reporting.
func (r *MCPRegistry) HealthTable() map[string]MCPServerHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]MCPServerHealth, len(r.servers))
	for name, s := range r.servers {
		out[name] = s.health
	}
	return out
}
