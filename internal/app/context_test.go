package app

import (
	"context"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cfg := config.Default()
	cfg.Provider = map[string]config.ProviderConfig{
		"anthropic": {APIKey: "test-key"},
	}
	ctx, err := New(Options{Config: cfg, DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestNewWiresProviderRegistry(t *testing.T) {
	ctx := newTestContext(t)
	if _, ok := ctx.Providers.Provider("anthropic"); !ok {
		t.Fatal("expected anthropic provider to be registered")
	}
	if _, ok := ctx.Providers.Provider("missing"); ok {
		t.Fatal("expected unknown provider to be absent")
	}
}

func TestStartupIsIdempotent(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.Startup(); err != nil {
		t.Fatal(err)
	}
	unsubCount := len(ctx.unsubs)
	if err := ctx.Startup(); err != nil {
		t.Fatal(err)
	}
	if len(ctx.unsubs) != unsubCount {
		t.Fatalf("expected Startup to be a no-op on second call, got %d listeners (was %d)", len(ctx.unsubs), unsubCount)
	}
}

func TestShutdownCancelsRuntimeTasks(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.Startup(); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	err := ctx.Runtime.Start(context.Background(), "ses1", func(taskCtx context.Context) {
		close(started)
		<-taskCtx.Done()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ctx.Shutdown()
	if ctx.Runtime.Running("ses1") {
		t.Fatal("expected no running session tasks after shutdown")
	}
}

func TestAgentPolicyConcatenatesAgentThenGlobalRules(t *testing.T) {
	cfg := config.Default()
	cfg.Permission = map[string]string{"tool.bash": "ask"}
	cfg.Agent = map[string]config.AgentConfig{
		"build": {Permission: map[string]string{"tool.bash": "allow"}},
	}
	ctx, err := New(Options{Config: cfg, DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	policy := ctx.AgentPolicy("build")
	if len(policy.Permissions) != 2 {
		t.Fatalf("expected global + agent rule, got %d", len(policy.Permissions))
	}
	if policy.Permissions[len(policy.Permissions)-1].Action != "ask" {
		t.Fatalf("expected global rule to be last (tie-break winner), got %+v", policy.Permissions)
	}
}

func TestMCPRegistryOmitsDegradedServerTools(t *testing.T) {
	ctx := newTestContext(t)
	ctx.MCP.Register("search", []tools.LLMTool{{Name: "web_search"}}, false)
	if !ctx.MCP.Healthy() {
		t.Fatal("expected registry to be healthy with no critical servers degraded")
	}
	if len(ctx.MCP.Tools()) != 1 {
		t.Fatalf("expected 1 tool from the healthy server, got %d", len(ctx.MCP.Tools()))
	}

	ctx.MCP.SetHealth("search", MCPDegraded, nil)
	if len(ctx.MCP.Tools()) != 0 {
		t.Fatal("expected degraded server's tools to be omitted")
	}
	if !ctx.MCP.Healthy() {
		t.Fatal("expected a non-critical degraded server not to flip overall health")
	}
}

func TestMCPRegistryCriticalDegradedServerIsUnhealthy(t *testing.T) {
	ctx := newTestContext(t)
	ctx.MCP.Register("filesystem", nil, true)
	ctx.MCP.SetHealth("filesystem", MCPDegraded, nil)
	if ctx.MCP.Healthy() {
		t.Fatal("expected a critical degraded server to flip overall health to unhealthy")
	}
}
