package session

import (
	"context"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/toolexec"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/tools"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

type fakeProvider struct{ chunks []llm.Chunk }

func (p *fakeProvider) StreamCompletion(ctx context.Context, in llm.StreamInput) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeRegistry struct{ provider llm.Provider }

func (r *fakeRegistry) Provider(id string) (llm.Provider, bool) { return r.provider, true }

func newTestLoop(t *testing.T, chunks []llm.Chunk) (*Loop, *store.Store) {
	t.Helper()
	kv, err := store.NewKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New(nil)
	s := store.New(kv, b)
	perm := permission.New(b)
	reg := tools.NewRegistry()
	executor := toolexec.New(reg, perm, toolexec.DefaultConfig())
	runner := turn.New(&fakeRegistry{provider: &fakeProvider{chunks: chunks}}, executor, nil)
	return NewLoop(s, runner, nil), s
}

func TestPromptPersistsUserAndAssistantMessages(t *testing.T) {
	loop, s := newTestLoop(t, []llm.Chunk{
		{Type: llm.ChunkText, Text: "hello there"},
		{Type: llm.ChunkMessageEnd},
	})

	sessionInfo, err := s.CreateSession("p1", "build", "", "claude-3", "anthropic", "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := loop.Prompt(context.Background(), PromptInput{
		SessionID:     sessionInfo.ID,
		Content:       "hi",
		ProviderID:    "anthropic",
		ModelID:       "claude-3",
		Agent:         turn.AgentInfo{Name: "build", Steps: 5},
		ResumeHistory: true,
		Retries:       2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != turn.StatusStop {
		t.Fatalf("expected stop status, got %q", result.Status)
	}

	infos, err := s.GetMessages(sessionInfo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected user + assistant message, got %d", len(infos))
	}
	if infos[0].Role != store.RoleUser || infos[1].Role != store.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", infos)
	}

	updated, err := s.GetSession(sessionInfo.ID, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title == "" {
		t.Fatal("expected best-effort title to be set")
	}
}

func TestPromptStopsOnStreamError(t *testing.T) {
	loop, s := newTestLoop(t, []llm.Chunk{
		{Type: llm.ChunkText, Text: "partial"},
		{Type: llm.ChunkError, Error: "boom"},
	})
	sessionInfo, _ := s.CreateSession("p1", "build", "", "claude-3", "anthropic", "")

	result, err := loop.Prompt(context.Background(), PromptInput{
		SessionID:     sessionInfo.ID,
		Content:       "hi",
		ProviderID:    "anthropic",
		ModelID:       "claude-3",
		Agent:         turn.AgentInfo{Name: "build"},
		ResumeHistory: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != turn.StatusError || result.Error != "boom" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPruneRunsAfterLoopCompletes(t *testing.T) {
	loop, s := newTestLoop(t, []llm.Chunk{
		{Type: llm.ChunkText, Text: "done"},
		{Type: llm.ChunkMessageEnd},
	})
	sessionInfo, _ := s.CreateSession("p1", "build", "", "claude-3", "anthropic", "")

	_, err := loop.Prompt(context.Background(), PromptInput{
		SessionID:     sessionInfo.ID,
		Content:       "hi",
		ProviderID:    "anthropic",
		ModelID:       "claude-3",
		Agent:         turn.AgentInfo{Name: "build"},
		ResumeHistory: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Prune is a no-op on a fresh, small session; this just confirms
	// Prompt doesn't error while calling it.
}
