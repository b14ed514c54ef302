package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/app"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/config"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/llm"
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

func newTestServer(t *testing.T, chunks []llm.Chunk) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DefaultAgent = "build"
	ctx, err := app.New(app.Options{Config: cfg, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if err := ctx.Startup(); err != nil {
		t.Fatalf("ctx.Startup: %v", err)
	}
	t.Cleanup(ctx.Shutdown)

	ctx.Providers.Register("anthropic", &fakeProvider{chunks: chunks})

	return New(ctx, nil)
}

func TestCreateSessionAndGet(t *testing.T) {
	s := newTestServer(t, nil)
	handler := s.Handler()

	body := strings.NewReader(`{"project_id":"p1","agent":"build","model":"anthropic/claude-3"}`)
	req := httptest.NewRequest("POST", "/v1/session", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var created sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a session id")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID to be set")
	}

	getReq := httptest.NewRequest("GET", "/v1/session/"+created.ID, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != 200 {
		t.Fatalf("get session: status %d body %s", getRec.Code, getRec.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest("GET", "/v1/session/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionRejectsLegacyField(t *testing.T) {
	s := newTestServer(t, nil)
	body := strings.NewReader(`{"providerID":"anthropic"}`)
	req := httptest.NewRequest("POST", "/v1/session", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("expected 400 for legacy field, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMessageStreamEndsOnIdle(t *testing.T) {
	s := newTestServer(t, []llm.Chunk{
		{Type: llm.ChunkText, Text: "hi there"},
		{Type: llm.ChunkMessageEnd},
	})
	handler := s.Handler()

	createBody := strings.NewReader(`{"project_id":"p1","agent":"build","model":"anthropic/claude-3"}`)
	createReq := httptest.NewRequest("POST", "/v1/session", createBody)
	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, createReq)
	var created sessionResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	msgBody := strings.NewReader(`{"content":"hello"}`)
	msgReq := httptest.NewRequest("POST", "/v1/session/"+created.ID+"/message:stream", msgBody)
	msgRec := httptest.NewRecorder()
	handler.ServeHTTP(msgRec, msgReq)

	if msgRec.Code != 200 {
		t.Fatalf("message:stream: status %d body %s", msgRec.Code, msgRec.Body.String())
	}
	if !strings.Contains(msgRec.Body.String(), "server.connection") {
		t.Fatalf("expected an opening server.connection frame, got %q", msgRec.Body.String())
	}
}

func TestListMessagesReturnsPersistedTurn(t *testing.T) {
	s := newTestServer(t, []llm.Chunk{
		{Type: llm.ChunkText, Text: "hi there"},
		{Type: llm.ChunkMessageEnd},
	})
	handler := s.Handler()

	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, httptest.NewRequest("POST", "/v1/session", strings.NewReader(`{"project_id":"p1","agent":"build","model":"anthropic/claude-3"}`)))
	var created sessionResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	msgRec := httptest.NewRecorder()
	handler.ServeHTTP(msgRec, httptest.NewRequest("POST", "/v1/session/"+created.ID+"/message:stream", strings.NewReader(`{"content":"hello"}`)))
	if msgRec.Code != 200 {
		t.Fatalf("message:stream: status %d body %s", msgRec.Code, msgRec.Body.String())
	}

	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, httptest.NewRequest("GET", "/v1/session/"+created.ID+"/message", nil))
	if listRec.Code != 200 {
		t.Fatalf("list messages: status %d body %s", listRec.Code, listRec.Body.String())
	}
	var bundled []map[string]any
	if err := json.Unmarshal(listRec.Body.Bytes(), &bundled); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(bundled) == 0 {
		t.Fatal("expected at least one persisted message")
	}
}
