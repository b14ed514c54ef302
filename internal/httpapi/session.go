// Package httpapi implements the versioned /v1 HTTP/SSE facade over
// internal/app's Context, per SPEC_FULL.md §4.13.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/app"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/apperr"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/session"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/store"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/turn"
)

// requestDirectory resolves the caller's working directory from the
// x-hotaru-directory header, falling back to the query string and
// then "", matching deps.py's resolve_request_directory.
func requestDirectory(r *http.Request) string {
	if v := r.Header.Get("x-hotaru-directory"); v != "" {
		return v
	}
	return r.URL.Query().Get("directory")
}

// splitModel parses a "provider/model" combined identifier, per
// spec.md §8 scenario 1 ("openai/gpt-5"). A bare model string with no
// slash is returned as modelID with an empty providerID.
func splitModel(model string) (providerID, modelID string) {
	if model == "" {
		return "", ""
	}
	if provider, rest, ok := strings.Cut(model, "/"); ok {
		return provider, rest
	}
	return "", model
}

func resolveAgent(ctx *app.Context, name string) turn.AgentInfo {
	if name == "" {
		name = ctx.Config.DefaultAgent
	}
	if info, ok := ctx.Agents[name]; ok {
		return info
	}
	return turn.AgentInfo{Name: name, Policy: ctx.AgentPolicy(name)}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body sessionCreateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	directory := body.Directory
	if directory == "" {
		directory = body.Cwd
	}
	if directory == "" {
		directory = requestDirectory(r)
	}

	providerID, modelID := splitModel(body.Model)
	if body.ProviderID != "" {
		providerID = body.ProviderID
	}
	if body.ModelID != "" {
		modelID = body.ModelID
	}

	info, err := s.ctx.Store.CreateSession(body.ProjectID, body.Agent, directory, modelID, providerID, body.ParentID)
	if err != nil {
		writeError(w, apperr.Fatal("failed to create session", err))
		return
	}
	if body.Title != "" {
		title := body.Title
		updated, err := s.ctx.Store.UpdateSession(info.ID, body.ProjectID, store.SessionUpdate{Title: &title})
		if err == nil && updated != nil {
			info = updated
		}
	}
	writeJSON(w, http.StatusOK, newSessionResponse(*info))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	sessions, err := s.ctx.Store.ListSessions(projectID)
	if err != nil {
		writeError(w, apperr.Fatal("failed to list sessions", err))
		return
	}
	out := make([]sessionResponse, len(sessions))
	for i, sess := range sessions {
		out[i] = newSessionResponse(sess)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*store.SessionInfo, bool) {
	id := r.PathValue("id")
	info, err := s.ctx.Store.GetSession(id, "")
	if err != nil {
		writeError(w, apperr.Fatal("failed to look up session", err))
		return nil, false
	}
	if info == nil {
		writeError(w, apperr.NotFound("session "+id+" not found"))
		return nil, false
	}
	return info, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(*info))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionUpdateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.ctx.Store.UpdateSession(info.ID, info.ProjectID, store.SessionUpdate{Title: body.Title})
	if err != nil {
		writeError(w, apperr.Fatal("failed to update session", err))
		return
	}
	if updated == nil {
		writeError(w, apperr.NotFound("session "+info.ID+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(*updated))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.ctx.Runtime.Interrupt(info.ID, info.ProjectID)
	deleted, err := s.ctx.Store.DeleteSession(info.ID, info.ProjectID)
	if err != nil {
		writeError(w, apperr.Fatal("failed to delete session", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionDeleteResponse{OK: deleted})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	bundled, err := s.ctx.Store.GetMessagesWithParts(info.ID)
	if err != nil {
		writeError(w, apperr.Fatal("failed to load messages", err))
		return
	}
	writeJSON(w, http.StatusOK, bundled)
}

func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionDeleteMessagesRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	deleted, err := s.ctx.Store.DeleteMessages(info.ID, body.MessageIDs)
	if err != nil {
		writeError(w, apperr.Fatal("failed to delete messages", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionDeleteMessagesResponse{Deleted: deleted})
}

func (s *Server) handleRestoreMessages(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionRestoreMessagesRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	restored, err := s.ctx.Store.RestoreMessages(info.ID, body.Messages)
	if err != nil {
		writeError(w, apperr.Fatal("failed to restore messages", err))
		return
	}
	writeJSON(w, http.StatusOK, sessionRestoreMessagesResponse{Restored: restored})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.ctx.Runtime.Interrupt(info.ID, info.ProjectID)
	writeJSON(w, http.StatusOK, sessionMessageResponse{OK: true, Status: "interrupted"})
}

func (s *Server) handleFork(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionForkRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	forked, err := s.ctx.Store.Fork(info.ID, body.FromMessageID)
	if err != nil {
		writeError(w, apperr.Fatal("failed to fork session", err))
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(*forked))
}

// promptInputFromRequest builds the shared fields of a session.Loop
// call (provider/model resolution, agent policy, ruleset) common to
// both message:stream and compact.
func (s *Server) promptInputFromRequest(info *store.SessionInfo, agentName, providerID, modelID, cwd string) session.PromptInput {
	agent := resolveAgent(s.ctx, agentName)
	if providerID == "" {
		providerID = info.ProviderID
	}
	if modelID == "" {
		modelID = info.ModelID
	}
	if cwd == "" {
		cwd = info.Directory
	}

	return session.PromptInput{
		SessionID:          info.ID,
		ProviderID:         providerID,
		ModelID:            modelID,
		Agent:              agent,
		Cwd:                cwd,
		ResumeHistory:      true,
		Ruleset:            agent.Policy.Permissions,
		ContinueLoopOnDeny: s.ctx.Config.ContinueLoopOnDeny,
		MCP:                s.ctx.MCP,
		Registry:           s.ctx.Tools,
	}
}

func partsText(parts []sessionMessagePart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// handleMessageStream starts a turn (persisting the user's message)
// and streams its part/status events back as SSE, per spec.md §6 and
// §4.13. The stream ends once the session returns to idle.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionMessageRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	content := body.Content
	if content == "" {
		content = partsText(body.Parts)
	}
	if content == "" {
		writeError(w, apperr.BadInput("content must not be empty"))
		return
	}

	providerID, modelID := splitModel(body.Model)
	if body.ProviderID != "" {
		providerID = body.ProviderID
	}
	if body.ModelID != "" {
		modelID = body.ModelID
	}

	in := s.promptInputFromRequest(info, body.Agent, providerID, modelID, "")
	in.Content = content
	in.Format = body.Format
	in.AutoCompaction = true
	in.CompactionConfig = &s.ctx.Config.Compaction

	err := s.ctx.Runtime.Start(context.Background(), info.ID, func(taskCtx context.Context) {
		_, _ = s.ctx.Loop.Prompt(taskCtx, in)
	})
	if err != nil {
		writeError(w, apperr.Rejected("session "+info.ID+" is already running a turn"))
		return
	}

	streamSessionUntilIdle(w, r, s.ctx.Bus, info.ID)
}

// handleCompact runs a manual compaction pass and blocks until it
// resolves, per spec.md §6 (no :stream suffix on this endpoint).
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	info, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var body sessionCompactRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	providerID, modelID := splitModel(body.Model)
	if body.ProviderID != "" {
		providerID = body.ProviderID
	}
	if body.ModelID != "" {
		modelID = body.ModelID
	}

	in := s.promptInputFromRequest(info, "", providerID, modelID, "")

	results := make(chan *session.PromptResult, 1)
	errs := make(chan error, 1)
	err := s.ctx.Runtime.Start(context.Background(), info.ID, func(taskCtx context.Context) {
		res, err := s.ctx.Loop.Compact(taskCtx, in)
		if err != nil {
			errs <- err
			return
		}
		results <- res
	})
	if err != nil {
		writeError(w, apperr.Rejected("session "+info.ID+" is already running a turn"))
		return
	}

	select {
	case res := <-results:
		writeJSON(w, http.StatusOK, sessionMessageResponse{
			OK:                 res.Status != turn.StatusError,
			AssistantMessageID: res.AssistantMessageID,
			Status:             string(res.Status),
			Error:              res.Error,
		})
	case err := <-errs:
		writeError(w, apperr.Fatal("compaction failed", err))
	case <-r.Context().Done():
	}
}
