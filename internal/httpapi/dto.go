package httpapi

import "github.com/Tsukumi233/hotaru-code-sub001/internal/store"

// errorInfo is the {code, message, details?} body of every non-2xx
// response, per SPEC_FULL.md §4.13.
type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorInfo `json:"error"`
}

// sessionTimeResponse mirrors store.SessionTime on the wire.
type sessionTimeResponse struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// sessionResponse is the wire shape of a session, per spec.md §6.
type sessionResponse struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id,omitempty"`
	Title      string              `json:"title,omitempty"`
	Agent      string              `json:"agent,omitempty"`
	ModelID    string              `json:"model_id,omitempty"`
	ProviderID string              `json:"provider_id,omitempty"`
	Directory  string              `json:"directory,omitempty"`
	ParentID   string              `json:"parent_id,omitempty"`
	Time       sessionTimeResponse `json:"time"`
}

func newSessionResponse(s store.SessionInfo) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		ProjectID:  s.ProjectID,
		Title:      s.Title,
		Agent:      s.Agent,
		ModelID:    s.ModelID,
		ProviderID: s.ProviderID,
		Directory:  s.Directory,
		ParentID:   s.ParentID,
		Time:       sessionTimeResponse{Created: s.Time.Created, Updated: s.Time.Updated},
	}
}

// sessionCreateRequest is the POST /v1/session body.
type sessionCreateRequest struct {
	ProjectID  string `json:"project_id"`
	ParentID   string `json:"parent_id"`
	Agent      string `json:"agent"`
	Model      string `json:"model"`
	Title      string `json:"title"`
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Directory  string `json:"directory"`
	Cwd        string `json:"cwd"`
}

// sessionUpdateRequest is the PATCH /v1/session/{id} body.
type sessionUpdateRequest struct {
	Title *string `json:"title"`
}

// sessionDeleteResponse is the DELETE /v1/session/{id} body.
type sessionDeleteResponse struct {
	OK bool `json:"ok"`
}

// sessionMessagePart is the shape of one streamed-in message part in
// a message:stream request body. Only Text is acted on; the rest are
// accepted for forward compatibility with richer clients.
type sessionMessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// sessionMessageRequest is the POST /v1/session/{id}/message:stream
// body.
type sessionMessageRequest struct {
	Content    string               `json:"content"`
	Agent      string               `json:"agent"`
	Model      string               `json:"model"`
	ProviderID string               `json:"provider_id"`
	ModelID    string               `json:"model_id"`
	Parts      []sessionMessagePart `json:"parts"`
	Metadata   map[string]any       `json:"metadata"`
	Format     map[string]any       `json:"format"`
}

// sessionMessageResponse reports the outcome of a compact or
// interrupt call.
type sessionMessageResponse struct {
	OK                 bool   `json:"ok"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	Status             string `json:"status,omitempty"`
	Error              string `json:"error,omitempty"`
}

// sessionCompactRequest is the POST /v1/session/{id}/compact body.
type sessionCompactRequest struct {
	Auto       bool   `json:"auto"`
	Model      string `json:"model"`
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

// sessionDeleteMessagesRequest is the POST
// /v1/session/{id}/message:delete body.
type sessionDeleteMessagesRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type sessionDeleteMessagesResponse struct {
	Deleted int `json:"deleted"`
}

// sessionRestoreMessagesRequest is the POST
// /v1/session/{id}/message:restore body.
type sessionRestoreMessagesRequest struct {
	Messages []store.WithParts `json:"messages"`
}

type sessionRestoreMessagesResponse struct {
	Restored int `json:"restored"`
}

// sessionForkRequest is the POST /v1/session/{id}/fork body.
type sessionForkRequest struct {
	FromMessageID *string `json:"from_message_id"`
}
