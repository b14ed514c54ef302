// Package question implements the interactive multi-option question
// workflow: the same ask/suspend/reply skeleton as permission, but for
// free-form Q&A rather than allow/deny decisions.
package question

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/id"
)

// Bus event type names.
const (
	EventAsked    = "question.asked"
	EventReplied  = "question.replied"
	EventRejected = "question.rejected"
)

// Option is one selectable answer to a Question.
type Option struct {
	Label string
	Value string
}

// ToolRef names the tool call a question originated from, if any.
type ToolRef struct {
	CallID string
	Tool   string
}

// Question is one free-form prompt presented to the user.
type Question struct {
	Text    string
	Options []Option
	Tool    *ToolRef
}

// Request is one pending multi-question ask() call.
type Request struct {
	ID        string
	SessionID string
	Questions []Question

	done    chan struct{}
	answers [][]string
	reject  bool
}

// AskedProps is published when a question request is created.
type AskedProps struct{ Request Request }

func (p AskedProps) SessionID() string { return p.Request.SessionID }

// RepliedProps is published when a request is answered.
type RepliedProps struct {
	RequestID string
	Answers   [][]string
}

// RejectedProps is published when a request is rejected.
type RejectedProps struct{ RequestID string }

// RejectedError is raised when the UI rejects a question request.
type RejectedError struct{ RequestID string }

func (e *RejectedError) Error() string {
	return fmt.Sprintf("question: request %s rejected", e.RequestID)
}

// Engine is the process-wide question engine.
type Engine struct {
	bus *bus.Bus

	mu      sync.Mutex
	pending map[string]*Request
}

// New creates an empty Engine.
func New(b *bus.Bus) *Engine {
	return &Engine{bus: b, pending: make(map[string]*Request)}
}

// Ask registers questions as a pending request, publishes
// question.asked, and blocks until Reply or Reject resolves it.
func (e *Engine) Ask(sessionID string, questions []Question) ([][]string, error) {
	reqID, err := id.Ascending(id.PrefixQuestion)
	if err != nil {
		return nil, fmt.Errorf("question: generate request id: %w", err)
	}
	req := &Request{ID: reqID, SessionID: sessionID, Questions: questions, done: make(chan struct{})}

	e.mu.Lock()
	e.pending[reqID] = req
	e.mu.Unlock()

	e.bus.Publish(EventAsked, AskedProps{Request: *req})
	<-req.done

	if req.reject {
		return nil, &RejectedError{RequestID: reqID}
	}
	return req.answers, nil
}

// Reply resolves requestID with the given answers, one string slice
// per question in the original request.
func (e *Engine) Reply(requestID string, answers [][]string) error {
	req, err := e.take(requestID)
	if err != nil {
		return err
	}
	req.answers = answers
	close(req.done)
	e.bus.Publish(EventReplied, RepliedProps{RequestID: requestID, Answers: answers})
	return nil
}

// Reject resolves requestID as rejected, raising RejectedError in the
// waiting Ask call.
func (e *Engine) Reject(requestID string) error {
	req, err := e.take(requestID)
	if err != nil {
		return err
	}
	req.reject = true
	close(req.done)
	e.bus.Publish(EventRejected, RejectedProps{RequestID: requestID})
	return nil
}

func (e *Engine) take(requestID string) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.pending[requestID]
	if !ok {
		return nil, errors.New("question: unknown request id")
	}
	delete(e.pending, requestID)
	return req, nil
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
