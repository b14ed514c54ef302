package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/permission"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/question"
)

// EventSessionStatus is published whenever a session's task
// registration transitions between working and idle.
const EventSessionStatus = "session.status"

// SessionStatus is the closed set of statuses published on
// EventSessionStatus.
type SessionStatus string

const (
	SessionWorking SessionStatus = "working"
	SessionIdle    SessionStatus = "idle"
)

// SessionStatusProps is the event payload for EventSessionStatus.
type SessionStatusProps struct {
	SessionIDValue string        `json:"session_id"`
	Status         SessionStatus `json:"status"`
}

// SessionID satisfies bus's session-scoped routing.
func (p SessionStatusProps) SessionID() string { return p.SessionIDValue }

type runningTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runtime is a registry of at-most-one running task per session. It
// cancels and cleans up per-session permission/question state on
// interrupt, and publishes session.status transitions.
type Runtime struct {
	bus  *bus.Bus
	perm *permission.Engine
	ques *question.Engine
	log  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*runningTask
}

// NewRuntime constructs a Runtime. If log is nil, slog.Default() is
// used.
func NewRuntime(b *bus.Bus, perm *permission.Engine, ques *question.Engine, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{bus: b, perm: perm, ques: ques, log: log, tasks: map[string]*runningTask{}}
}

// Start runs fn in a new goroutine under a task registered to
// sessionID, and returns once it has been registered. It returns an
// error without running fn if sessionID already has a live task.
// session.status=working is published on entry and session.status=idle
// is published once fn returns, even if fn panics or ctx is cancelled.
func (r *Runtime) Start(ctx context.Context, sessionID string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if _, busy := r.tasks[sessionID]; busy {
		r.mu.Unlock()
		return fmt.Errorf("session %s already has a running task", sessionID)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &runningTask{cancel: cancel, done: make(chan struct{})}
	r.tasks[sessionID] = t
	r.mu.Unlock()

	r.publish(sessionID, SessionWorking)

	go func() {
		defer close(t.done)
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("session task panicked", "session_id", sessionID, "panic", rec)
			}
		}()
		defer func() {
			r.mu.Lock()
			if r.tasks[sessionID] == t {
				delete(r.tasks, sessionID)
			}
			r.mu.Unlock()
			r.publish(sessionID, SessionIdle)
		}()
		fn(taskCtx)
	}()

	return nil
}

// Interrupt cancels sessionID's running task (if any), clears its
// turn- and session-scoped permission rules and any pending questions
// addressed to it, and waits for the task goroutine to finish.
func (r *Runtime) Interrupt(sessionID, projectID string) {
	r.mu.Lock()
	t, ok := r.tasks[sessionID]
	r.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}

	if r.perm != nil {
		r.perm.ClearScope(permission.ScopeTurn, sessionID, projectID)
		r.perm.ClearScope(permission.ScopeSession, sessionID, projectID)
	}
	if r.ques != nil {
		for _, req := range r.ques.Pending() {
			if req.SessionID == sessionID {
				_ = r.ques.Reject(req.ID)
			}
		}
	}
}

// Shutdown cancels every running task and waits for them to finish.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	tasks := make([]*runningTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Running reports whether sessionID currently has a registered task.
func (r *Runtime) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}

func (r *Runtime) publish(sessionID string, status SessionStatus) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(EventSessionStatus, SessionStatusProps{SessionIDValue: sessionID, Status: status})
}
