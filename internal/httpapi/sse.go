package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/bus"
	"github.com/Tsukumi233/hotaru-code-sub001/internal/session"
)

// heartbeatInterval matches the 30s SSE keep-alive idle timeout in
// SPEC_FULL.md §5.
const heartbeatInterval = 30 * time.Second

// sseFrame is the wire envelope every SSE data line carries, per
// spec.md §6: data: {type, data, timestamp, session_id?}\n\n.
type sseFrame struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame sseFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func nowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// streamEvents relays bus events to w as SSE frames until the request
// context is cancelled. sessionID, when non-empty, filters to events
// scoped to that session; sessionID == "" relays every event, matching
// the global event stream in SPEC_FULL.md §4.13.
func streamEvents(w http.ResponseWriter, r *http.Request, b *bus.Bus, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	connType := "server.connected"
	if sessionID != "" {
		connType = "server.connection"
	}
	if !writeSSEFrame(w, flusher, sseFrame{Type: connType, Data: map[string]any{}, Timestamp: nowMillis(), SessionID: sessionID}) {
		return
	}

	events := make(chan bus.Event, 64)
	unsubscribe := b.SubscribeAll(func(ev bus.Event) {
		if sessionID != "" && ev.SessionID != sessionID {
			return
		}
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !writeSSEFrame(w, flusher, sseFrame{Type: "server.heartbeat", Data: map[string]any{}, Timestamp: nowMillis()}) {
				return
			}
		case ev := <-events:
			if !writeSSEFrame(w, flusher, sseFrame{Type: ev.Type, Data: ev.Properties, Timestamp: nowMillis(), SessionID: ev.SessionID}) {
				return
			}
		}
	}
}

// streamSessionUntilIdle relays sessionID's bus events as SSE, the
// same as streamEvents, but additionally ends the stream once it
// observes that session's session.status transition back to idle
// (the turn this request triggered has finished), per spec.md §5's
// cancellation/completion model.
func streamSessionUntilIdle(w http.ResponseWriter, r *http.Request, b *bus.Bus, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !writeSSEFrame(w, flusher, sseFrame{Type: "server.connection", Data: map[string]any{}, Timestamp: nowMillis(), SessionID: sessionID}) {
		return
	}

	events := make(chan bus.Event, 64)
	unsubscribe := b.SubscribeAll(func(ev bus.Event) {
		if ev.SessionID != sessionID {
			return
		}
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !writeSSEFrame(w, flusher, sseFrame{Type: "server.heartbeat", Data: map[string]any{}, Timestamp: nowMillis()}) {
				return
			}
		case ev := <-events:
			if !writeSSEFrame(w, flusher, sseFrame{Type: ev.Type, Data: ev.Properties, Timestamp: nowMillis(), SessionID: ev.SessionID}) {
				return
			}
			if ev.Type == session.EventSessionStatus {
				if props, ok := ev.Properties.(session.SessionStatusProps); ok && props.Status == session.SessionIdle {
					return
				}
			}
		}
	}
}
