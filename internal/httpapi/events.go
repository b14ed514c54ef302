package httpapi

import "net/http"

// handleEvents relays every bus event as SSE, optionally pre-filtered
// to one session via ?session_id=, grounded on
// original_source/src/hotaru/server/routes/events.py.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	streamEvents(w, r, s.ctx.Bus, r.URL.Query().Get("session_id"))
}
