package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tsukumi233/hotaru-code-sub001/internal/app"
)

// Server is the versioned /v1 REST+SSE facade over an app.Context,
// grounded on the teacher's internal/gateway/http_server.go:
// stdlib http.ServeMux, promhttp.Handler() at /metrics, a
// ReadHeaderTimeout, and a listen-then-serve-in-goroutine lifecycle
// with graceful Shutdown.
type Server struct {
	ctx *app.Context
	log *slog.Logger
	mux *http.ServeMux

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server wired to ctx. Call Start to begin listening.
func New(ctx *app.Context, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{ctx: ctx, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("POST /v1/session", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/session", s.handleListSessions)
	s.mux.HandleFunc("GET /v1/session/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /v1/session/{id}", s.handleUpdateSession)
	s.mux.HandleFunc("DELETE /v1/session/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /v1/session/{id}/message", s.handleListMessages)
	s.mux.HandleFunc("POST /v1/session/{id}/message:delete", s.handleDeleteMessages)
	s.mux.HandleFunc("POST /v1/session/{id}/message:restore", s.handleRestoreMessages)
	s.mux.HandleFunc("POST /v1/session/{id}/message:stream", s.handleMessageStream)
	s.mux.HandleFunc("POST /v1/session/{id}/compact", s.handleCompact)
	s.mux.HandleFunc("POST /v1/session/{id}/interrupt", s.handleInterrupt)
	s.mux.HandleFunc("POST /v1/session/{id}/fork", s.handleFork)

	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
}

// Handler returns the fully wrapped http.Handler (routes plus
// middleware), exported so tests can drive it with httptest without
// binding a real listener.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, requestID, accessLog(s.log))
}

// Start listens on addr and serves in a background goroutine,
// returning once the listener is bound.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("starting http server", "addr", addr)
	return nil
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline
// (or 5s if ctx is nil) for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	statusCode := http.StatusOK
	if !s.ctx.MCP.Healthy() {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"status": status,
		"mcp":    s.ctx.HealthTable(),
	})
}
