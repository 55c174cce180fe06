// Package server is the HTTP surface of the node: liveness, the WebSocket
// endpoint, the ingress gateway and the stats endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/christopherjohns/tablecast/internal/config"
	"github.com/christopherjohns/tablecast/internal/event"
	"github.com/christopherjohns/tablecast/internal/identity"
	"github.com/christopherjohns/tablecast/internal/ingress"
	"github.com/christopherjohns/tablecast/internal/metrics"
	"github.com/christopherjohns/tablecast/internal/ratelimit"
	"github.com/christopherjohns/tablecast/internal/router"
	"github.com/christopherjohns/tablecast/internal/ws"
)

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Router   *router.Router
	Verifier identity.Verifier
	Conns    *ws.ConnManager
	// Limiter throttles /ws handshakes per client IP; nil disables it.
	Limiter *ratelimit.Limiter
	Log     *slog.Logger
}

// Server is the main HTTP server for tablecast.
type Server struct {
	cfg     *config.Config
	deps    Deps
	log     *slog.Logger
	handler http.Handler
	now     func() time.Time
}

// New creates a new Server and mounts its routes.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With("component", "http"),
		now:  time.Now,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(CORS(s.cfg.Server.AllowedOrigins))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware(s.cfg.Logging.Service))

	r.Get("/health", s.handleHealth)

	wsHandler := ws.NewHandler(s.deps.Verifier, s.deps.Router, s.deps.Conns, ws.HandlerOptions{
		AllowedOrigins:  s.cfg.Server.AllowedOrigins,
		MaxMessageBytes: s.cfg.Server.MaxMessageBytes,
	}, s.deps.Log)
	if s.deps.Limiter != nil {
		r.With(ratelimit.Middleware(s.deps.Limiter, s.log)).Get("/ws", wsHandler.ServeHTTP)
	} else {
		r.Get("/ws", wsHandler.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(ingress.RequireToken(s.cfg.Ingress.Token))
		r.Method(http.MethodPost, "/emit", ingress.NewHandler(s.deps.Router, s.cfg.Server.MaxMessageBytes, s.deps.Log))
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"port":      s.cfg.Server.Port,
		"timestamp": event.Timestamp(s.now()),
	})
}

type statsResponse struct {
	Router      router.Stats `json:"router"`
	Connections ws.ConnStats `json:"connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Router.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Router: st, Connections: s.deps.Conns.Stats()})
}

// Run serves until ctx is done, then closes every WebSocket and drains
// in-flight requests within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	s.deps.Conns.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
