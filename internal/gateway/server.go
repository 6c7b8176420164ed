// Package gateway exposes the crew over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"devcrew/internal/agent"
	"devcrew/internal/crew"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Crew is what the gateway serves.
type Crew interface {
	Develop(ctx context.Context, problemStatement string, emit func(agent.Event)) (*crew.Output, error)
	Profiles() []*agent.Profile
	Manager() *agent.Profile
}

type Server struct {
	crew   Crew
	mux    *http.ServeMux
	logger *slog.Logger
}

func NewServer(c Crew, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		crew:   c,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /develop/{$}", s.handleDevelop)
	s.mux.HandleFunc("POST /develop", s.handleDevelop)
	s.mux.HandleFunc("POST /develop/stream", s.handleDevelopStream)
	s.mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	h := requestLoggingMiddleware(s.logger)(s.mux)
	return otelhttp.NewHandler(h, "devcrew.gateway")
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("gateway: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}
