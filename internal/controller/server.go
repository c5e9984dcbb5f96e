// Package controller contains the HTTP API of the bridge server.
package controller

import (
	"context"
	"net/http"
	"time"

	"agentplane/internal/controller/handlers"
	"agentplane/internal/controller/middleware"
)

// Options tunes the HTTP server.
type Options struct {
	// Requests per second per owner, 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// Server is the HTTP server for the bridge API.
type Server struct {
	httpServer *http.Server
}

// New creates a new bridge API server.
func New(addr string, h *handlers.Handlers, metricsHandler http.Handler, opts Options) *Server {
	limitMW := middleware.RateLimit(opts.RateLimit, opts.RateLimitBurst)
	owned := func(hf http.HandlerFunc) http.Handler {
		return middleware.Owner(limitMW(hf))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Owner-scoped job apis
	mux.Handle("POST /jobs", owned(h.StartJob))
	mux.Handle("GET /jobs", owned(h.ListJobs))
	mux.Handle("GET /jobs/{id}", owned(h.GetJob))
	mux.Handle("GET /jobs/{id}/events", owned(h.GetJobEvents))
	mux.Handle("DELETE /jobs/{id}/events", owned(h.ClearJobEvents))
	mux.Handle("POST /scenario/generate", owned(h.GeneratePack))

	// Account apis proxy the single agent account; they are not
	// owner-scoped.
	mux.HandleFunc("POST /account/login/start", h.StartLogin)
	mux.HandleFunc("GET /account/login/completed", h.GetLoginCompleted)
	mux.HandleFunc("POST /account/login/cancel", h.CancelLogin)
	mux.HandleFunc("POST /account/logout", h.Logout)
	mux.HandleFunc("GET /account/read", h.GetAccount)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
