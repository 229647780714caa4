// Package api provides the operator HTTP API for LeadPipe.
//
// It exposes read-only views of the bot state and a reset endpoint. Every request that
// touches state is executed on the agent event loop through the Backend.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/go-chi/chi/v5"
)

// Backend is the part of the agent the API serves.
type Backend interface {
	CurrentStatus(ctx context.Context) (agent.Status, error)
	Applications(ctx context.Context) ([]models.Application, error)
	Reset(ctx context.Context, source string) error
}

// DefaultRequestTimeout bounds the time a request waits for the event loop.
const DefaultRequestTimeout = 10 * time.Second

// Server is the operator HTTP server.
type Server struct {
	httpServer *http.Server
	backend    Backend
}

// NewServer creates a server listening on addr.
func NewServer(addr string, backend Backend) *Server {
	s := &Server{backend: backend}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.healthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.statusHandler)
		r.Get("/applications", s.applicationsHandler)
		r.Post("/reset", s.resetHandler)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server shutting down")
	return s.httpServer.Shutdown(ctx)
}
