// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package debugserver exposes the job state engine's query surface
// (spec.md §4.4) over read-only HTTP, matching the teacher's habit of
// giving every subsystem an inspectable surface alongside its RPC API.
// It is operator tooling only: nothing here mutates engine state.
package debugserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fluxrm/flux-core/internal/jobstate"
	"github.com/fluxrm/flux-core/pkg/logging"
	"github.com/fluxrm/flux-core/pkg/report"
)

// Engine is the subset of *jobstate.Engine the debug server reads.
// Accepting an interface instead of the concrete type keeps this package
// testable against a fake without constructing a real reactor.
type Engine interface {
	QueryNow(ctx context.Context, ids []uint64) (map[uint64]jobstate.Job, []uint64, error)
	ListPending(ctx context.Context) ([]jobstate.Job, error)
	ListRunning(ctx context.Context) ([]jobstate.Job, error)
	ListInactive(ctx context.Context) ([]jobstate.Job, error)
	ListProcessing(ctx context.Context) ([]jobstate.Job, error)
}

// Server is a read-only HTTP front-end onto an Engine's four indexes and
// single-job lookups, for operator use (curl, a browser, a dashboard) —
// never a production client path.
type Server struct {
	engine Engine
	log    logging.Logger
	router *mux.Router

	// queryTimeout bounds every request's hop onto the engine's reactor
	// thread, so a stalled engine can't hang an HTTP handler forever.
	queryTimeout time.Duration
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithQueryTimeout overrides the default per-request engine query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) { s.queryTimeout = d }
}

// New builds a Server backed by engine.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		log:          logging.NewLogger(nil),
		queryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter().StrictSlash(false)
	r.HandleFunc("/jobs/pending", s.handleList(s.engine.ListPending)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/running", s.handleList(s.engine.ListRunning)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/inactive", s.handleList(s.engine.ListInactive)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/processing", s.handleList(s.engine.ListProcessing)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	s.router = r

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleList(fetch func(context.Context) ([]jobstate.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
		defer cancel()

		jobs, err := fetch(ctx)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.writeJSON(w, http.StatusOK, jobs)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	found, _, err := s.engine.QueryNow(ctx, []uint64{id})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	job, ok := found[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	pending, err := s.engine.ListPending(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	running, err := s.engine.ListRunning(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	inactive, err := s.engine.ListInactive(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	processing, err := s.engine.ListProcessing(ctx)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report.Summarize(pending, running, inactive, processing)))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("debugserver: encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn("debugserver: request failed", "error", err, "status", status)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
