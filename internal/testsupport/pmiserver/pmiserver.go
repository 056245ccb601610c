// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package pmiserver is a mock process-manager bulletin board: the
// put(k,v)/get(k)/barrier() abstraction the bootstrap protocol runs its
// five phases against. It is adapted from the teacher's httptest.Server +
// gorilla/mux mock REST server, shaped around three endpoints instead of a
// job/node/partition REST surface.
package pmiserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Server is a mock PMI bulletin board for bootstrap integration tests. Every
// rank in a test talks to the same Server, simulating the shared
// process-manager service that wires a tree of brokers together.
type Server struct {
	httpServer *httptest.Server
	router     *mux.Router

	mu       sync.Mutex
	kv       map[string]string
	size     int
	arrived  map[int]bool
	released chan struct{}
}

// NewServer creates a mock PMI bulletin board sized for size ranks.
func NewServer(size int) *Server {
	s := &Server{
		kv:      make(map[string]string),
		size:    size,
		arrived: make(map[int]bool),
	}
	s.router = mux.NewRouter().StrictSlash(false)
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/kv/{key}", s.handlePut).Methods("PUT")
	s.router.HandleFunc("/kv/{key}", s.handleGet).Methods("GET")
	s.router.HandleFunc("/barrier/{rank}", s.handleBarrier).Methods("POST")

	s.httpServer = httptest.NewServer(s.router)
	return s
}

// URL returns the mock server's base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts down the mock server.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Reset clears the bulletin board and any pending barrier, so a Server can
// be reused across subtests without a fresh httptest.Server per case.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string]string)
	s.arrived = make(map[int]bool)
	if s.released != nil {
		close(s.released)
		s.released = nil
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("pmiserver: %s %s", sanitizeForLog(r.Method), sanitizeForLog(r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func sanitizeForLog(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, value)
}

type putRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body putRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid put body: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.kv[key] = body.Value
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	s.mu.Lock()
	value, ok := s.kv[key]
	s.mu.Unlock()

	if !ok {
		http.Error(w, fmt.Sprintf("key %q not found", key), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(putRequest{Value: value})
}

// handleBarrier blocks the HTTP request open until every rank in [0, size)
// has posted to /barrier/{rank}, then releases all of them at once — the
// collective rendezvous bootstrap.barrier needs.
func (s *Server) handleBarrier(w http.ResponseWriter, r *http.Request) {
	var rank int
	if _, err := fmt.Sscanf(mux.Vars(r)["rank"], "%d", &rank); err != nil {
		http.Error(w, "invalid rank", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.released == nil {
		s.released = make(chan struct{})
	}
	released := s.released
	s.arrived[rank] = true
	allArrived := len(s.arrived) >= s.size
	if allArrived {
		close(released)
		s.arrived = make(map[int]bool)
		s.released = nil
	}
	s.mu.Unlock()

	select {
	case <-released:
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
	}
}
