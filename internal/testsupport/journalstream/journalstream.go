// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package journalstream is a gorilla/websocket-backed test double for the
// job-manager.events-journal streaming RPC. It lets job state engine tests
// drive a real streamed connection instead of feeding an in-memory channel,
// the way the teacher's pkg/streaming wrapped a polling Watch() in a
// WebSocket for its REST client.
package journalstream

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Entry is a single job eventlog record, per the job-manager.events-journal
// wire format: {timestamp, name, context}.
type Entry struct {
	Timestamp float64 `json:"timestamp"`
	Name      string  `json:"name"`
	Context   any     `json:"context,omitempty"`
}

// Event envelopes an Entry with its job id and journal sequence number, the
// unit the streaming RPC actually yields: {id, eventlog_seq, entry}.
type Event struct {
	ID          uint64 `json:"id"`
	EventlogSeq uint64 `json:"eventlog_seq"`
	Entry       Entry  `json:"entry"`
}

// Server is a mock job-manager.events-journal endpoint. Tests call Publish
// to push events to every currently-connected client, simulating the
// broker's journal fanout.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan struct{}
}

// NewServer creates a new journal stream test double.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan struct{}),
	}
}

// ServeHTTP implements http.Handler so a Server can be passed directly to
// httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the connection and registers it to receive
// Publish()'d events until the client disconnects or the request context
// is canceled.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("journalstream: upgrade error: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	done := make(chan struct{})
	s.mu.Lock()
	s.clients[conn] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.discardIncoming(conn, cancel)

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// discardIncoming drains and discards frames from the client; the journal
// stream is unidirectional, but a peer dropping the socket must still
// unblock HandleWebSocket.
func (s *Server) discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends ev to every connected client. It does not block waiting
// for slow readers beyond a short per-client write deadline.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("journalstream: write error: %v", err)
		}
	}
}

// Close disconnects every currently-connected client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, done := range s.clients {
		close(done)
		_ = conn.Close()
	}
}

// Dial connects to a journal stream server and returns a channel of decoded
// events, closed when the connection ends.
func Dial(ctx context.Context, url string) (<-chan Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// MarshalEntry is a convenience helper for tests that build a raw context
// payload (e.g. a memo's user.* namespace) and need it wrapped in an Entry
// stamped with the current time.
func MarshalEntry(name string, context any) Entry {
	return Entry{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Name:      name,
		Context:   context,
	}
}
