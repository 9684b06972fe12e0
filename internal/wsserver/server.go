// Package wsserver adapts the room registry (internal/room) to HTTP and
// WebSocket transport, the same separation kolabpad draws between its
// pkg/server HTTP layer and its pkg/server Kolabpad domain type.
package wsserver

import (
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/shiv248/kolabrooms/internal/room"
	"github.com/shiv248/kolabrooms/pkg/logger"
)

// Server is the HTTP entrypoint: one WebSocket route plus a small JSON
// stats endpoint, mirroring kolabpad's Server/ServeMux split.
type Server struct {
	registry     *room.Registry
	mux          *http.ServeMux
	startTime    time.Time
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Options configures connection-level timeouts. Defaults match
// SPEC_FULL.md's supplemented connection-timeout behavior.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer wires a registry to HTTP routes.
func NewServer(registry *room.Registry, opts Options) *Server {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Minute
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		registry:     registry,
		mux:          http.NewServeMux(),
		startTime:    time.Now(),
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
	}
	s.mux.HandleFunc("/api/socket", s.handleSocket)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades a request and hands it to a per-connection
// handler. Route: /api/socket
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Error("websocket upgrade failed: %v", err)
		return
	}

	c := newConnection(s.registry, conn, s.readTimeout, s.writeTimeout)
	if err := c.Handle(r.Context()); err != nil {
		logger.Debug("connection %d closed: %v", c.id, err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// statsPayload is the handleStats response body.
type statsPayload struct {
	StartTime int64 `json:"startTime"`
}

// handleStats reports basic liveness information. Route: /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsPayload{StartTime: s.startTime.Unix()})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}
