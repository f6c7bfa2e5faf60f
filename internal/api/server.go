// Package api implements the observer/status read surface and the
// operational command endpoint: a gorilla/mux HTTP router exposing
// read-only JSON endpoints plus a small admin-gated control surface, and a
// gorilla/websocket hub that live-tails the event bus. Every mutating
// route runs through the security gate before touching any component.
package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/arbiter-hq/arbiter/internal/events"
	"github.com/arbiter-hq/arbiter/internal/orchestrator"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/registry"
	"github.com/arbiter-hq/arbiter/internal/security"
	"github.com/arbiter-hq/arbiter/internal/store"
)

// ringBufferCapacity bounds how many events the polling form of /events
// can look back through.
const ringBufferCapacity = 4096

// Deps bundles every component the API surfaces reach into. None of them
// are owned by Server; it only ever reads through narrow accessor methods
// or forwards to an operation the gate has already authorized.
type Deps struct {
	Store        *store.ResilientStore
	Queue        *queue.Queue
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Gate         *security.Gate
	Bus          *events.Bus
}

// Server is the HTTP+websocket surface described by the observer/status
// read API, the command endpoint, and the live-tail hub.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *hub
	deps       Deps
	logger     *log.Logger
	startTime  time.Time

	ring    *eventRingBuffer
	stopHub chan struct{}

	sweeperMu     sync.Mutex
	sweeperCancel context.CancelFunc
}

// NewServer wires the router, hub, and ring buffer but does not start
// listening; call Start for that.
func NewServer(deps Deps, addr string, logger *log.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		hub:       newHub(logger),
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
		ring:      newEventRingBuffer(deps.Bus, ringBufferCapacity),
		stopHub:   make(chan struct{}),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           securityHeaders(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEventsPoll).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", s.handleWebSocket)

	api.HandleFunc("/command/start", s.withAuth(security.OpSystemStart, true, s.handleCommandStart)).Methods(http.MethodPost)
	api.HandleFunc("/command/stop", s.withAuth(security.OpSystemStop, true, s.handleCommandStop)).Methods(http.MethodPost)
	api.HandleFunc("/command/queue/clear", s.withAuth(security.OpQueueClear, true, s.handleCommandClearQueue)).Methods(http.MethodPost)
	api.HandleFunc("/command/assignments/{id}/cancel", s.withAuth(security.OpAssignmentCancel, true, s.handleCommandCancel)).Methods(http.MethodPost)
}

// Start runs the hub's broadcast loop and begins serving HTTP in the
// background. The returned error is only a synchronous bind failure;
// later listener errors are logged, matching the teacher's fire-and-log
// convention for background servers.
func (s *Server) Start() error {
	go s.hub.run(s.deps.Bus, s.stopHub)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logf("http server error: %v", err)
		}
	}()
	return nil
}

// Shutdown drains the HTTP server and stops the hub and ring buffer.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopHub)
	s.ring.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
