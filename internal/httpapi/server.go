// Package httpapi exposes the local control surface: station snapshot, recent
// outbound messages and the inbound command bridge.
package httpapi

import (
	"container/ring"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/futurehomeno/cliffhanger/event"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/station"
)

const (
	recentMessages  = 64
	shutdownTimeout = 5 * time.Second
)

// Station is the supervisor surface the API serves from.
type Station interface {
	Snapshot() station.Snapshot
	HandleMessage(msg model.Message) error
}

// Server is the local HTTP API.
type Server interface {
	Start() error
	Stop() error
	// Handler exposes the route tree, mainly for tests.
	Handler() http.Handler
}

type server struct {
	mu      sync.Mutex
	running bool

	bindAddress string
	station     Station
	httpServer  *http.Server

	eventManager event.Manager
	listener     event.Listener

	recentMu sync.Mutex
	recent   *ring.Ring
}

// NewServer creates the API around a station supervisor. The event manager
// feeds the recent-messages buffer with everything routed to the UI sink.
func NewServer(bindAddress string, st Station, eventManager event.Manager) Server {
	s := &server{
		bindAddress:  bindAddress,
		station:      st,
		eventManager: eventManager,
		recent:       ring.New(recentMessages),
	}

	s.listener = routing.NewMessageListener(eventManager, s)

	router := mux.NewRouter()
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/session", s.handleSession).Methods(http.MethodGet)
	router.HandleFunc("/api/messages", s.handleMessages).Methods(http.MethodGet)
	router.HandleFunc("/api/commands", s.handleCommand).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              bindAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := s.listener.Start(); err != nil {
		return err
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("httpapi: server stopped")
		}
	}()

	s.running = true

	return nil
}

func (s *server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.listener.Stop(); err != nil {
		log.WithError(err).Warn("httpapi: failed to stop message listener")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.running = false

	return s.httpServer.Shutdown(ctx)
}

// Process buffers one routed message for the /api/messages endpoint. It is
// the event.Processor behind the message listener.
func (s *server) Process(e event.Event) {
	msg, ok := routing.MessagePayload(e)
	if !ok {
		return
	}

	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	s.recent.Value = msg
	s.recent = s.recent.Next()
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.station.Snapshot())
}

func (s *server) handleSession(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.station.Snapshot()
	if snapshot.Session == nil {
		writeError(w, http.StatusNotFound, "no active session")

		return
	}

	writeJSON(w, http.StatusOK, snapshot.Session)
}

func (s *server) handleMessages(w http.ResponseWriter, _ *http.Request) {
	s.recentMu.Lock()

	messages := make([]model.Message, 0, recentMessages)

	s.recent.Do(func(value any) {
		if msg, ok := value.(model.Message); ok {
			messages = append(messages, msg)
		}
	})

	s.recentMu.Unlock()

	writeJSON(w, http.StatusOK, messages)
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var msg model.Message

	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed command envelope")

		return
	}

	if err := s.station.HandleMessage(msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Error("httpapi: failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
