// Package server exposes pipeline status, Prometheus metrics and a websocket
// control channel over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/petems/visiontone/internal/app"
	"github.com/petems/visiontone/internal/synth"
	"github.com/petems/visiontone/internal/vision"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	shutdownTimeout = 5 * time.Second
)

// Controller is the part of the app the server reads from and steers.
type Controller interface {
	Status() app.Status
	SetToneParameters(u synth.Update)
	SetProcessingParameters(u vision.Update)
	SetROI(x, y, width, height int, enable bool)
	DisableROI()
	SetSampling(rowStep, colStep int)
}

// Server serves /healthz, /status, /metrics and /ws. It implements
// app.StatusUpdater by broadcasting state changes to websocket clients.
type Server struct {
	addr     string
	ctrl     Controller
	log      zerolog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	state   string
}

// New creates a server listening on addr.
func New(addr string, ctrl Controller, log zerolog.Logger) *Server {
	s := &Server{
		addr: addr,
		ctrl: ctrl,
		log:  log.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		state:   "idle",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	s.handler = mux
	return s
}

// SetController replaces the controller. Call it before Run.
func (s *Server) SetController(ctrl Controller) { s.ctrl = ctrl }

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.log.Info().Str("addr", s.addr).Msg("Status server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", s.addr, err)
	}
	return nil
}

// StatusUpdater

func (s *Server) SetIdle() {
	s.setState("idle")
	s.broadcast(message{Type: "state", State: "idle"})
}

func (s *Server) SetRunning(st app.Status) {
	s.setState("running")
	s.broadcast(message{Type: "status", State: "running", Status: &st})
}

func (s *Server) SetError(err error) {
	s.setState("error")
	s.broadcast(message{Type: "state", State: "error", Error: err.Error()})
}

func (s *Server) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) currentState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HTTP handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	st := s.ctrl.Status()
	_ = json.NewEncoder(w).Encode(message{
		Type:      "status",
		State:     s.currentState(),
		Status:    &st,
		WSClients: s.clientCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()

	st := s.ctrl.Status()
	_ = s.writeJSON(conn, writeMu, message{Type: "status", State: s.currentState(), Status: &st})

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)

		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			reply := s.handleControl(payload)
			_ = s.writeJSON(conn, writeMu, reply)
		}
	}()
}

func (s *Server) broadcast(m message) {
	payload, err := json.Marshal(m)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode broadcast")
		return
	}

	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range stale {
		s.removeClient(conn)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.removeClient(conn)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
