// Package server publishes tracking frames to WebSocket clients and exposes
// a small JSON API for status and control. The server never touches the
// pose provider directly: the tracker goroutine pushes frames and status in,
// and control requests are queued as ops the tracker goroutine drains
// between frames.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tracklab/nditracker/internal/config"
	"github.com/tracklab/nditracker/internal/tracker"
)

// OpKind names a queued control request.
type OpKind int

const (
	OpBeep OpKind = iota
	OpTracking
	OpStrays
)

// Op is one control request for the tracker goroutine. Reply receives the
// outcome; it is buffered so the tracker never blocks on a gone client.
type Op struct {
	Kind  OpKind
	On    bool // target state for OpTracking / OpStrays
	Count int  // beep count for OpBeep
	Reply chan error
}

// Status is the tracker state snapshot served at /api/status and pushed to
// WebSocket clients whenever it changes.
type Status struct {
	Provider     string `json:"provider"`
	State        string `json:"state"`
	Connected    bool   `json:"connected"`
	Tracking     bool   `json:"tracking"`
	StrayMarkers bool   `json:"strayMarkers"`
	Port         string `json:"port,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Tools        int    `json:"tools"`
	LastFrameMs  int64  `json:"lastFrameMs,omitempty"` // Unix ms of last frame
}

// Message is the JSON structure sent to all WebSocket clients.
type Message struct {
	Frame  *tracker.Frame `json:"frame,omitempty"`
	Status *Status        `json:"status,omitempty"`
	Stamp  int64          `json:"stamp"` // Unix ms
}

// Server broadcasts frames and brokers control ops between HTTP clients
// and the tracker goroutine.
type Server struct {
	cfg *config.Config

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	ops chan Op

	stateMu   sync.RWMutex
	status    Status
	lastFrame *tracker.Frame
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// opReplyTimeout bounds how long a control handler waits for the tracker
// goroutine to pick up and execute its op.
const opReplyTimeout = 3 * time.Second

// New creates a new Server.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:     cfg,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ops: make(chan Op, 16),
	}
}

// Ops returns the queue the tracker goroutine drains between frames.
func (s *Server) Ops() <-chan Op {
	return s.ops
}

// Handler returns the HTTP routing for the API and WebSocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/beep", s.handleBeep)
	mux.HandleFunc("/api/tracking", s.handleTracking)
	mux.HandleFunc("/api/strays", s.handleStrays)

	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

// Publish broadcasts one tracking frame to all clients and caches it for
// the REST API. Called from the tracker goroutine.
func (s *Server) Publish(frame *tracker.Frame) {
	if frame == nil {
		return
	}
	s.stateMu.Lock()
	s.lastFrame = frame
	s.status.LastFrameMs = frame.Captured.UnixMilli()
	s.stateMu.Unlock()

	s.broadcast(Message{Frame: frame, Stamp: time.Now().UnixMilli()})
}

// UpdateStatus caches and broadcasts a status change. Called from the
// tracker goroutine.
func (s *Server) UpdateStatus(st Status) {
	s.stateMu.Lock()
	st.LastFrameMs = s.status.LastFrameMs
	s.status = st
	s.stateMu.Unlock()

	s.broadcast(Message{Status: &st, Stamp: time.Now().UnixMilli()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]interface{}{
		"service":   "nditracker",
		"endpoints": []string{"/ws", "/api/status", "/api/tools", "/api/config", "/api/beep", "/api/tracking", "/api/strays"},
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString()[:8],
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client %s connected (%d total)", client.id, total)

	// Send current status and the last frame so the client paints
	// immediately
	s.stateMu.RLock()
	st := s.status
	hello := Message{Status: &st, Frame: s.lastFrame, Stamp: time.Now().UnixMilli()}
	s.stateMu.RUnlock()
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client %s disconnected (%d total)", client.id, total)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.stateMu.RLock()
	st := s.status
	s.stateMu.RUnlock()
	writeJSON(w, st)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.stateMu.RLock()
	var tools []tracker.ToolSnapshot
	if s.lastFrame != nil {
		tools = s.lastFrame.Tools
	}
	s.stateMu.RUnlock()
	if tools == nil {
		tools = []tracker.ToolSnapshot{}
	}
	writeJSON(w, tools)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Serial and tool changes take effect on the next reconnect
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleBeep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	s.execOp(w, Op{Kind: OpBeep, Count: req.Count})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	s.execOp(w, Op{Kind: OpTracking, On: req.On})
}

func (s *Server) handleStrays(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	s.execOp(w, Op{Kind: OpStrays, On: req.On})
}

// execOp queues one op for the tracker goroutine and waits briefly for its
// outcome. A full queue means the tracker is wedged or gone.
func (s *Server) execOp(w http.ResponseWriter, op Op) {
	op.Reply = make(chan error, 1)
	select {
	case s.ops <- op:
	default:
		http.Error(w, "tracker busy", http.StatusServiceUnavailable)
		return
	}
	select {
	case err := <-op.Reply:
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	case <-time.After(opReplyTimeout):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		http.Error(w, fmt.Sprintf("bad request: %v", err), 400)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func (s *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
