// Package syncserver is the field sync server: capture devices push full
// collection snapshots at it, it persists them, and it broadcasts every
// update to connected WebSocket dashboard clients so the program office can
// watch field activity in real time.
package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/store"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeCollectionUpdate indicates a device pushed a collection
	// snapshot.
	MessageTypeCollectionUpdate MessageType = "collection_update"

	// MessageTypeStats carries current per-collection record counts.
	MessageTypeStats MessageType = "stats"
)

// Message is a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CollectionUpdateData describes one received snapshot.
type CollectionUpdateData struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// StatsData maps collection keys to record counts.
type StatsData struct {
	Collections map[string]int `json:"collections"`
}

// maxSnapshotBytes bounds one pushed snapshot.
const maxSnapshotBytes = 8 << 20

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks a free port (tests).
	Port int

	// Store persists received snapshots. Required.
	Store *store.Store

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server receives collection pushes and broadcasts updates to WebSocket
// clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	store    *store.Store

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	mu     sync.Mutex
	counts map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a sync server.
func NewServer(config *Config) (*Server, error) {
	if config == nil || config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[syncserver] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		store:     config.Store,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		counts:    make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	if err := s.seedCounts(); err != nil {
		// Stats converge as devices push; serve with what we have.
		s.logger.Printf("Warning: failed to seed stats from store: %v", err)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/collections/{key}", s.handleGetCollection).Methods(http.MethodGet)
	r.HandleFunc("/api/collections/{key}", s.handlePutCollection).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the actual listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Sync server stopped")
	return nil
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// seedCounts primes the per-collection record counts from snapshots already
// in the store, so stats survive a server restart instead of reading zero
// until every device pushes again.
func (s *Server) seedCounts() error {
	lister, ok := s.store.Backend().(store.KeyLister)
	if !ok {
		return nil
	}

	keys, err := lister.Keys()
	if err != nil {
		return fmt.Errorf("failed to list stored collections: %w", err)
	}

	for _, key := range keys {
		raw, ok, err := s.store.Backend().Get(key)
		if err != nil || !ok {
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			// Not a collection snapshot; skip it.
			continue
		}
		s.mu.Lock()
		s.counts[key] = len(records)
		s.mu.Unlock()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}

// handlePutCollection accepts a full snapshot and replaces the stored copy.
// The body must be a JSON array; the push protocol never carries deltas.
func (s *Server) handlePutCollection(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		http.Error(w, "body must be a JSON array", http.StatusBadRequest)
		return
	}

	if err := s.store.Backend().Set(key, string(body)); err != nil {
		s.logger.Printf("failed to persist snapshot for %q: %v", key, err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.counts[key] = len(records)
	s.mu.Unlock()

	s.logger.Printf("Received %d record(s) for %q from %s", len(records), key, r.RemoteAddr)

	data, _ := json.Marshal(CollectionUpdateData{Key: key, Count: len(records)})
	s.Broadcast(Message{Type: MessageTypeCollectionUpdate, Data: data})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	raw, ok, err := s.store.Backend().Get(key)
	if err != nil {
		s.logger.Printf("failed to read snapshot for %q: %v", key, err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, raw)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	stats := StatsData{Collections: make(map[string]int, len(s.counts))}
	for k, n := range s.counts {
		stats.Collections[k] = n
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// broadcastLoop fans messages out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock so a slow client cannot block
			// new registrations.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Greet with current stats so a dashboard renders without waiting for
	// the next push.
	s.mu.Lock()
	stats := StatsData{Collections: make(map[string]int, len(s.counts))}
	for k, n := range s.counts {
		stats.Collections[k] = n
	}
	s.mu.Unlock()

	data, _ := json.Marshal(stats)
	welcome, _ := json.Marshal(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and notices disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Clients do not send anything we act on.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", len(s.clients))
	}
	s.clientsMu.Unlock()
}
