// Package dashboard provides a WebSocket server that pushes sync activity to
// presentation clients.
//
// Every finished sync pass is broadcast once as a pass_complete message,
// followed by a record_update per record the pass wrote and a stats
// snapshot of what is still waiting to be pushed.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

type MessageType string

const (
	MessageTypePassComplete MessageType = "pass_complete"
	MessageTypeRecordUpdate MessageType = "record_update"
	MessageTypeStats        MessageType = "stats"
)

// queueSize bounds how many messages may wait for the fan-out goroutine.
const queueSize = 100

const writeTimeout = 5 * time.Second

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server fans messages out to every connected WebSocket. Clients that join
// late first receive the most recent stats message.
type Server struct {
	addr   string
	logger *log.Logger

	ln  net.Listener
	srv *http.Server

	mu     sync.RWMutex
	conns  map[*websocket.Conn]struct{}
	latest *Message

	queue chan Message

	done context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

type Config struct {
	Addr   string
	Logger *log.Logger
}

func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7788",
		Logger: log.Default(),
	}
}

// NewServer accepts a nil config, in which case DefaultConfig applies.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	done, stop := context.WithCancel(context.Background())
	return &Server{
		addr:   cfg.Addr,
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
		queue:  make(chan Message, queueSize),
		done:   done,
		stop:   stop,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/", s.serveIndex)
	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Serving sync events on %s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard serve error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and waits for the server goroutines.
func (s *Server) Stop() error {
	s.stop()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	clear(s.conns)
	s.mu.Unlock()

	var err error
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.srv.Shutdown(ctx)
		cancel()
	}
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	return nil
}

// Broadcast queues msg for every connected client. It never blocks: when
// the queue is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	if msg.Type == MessageTypeStats {
		s.mu.Lock()
		s.latest = &msg
		s.mu.Unlock()
	}

	select {
	case s.queue <- msg:
	case <-s.done.Done():
	default:
		s.logger.Printf("Dropping %s message, queue full", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done.Done():
			return
		case msg := <-s.queue:
			data, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.snapshot() {
				if err := write(s.done, conn, data); err != nil {
					s.logger.Printf("Dropping client: %v", err)
					s.drop(conn)
				}
			}
		}
	}
}

func (s *Server) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Welcome before joining, so the client never sees stats out of order.
	data, err := encode(s.welcome())
	if err == nil {
		err = write(r.Context(), conn, data)
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	s.logger.Printf("Client connected (%d open)", n)

	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.Read(s.done); err != nil {
				return
			}
		}
	}()
}

func (s *Server) welcome() Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest != nil {
		return *s.latest
	}
	return Message{Type: MessageTypeStats}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	n := len(s.conns)
	s.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (%d open)", n)
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

type health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Clients: s.ClientCount()})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "tracksync sync events\n\n  ws://%s/ws\n  http://%s/health\n\nmessages: %s, %s, %s\n",
		r.Host, r.Host, MessageTypePassComplete, MessageTypeRecordUpdate, MessageTypeStats)
}

// Addr reports the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
