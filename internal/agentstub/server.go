// Package agentstub is a minimal Battlesnake-protocol agent. It backs
// `arena stub` smoke runs and the liveness tests.
package agentstub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// APIVersion is the Battlesnake API version the stub speaks.
const APIVersion = "1"

// Logger records stub status information.
type Logger interface {
	Printf(format string, args ...any)
}

// Info is the GET / response.
type Info struct {
	APIVersion string `json:"apiversion"`
	Author     string `json:"author"`
	Color      string `json:"color"`
	Head       string `json:"head"`
	Tail       string `json:"tail"`
	Version    string `json:"version"`
}

type moveResponse struct {
	Move  string `json:"move"`
	Shout string `json:"shout,omitempty"`
}

// Server serves the stub agent over HTTP.
type Server struct {
	settings Settings
	logger   Logger
	clock    func() time.Time

	games atomic.Int64
	moves atomic.Int64

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a stub using settings.
func NewServer(settings Settings, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the stub's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInfo)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/end", s.handleEnd)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("agentstub: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("agentstub: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("agentstub: listen %s: %w", addr, err)
	}
	s.listener = listener
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("agentstub: serve error: %v", err)
		}
	}()
	s.logger.Printf("agentstub: %s listening on %s", s.settings.Name, listener.Addr().String())
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.settings.Address()
	}
	return "http://" + addr
}

// Stats reports how many games started and moves were answered.
func (s *Server) Stats() (games, moves int64) {
	return s.games.Load(), s.moves.Load()
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, Info{
		APIVersion: APIVersion,
		Author:     s.settings.Name,
		Color:      s.settings.Color,
		Head:       "default",
		Tail:       "default",
		Version:    "arena-stub",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	state, ok := s.decode(w, r)
	if !ok {
		return
	}
	s.games.Add(1)
	s.logger.Printf("agentstub: game %s started at %s", state.Game.ID, s.clock().Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	state, ok := s.decode(w, r)
	if !ok {
		return
	}
	s.moves.Add(1)
	writeJSON(w, http.StatusOK, moveResponse{Move: ChooseMove(state)})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	state, ok := s.decode(w, r)
	if !ok {
		return
	}
	s.logger.Printf("agentstub: game %s ended after %d turns", state.Game.ID, state.Turn)
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (GameState, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return GameState{}, false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	var state GameState
	if err := json.NewDecoder(reader).Decode(&state); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return GameState{}, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return GameState{}, false
	}
	return state, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
