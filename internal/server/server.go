// Package server exposes the agent over HTTP: one chat endpoint plus
// the cache and conversation administration surface. Framing is plain
// JSON; auth and persistence belong to whatever sits in front.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/mihulabs/mihu/internal/observability"
	"github.com/mihulabs/mihu/internal/tracing"
	"github.com/mihulabs/mihu/pkg/agent"
)

// Options configures the HTTP server.
type Options struct {
	Host   string
	Port   int
	Runner *agent.Runner
	Logger zerolog.Logger
}

// Server is the HTTP boundary around the agent runner.
type Server struct {
	options   Options
	server    *http.Server
	startTime time.Time

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a server. The runner is required.
func NewServer(options Options) (*Server, error) {
	if options.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Port == 0 {
		options.Port = 3002
	}

	return &Server{
		options:   options,
		startTime: time.Now(),
	}, nil
}

// Handler builds the route table. Split out so tests can drive it with
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ai", s.handleChat)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/cache/info", s.handleCacheInfo)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/cache/entry", s.handleCacheEntry)
	mux.HandleFunc("/conversations/stats", s.handleConversationStats)
	mux.HandleFunc("/conversations/clear", s.handleConversationClear)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())

	return mux
}

// Start runs the server until Stop or a listen failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.options.Logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests, then shuts the listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.options.Logger.Info().Msg("Shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.options.Logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.trackRequest(w) {
		return
	}
	defer s.inFlightReqs.Done()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		id, err := gonanoid.New()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to create session id")
			return
		}
		req.SessionID = id
	}

	ctx := tracing.NewRequestContext(r.Context())
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	logger := tracing.LoggerFromContext(ctx, s.options.Logger)

	start := time.Now()
	reply := s.options.Runner.Generate(ctx, req.SessionID, req.Message)

	logger.Info().
		Str("session_id", req.SessionID).
		Dur("duration", time.Since(start)).
		Msg("Chat request completed")

	s.writeJSON(w, http.StatusOK, chatResponse{Reply: reply, SessionID: req.SessionID})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.options.Runner.CacheStats())
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.options.Runner.CacheInfo())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.options.Runner.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

type cacheEntryRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cacheEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	deleted := s.options.Runner.DeleteCacheEntry(req.Message)
	status := http.StatusOK
	if !deleted {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]bool{"deleted": deleted})
}

func (s *Server) handleConversationStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.options.Runner.ConversationStats())
}

type conversationClearRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleConversationClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req conversationClearRequest
	// Empty body means clear everything.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.SessionID == "" {
		s.options.Runner.ClearAllConversations()
	} else {
		s.options.Runner.ClearConversation(req.SessionID)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// trackRequest registers an in-flight request, rejecting it when the
// server is draining.
func (s *Server) trackRequest(w http.ResponseWriter) bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return false
	}
	s.inFlightReqs.Add(1)
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
