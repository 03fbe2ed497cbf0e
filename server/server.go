// Package server exposes a session over HTTP: a websocket that pushes state
// snapshots and endpoints that deliver user input.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/transcribe"
	"go.uber.org/zap"
)

const (
	defaultPollInterval   = 250 * time.Millisecond
	defaultMaxUploadBytes = 25 << 20
	shutdownTimeout       = 5 * time.Second
)

// Session is the part of the kernel the transport talks to.
type Session interface {
	Snapshot() *agentloop.SessionState
	SubmitUserResponse(text string) error
	SubmitTranscript(text string) error
}

// Server serves one session.
type Server struct {
	session        Session
	transcriber    transcribe.Transcriber
	logger         *zap.Logger
	pollInterval   time.Duration
	maxUploadBytes int64

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithTranscriber enables POST /audio.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(s *Server) {
		s.transcriber = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval sets how often websocket clients are checked for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMaxUploadBytes caps the audio upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// New creates a Server for session.
func New(session Session, opts ...Option) *Server {
	s := &Server{
		session:        session,
		logger:         zap.NewNop(),
		pollInterval:   defaultPollInterval,
		maxUploadBytes: defaultMaxUploadBytes,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware())

	r.Get("/health", s.handleHealth)
	r.Get("/session", s.handleSession)
	r.Get("/ws", s.handleWebSocket)
	r.Post("/input", s.handleInput)
	r.Post("/audio", s.handleAudio)
	r.Post("/audio/transcript", s.handleTranscript)
	return r
}

// Close disconnects websocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

// corsMiddleware allows every origin; the server is meant for a local UI.
func corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
