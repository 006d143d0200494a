package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/florianilch/firehose/internal/tally"
)

// DefaultPeriod is the interval between snapshots on /events.
const DefaultPeriod = time.Second

// SnapshotSource provides the data published by the server.
type SnapshotSource interface {
	Snapshot() tally.Snapshot
}

// Option configures a Server.
type Option func(*Server)

// WithPeriod sets the interval between snapshots on /events.
func WithPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.period = d
		}
	}
}

// Server publishes tally snapshots to subscribers.
type Server struct {
	source SnapshotSource
	period time.Duration
	mux    *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a broadcast server for source.
func New(source SnapshotSource, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("missing snapshot source")
	}

	s := &Server{
		source: source,
		period: DefaultPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := slog.Default()

	mux := http.NewServeMux()
	mux.Handle("GET /tally", applyMiddlewares(http.HandlerFunc(s.handleTally),
		Logging(logger),
		Recovery,
	))
	mux.Handle("GET /events", applyMiddlewares(http.HandlerFunc(s.handleEvents),
		Logging(logger),
		Recovery,
	))
	s.mux = mux

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, s.source.Snapshot(), http.StatusOK)
}

// handleEvents streams one snapshot immediately and then one per period until the
// subscriber goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeJSONError(ctx, w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		if err := sse.WriteEvent("tally", s.source.Snapshot()); err != nil {
			slog.DebugContext(ctx, "subscriber write failed", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:     s,
		ReadTimeout: 30 * time.Second,
		// Bounds /events subscriptions; SSE clients reconnect on their own.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.server = server
	s.addr = listener.Addr()
	s.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		err := server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
