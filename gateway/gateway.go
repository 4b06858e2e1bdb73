// Package gateway hosts the HTTP surface of a cloudrelay process: the
// relay endpoints this deployment serves, the twin stream, health, and
// metrics. Which endpoints are mounted depends on the role the process
// plays in its cloud; a nil handler is simply not mounted.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/health"
)

// Routes served by the gateway.
const (
	PathEvents       = "/v1/events"
	PathIngest       = "/v1/ingest"
	PathWriteHot     = "/v1/write/hot"
	PathWriteCold    = "/v1/write/cold"
	PathWriteArchive = "/v1/write/archive"
	PathQuery        = "/v1/query"
	PathTwin         = "/v1/twin"
	PathTwinStream   = "/v1/twin/stream"
	PathHealth       = "/healthz"
	PathMetrics      = "/metrics"
)

// Endpoints collects the handlers a deployment exposes. Each field is
// optional.
type Endpoints struct {
	Events       http.HandlerFunc
	Ingest       http.HandlerFunc
	WriteHot     http.HandlerFunc
	WriteCold    http.HandlerFunc
	WriteArchive http.HandlerFunc
	Query        http.HandlerFunc
	Twin         http.HandlerFunc
	TwinStream   http.HandlerFunc
}

// Server is the gateway HTTP server.
type Server struct {
	addr       string
	httpServer *http.Server
	logger     *slog.Logger

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopChan chan struct{}
}

// New assembles the mux and server. The monitor and metrics handler are
// always mounted; endpoint handlers only when non-nil.
func New(addr string, endpoints Endpoints, monitor *health.Monitor, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mount := func(path string, h http.HandlerFunc) {
		if h != nil {
			mux.Handle(path, h)
		}
	}
	mount(PathEvents, endpoints.Events)
	mount(PathIngest, endpoints.Ingest)
	mount(PathWriteHot, endpoints.WriteHot)
	mount(PathWriteCold, endpoints.WriteCold)
	mount(PathWriteArchive, endpoints.WriteArchive)
	mount(PathQuery, endpoints.Query)
	mount(PathTwin, endpoints.Twin)
	mount(PathTwinStream, endpoints.TwinStream)
	if monitor != nil {
		mux.Handle(PathHealth, monitor.HTTPHandler("cloudrelay"))
	}
	if metrics != nil {
		mux.Handle(PathMetrics, metrics)
	}

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger:   logger.With("component", "gateway"),
		stopChan: make(chan struct{}),
	}
}

// Handler exposes the assembled mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until the context is cancelled, Stop is called,
// or the listener fails. The ready channel, if non-nil, is closed once
// the server is about to accept connections.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapConfig(errors.ErrInvalidConfig, "gateway", "Start", "already running")
	}
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("gateway starting", "addr", s.addr)
		if ready != nil {
			close(ready)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gateway context cancelled, shutting down")
		return s.Stop(30 * time.Second)
	case <-s.stopChan:
		return nil
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.Wrap(err, "gateway", "Start", "listener failed")
	}
}

// Stop shuts the server down gracefully, bounded by timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "graceful shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("gateway stopped")
	return nil
}
