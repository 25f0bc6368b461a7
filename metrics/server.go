package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	migrate "github.com/getpup/migrate-orchestrator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the orchestrator's metrics over HTTP for the duration
// of a run. Optional; enabled by the --metrics-addr flag.
type Server struct {
	server  *http.Server
	logger  migrate.Logger
	errChan chan error
}

// NewServer creates a metrics server on addr (":9090",
// "localhost:9090"). logger may be nil.
func NewServer(addr string, logger migrate.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:  logger,
		errChan: make(chan error, 1),
	}
}

// Start begins serving in a goroutine and returns immediately. A serve
// failure surfaces through Err rather than aborting the run: a
// migration must not fail because its metrics endpoint could not bind.
func (s *Server) Start() {
	if s.logger != nil {
		s.logger.Info(context.Background(), "metrics server listening", "addr", s.server.Addr)
	}
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(context.Background(), "metrics server failed",
					"addr", s.server.Addr, "error", err)
			}
			s.errChan <- err
		}
	}()
}

// Err reports a serve failure without blocking; nil if none occurred.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown stops the server, letting in-flight scrapes finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info(ctx, "metrics server stopping", "addr", s.server.Addr)
	}
	return s.server.Shutdown(ctx)
}
