package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittomover/internal/logger"
)

// DefaultPort is the port used when ServerConfig.Port is not set.
const DefaultPort = 9090

// Server exposes the registry on /metrics and a liveness probe on /healthz.
type Server struct {
	config ServerConfig
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Default: 9090
	Port int

	// Address to bind. Default: all interfaces
	Address string
}

// NewServer creates a stopped metrics server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}

	s := &Server{config: config}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	if reg := GetRegistry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintln(w, "dittomover\n\n/metrics  Prometheus metrics\n/healthz  liveness probe")
	})

	return mux
}

// Start listens and serves until ctx is done or the listener fails. When ctx
// ends, the server is shut down with a five second grace period.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("Metrics server listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Calls after the first are no-ops.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if err = s.http.Shutdown(ctx); err != nil {
			err = fmt.Errorf("failed to shut down metrics server: %w", err)
			logger.Error("%v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return err
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
