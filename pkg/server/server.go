package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittomover/internal/logger"
)

// DefaultStopTimeout bounds the Stop calls issued at shutdown when New is
// given a zero timeout.
const DefaultStopTimeout = 30 * time.Second

// Service is a long-running component of the daemon: the mover, the garbage
// collector, a maintenance task or the metrics endpoint.
type Service interface {
	// Name identifies the service in logs. Names are unique per Server.
	Name() string

	// Serve runs the service and blocks until ctx is cancelled or the
	// service fails. Returning before cancellation stops all other services.
	//
	// Returns:
	//   - nil or context.Canceled on graceful shutdown
	//   - error if the service could not start or failed while running
	Serve(ctx context.Context) error

	// Stop asks the service to shut down and waits for it, bounded by ctx.
	// It may be called after Serve returned and must be idempotent.
	Stop(ctx context.Context) error
}

// Server manages the lifecycle of the services that make up the daemon.
//
// Lifecycle:
//  1. Creation: New() with the shutdown budget
//  2. Registration: AddService() for each component
//  3. Startup: Serve() starts all services concurrently
//  4. Shutdown: context cancellation or a failing service stops every
//     service in reverse registration order
//
// Thread safety:
// Server is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := server.New(30 * time.Second)
//	_ = srv.AddService(server.Blocking("mover", serveMover, m.Stop))
//	_ = srv.AddService(server.Background("gc", startGC, collector.Stop))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Server struct {
	// services in registration order
	services []Service

	// stopTimeout bounds all Stop calls at shutdown
	stopTimeout time.Duration

	// mu protects services and served
	mu     sync.Mutex
	served bool
}

// New creates a Server without services.
//
// Parameters:
//   - stopTimeout: Budget for stopping all services (DefaultStopTimeout if 0)
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Server{
		services:    make([]Service, 0, 4),
		stopTimeout: stopTimeout,
	}
}

// AddService registers a service to be started by Serve.
//
// Returns:
//   - error if svc is nil, its name is taken, or Serve was already called
func (s *Server) AddService(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add service %s after Serve() has been called", svc.Name())
	}

	for _, existing := range s.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}

	s.services = append(s.services, svc)
	logger.Debug("Registered service %s", svc.Name())
	return nil
}

// Serve starts all registered services and blocks until ctx is cancelled or
// a service fails.
//
// Shutdown behavior:
//   - All services receive Stop() calls in reverse registration order,
//     sharing one stopTimeout budget
//   - Serve() waits for every Serve goroutine before returning
//
// Returns:
//   - context.Canceled (or ctx.Err()) after a shutdown triggered by ctx
//   - the error of the first failing service otherwise
//   - error if no service is registered or Serve was already called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return fmt.Errorf("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.services) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no services registered; call AddService() before Serve()")
	}
	services := make([]Service, len(s.services))
	copy(services, s.services)
	s.mu.Unlock()

	logger.Info("Starting %d service(s)", len(services))

	// Services stop serving once this context is cancelled, whether the
	// caller cancelled ctx or a sibling failed
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan serviceError, len(services))
	var wg sync.WaitGroup

	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()

			name := svc.Name()
			logger.Debug("Starting service %s", name)

			err := svc.Serve(serveCtx)
			switch {
			case serveCtx.Err() != nil:
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Service %s stopped with error: %v", name, err)
				} else {
					logger.Debug("Service %s stopped gracefully", name)
				}
			case err != nil:
				logger.Error("Service %s failed: %v", name, err)
				errChan <- serviceError{name: name, err: err}
			default:
				logger.Info("Service %s stopped", name)
			}
		}(svc)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case svcErr := <-errChan:
		logger.Error("Service %s failed: %v - initiating shutdown of all services", svcErr.name, svcErr.err)
		shutdownErr = fmt.Errorf("%s service error: %w", svcErr.name, svcErr.err)
	}

	cancel()
	s.stopAll(services)

	logger.Debug("Waiting for all services to complete shutdown")
	wg.Wait()

	logger.Info("All services stopped")
	return shutdownErr
}

// serviceError pairs a service name with its error.
type serviceError struct {
	name string
	err  error
}

// stopAll stops the services in reverse registration order. Errors are
// logged; the remaining services are still stopped.
func (s *Server) stopAll(services []Service) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d service(s)", len(services))

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s: %v", svc.Name(), err)
		} else {
			logger.Debug("Service %s stopped", svc.Name())
		}
	}
}

// Services returns a snapshot of the registered services.
func (s *Server) Services() []Service {
	s.mu.Lock()
	defer s.mu.Unlock()

	services := make([]Service, len(s.services))
	copy(services, s.services)
	return services
}
