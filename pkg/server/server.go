package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/adapter"
	"github.com/marmos91/plevy/pkg/registry"
)

// DefaultShutdownTimeout bounds the Stop() calls issued during shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// PlevyServer manages the lifecycle of the protocol adapters that expose one
// shared registry.
//
// Architecture:
// The FUSE mount, the NFS export and the management API are each an Adapter.
// All of them share the registry's entry store and projection, so an entry
// added through the API shows up on every mount.
//
// Lifecycle:
//  1. Creation: New() with the registry
//  2. Registration: AddAdapter() for each enabled adapter
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation or the first adapter failure stops all
//     adapters in reverse registration order
//
// Thread safety:
// PlevyServer is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := server.New(reg, server.Options{ShutdownTimeout: 30 * time.Second})
//	_ = srv.AddAdapter(fuseAdapter)
//	_ = srv.AddAdapter(apiAdapter)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type PlevyServer struct {
	registry        *registry.Registry
	shutdownTimeout time.Duration

	// mu protects adapters and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	served   bool
}

// Options tunes a PlevyServer.
type Options struct {
	// ShutdownTimeout bounds how long adapters get to stop (default: 30s).
	ShutdownTimeout time.Duration
}

// New creates a PlevyServer over reg.
//
// Panics if reg is nil (indicates programmer error).
func New(reg *registry.Registry, opts Options) *PlevyServer {
	if reg == nil {
		panic("registry cannot be nil")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &PlevyServer{
		registry:        reg,
		shutdownTimeout: opts.ShutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 3),
	}
}

// Registry returns the registry shared by the adapters.
func (s *PlevyServer) Registry() *registry.Registry {
	return s.registry
}

// AddAdapter injects the registry into a and registers it.
//
// Returns an error if an adapter with the same protocol, or the same
// non-zero port, is already registered, or if Serve() has been called.
//
// Panics if a is nil (programmer error).
func (s *PlevyServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 means the adapter does not listen (FUSE) or binds an
		// ephemeral port
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetRegistry(s.registry)
	s.adapters = append(s.adapters, a)

	if port != 0 {
		logger.Info("Registered %s adapter on port %d", protocol, port)
	} else {
		logger.Info("Registered %s adapter", protocol)
	}
	return nil
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Returns:
//   - ctx.Err() when shutdown was triggered by the context
//   - the first adapter error otherwise
//   - an error if no adapters are registered or Serve was already called
func (s *PlevyServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting plevy with %d adapter(s)", len(adapters))

	// Cancelled on the first failure as well as when ctx is done
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so failing adapters never block
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			protocol := a.Protocol()

			err := a.Serve(serveCtx)
			switch {
			case err == nil:
				if serveCtx.Err() == nil {
					// Returning before cancellation counts as a failure
					errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
					return
				}
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || serveCtx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", protocol, err)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(a)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	cancel()
	s.stopAllAdapters(adapters)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("plevy stopped")
	return shutdownErr
}

// stopAllAdapters calls Stop() on every adapter in reverse registration
// order, sharing one shutdown deadline.
func (s *PlevyServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		protocol := a.Protocol()

		logger.Debug("Stopping %s adapter", protocol)
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stopped", protocol)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *PlevyServer) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
