// Package nfs exposes the projection over NFSv3 for hosts without FUSE.
//
// The RPC layer is github.com/willscott/go-nfs; this package contributes a
// read-only billy.Filesystem over projection.Filesystem, mount tracking and
// the adapter lifecycle. Clients mount the export root:
//
//	mount -t nfs -o port=12049,mountport=12049,nfsvers=3,tcp,nolock localhost:/ /mnt/plevy
package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/registry"
)

const protocolName = "nfs"

// NFSAdapter implements the adapter.Adapter interface for NFSv3.
//
// Architecture:
// go-nfs owns the accept loop and the RPC dispatch. NFSAdapter wraps the
// listener to track connections and wraps the handler chain
// (NullAuth -> Caching) to record mounts in the registry.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (signals in-flight projection calls to abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// to ensure idempotent behavior even if Stop() is called multiple times.
type NFSAdapter struct {
	config NFSConfig

	// registry provides the projection filesystem and mount tracking
	registry *registry.Registry

	// listener is the tracked TCP listener; nil until Serve starts
	listener net.Listener
	mu       sync.Mutex

	// port is the bound port, which differs from config.Port when it is 0
	port atomic.Int32

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// connSemaphore limits concurrent connections; nil means unlimited
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight requests
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to *trackedConn for forced closure
	activeConnections sync.Map
}

// NFSConfig holds configuration parameters for the NFS adapter.
//
// Default values (applied by New if zero):
//   - Port: 12049 (unprivileged, so plevy does not need root)
//   - MaxConnections: 0 (unlimited)
//   - ShutdownTimeout: 30s
//   - HandleCacheSize: 65536
//   - MetricsLogInterval: 5m (negative disables)
type NFSConfig struct {
	// Enabled controls whether the NFS adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Address is the interface to bind. Empty binds all interfaces.
	Address string `mapstructure:"address"`

	// Port is the TCP port serving both the NFS and MOUNT programs.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits the number of concurrent client connections.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// HandleCacheSize bounds the go-nfs file handle cache.
	HandleCacheSize int `mapstructure:"handle_cache_size" validate:"min=0"`

	// MetricsLogInterval is the interval at which to log active connections.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`

	// listenAny makes Serve bind an ephemeral port when Port is 0.
	listenAny bool
}

// applyDefaults fills in zero values with sensible defaults.
func (c *NFSConfig) applyDefaults() {
	if c.Port <= 0 && !c.listenAny {
		c.Port = 12049
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.HandleCacheSize == 0 {
		c.HandleCacheSize = 65536
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks that the configuration is usable.
func (c *NFSConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a new NFSAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetRegistry() to inject
// the shared resources, then call Serve() to start accepting connections.
//
// Returns an error if the configuration is invalid.
func New(config NFSConfig) (*NFSAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid NFS config: %w", err)
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("NFS connection limit: %d", config.MaxConnections)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	a := &NFSAdapter{
		config:         config,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
	a.port.Store(int32(config.Port))
	return a, nil
}

// SetRegistry injects the shared registry.
//
// Thread safety:
// Called exactly once before Serve(), no synchronization needed.
func (s *NFSAdapter) SetRegistry(reg *registry.Registry) {
	s.registry = reg
	logger.Debug("NFS adapter registry configured")
}

// Serve starts the NFS server and blocks until the context is cancelled
// or an unrecoverable error occurs.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails, the registry is missing, or shutdown
//     had to force-close connections
func (s *NFSAdapter) Serve(ctx context.Context) error {
	if s.registry == nil {
		return fmt.Errorf("NFS adapter: registry not set")
	}

	addr := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create NFS listener on %s: %w", addr, err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(tcpAddr.Port))
	}

	listener := &trackingListener{Listener: ln, adapter: s}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// The shutdown may have started before the listener existed
	select {
	case <-s.shutdown:
		_ = ln.Close()
		return nil
	default:
	}

	if logger.IsDebug() {
		nfs.Log.SetLevel(nfs.DebugLevel)
	} else {
		nfs.Log.SetLevel(nfs.ErrorLevel)
	}

	fs := s.registry.Filesystem()
	handler := nfshelper.NewNullAuthHandler(newProjectionFS(s.shutdownCtx, fs))
	cached := nfshelper.NewCachingHandler(handler, s.config.HandleCacheSize)
	server := &nfs.Server{
		Handler: &trackingHandler{
			Handler:  cached,
			ctx:      s.shutdownCtx,
			fs:       fs,
			registry: s.registry,
		},
		Context: s.shutdownCtx,
	}

	logger.Info("NFS server listening on %s", ln.Addr())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("NFS shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	serveErr := server.Serve(listener)

	select {
	case <-s.shutdown:
		return s.gracefulShutdown()
	default:
		s.initiateShutdown()
		if serveErr == nil || errors.Is(serveErr, net.ErrClosed) {
			serveErr = errors.New("listener closed unexpectedly")
		}
		return fmt.Errorf("NFS server failed: %w", serveErr)
	}
}

// initiateShutdown closes the listener and cancels in-flight requests.
// Safe to call multiple times and from multiple goroutines.
func (s *NFSAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("NFS shutdown initiated")

		close(s.shutdown)

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing NFS listener: %v", err)
			}
		}

		s.cancelRequests()
		if s.registry != nil {
			s.registry.RemoveAllMounts(protocolName)
		}
	})
}

// gracefulShutdown waits for active connections to complete or timeout.
//
// Returns:
//   - nil if all connections completed gracefully
//   - error if shutdown timeout exceeded (connections were force-closed)
func (s *NFSAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("NFS graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	select {
	case <-s.connectionsDone():
		logger.Info("NFS graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("NFS shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *NFSAdapter) connectionsDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections closes all active TCP connections to accelerate
// shutdown. NFS clients see connection errors and retry.
func (s *NFSAdapter) forceCloseConnections() {
	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(*trackedConn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d NFS connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the NFS server and waits for active
// connections until ctx is done.
//
// Stop is safe to call multiple times and safe to call concurrently with Serve().
func (s *NFSAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.connectionsDone():
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("NFS shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count.
func (s *NFSAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("NFS metrics: active_connections=%d mounts=%d",
				s.connCount.Load(), len(s.registry.ListMounts()))
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (s *NFSAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the TCP port the NFS server is listening on.
func (s *NFSAdapter) Port() int {
	return int(s.port.Load())
}

// Protocol returns "NFS" as the protocol identifier.
func (s *NFSAdapter) Protocol() string {
	return "NFS"
}
