// Package api serves the management API used to add and enumerate entries.
//
// Routes:
//
//	GET  /health        liveness check
//	GET  /entries       every decodable entry, sorted by id
//	POST /entries       create an entry, answers 201 with the new id
//	GET  /entries/{id}  one entry
//
// The API writes through the same entry store the filesystem adapters read,
// so a created entry is visible on every mount once POST returns.
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/internal/ratelimiter"
	"github.com/marmos91/plevy/pkg/metrics"
	"github.com/marmos91/plevy/pkg/registry"
)

// APIConfig holds configuration parameters for the management API.
//
// Default values (applied by New if zero):
//   - Address: 127.0.0.1 (the API is unauthenticated)
//   - Port: 3000
//   - ReadTimeout: 10s
//   - WriteTimeout: 30s
//   - ShutdownTimeout: 10s
//   - MaxBodyBytes: 1MiB
//   - RateLimit: 0 (unlimited)
type APIConfig struct {
	// Enabled controls whether the API adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Address is the interface to bind.
	Address string `mapstructure:"address"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// ShutdownTimeout bounds how long in-flight requests may finish when
	// the serve context is cancelled.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxBodyBytes caps the size of a POST body.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`

	// RateLimit is the sustained requests per second allowed per client
	// address. 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`

	// RateBurst is the number of requests a client may issue at once
	// (default: twice RateLimit, at least 1).
	RateBurst int `mapstructure:"rate_burst" validate:"min=0"`

	// listenAny makes Serve bind an ephemeral port when Port is 0.
	listenAny bool
}

func (c *APIConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1"
	}
	if c.Port <= 0 && !c.listenAny {
		c.Port = 3000
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = int(math.Ceil(2 * c.RateLimit))
	}
}

func (c *APIConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid MaxBodyBytes %d: must be >= 0", c.MaxBodyBytes)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("rate limit and burst must be >= 0")
	}
	return nil
}

// APIAdapter implements the adapter.Adapter interface for the management API.
type APIAdapter struct {
	config   APIConfig
	registry *registry.Registry
	metrics  metrics.APIMetrics
	limiter  *ratelimiter.RateLimiter

	mu       sync.Mutex
	server   *http.Server
	stopped  bool
	port     atomic.Int32
	stopOnce sync.Once
}

// New creates an API adapter in a stopped state. A nil m disables request
// metrics.
func New(config APIConfig, m metrics.APIMetrics) (*APIAdapter, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid API config: %w", err)
	}
	if m == nil {
		m = metrics.NewNoopAPIMetrics()
	}

	a := &APIAdapter{
		config:  config,
		metrics: m,
		limiter: ratelimiter.New(config.RateLimit, config.RateBurst, 0),
	}
	a.port.Store(int32(config.Port))
	return a, nil
}

// SetRegistry injects the shared registry.
func (a *APIAdapter) SetRegistry(reg *registry.Registry) {
	a.registry = reg
	logger.Debug("API adapter registry configured")
}

// Handler returns the routed handler with its middleware chain.
func (a *APIAdapter) Handler() http.Handler {
	return newHandler(a.registry.Entries(), a.metrics, a.config.MaxBodyBytes, a.limiter)
}

// Serve listens on the configured address and blocks until the context is
// cancelled, Stop is called or the listener fails.
func (a *APIAdapter) Serve(ctx context.Context) error {
	if a.registry == nil {
		return fmt.Errorf("API adapter: registry not set")
	}

	addr := net.JoinHostPort(a.config.Address, strconv.Itoa(a.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create API listener on %s: %w", addr, err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		a.port.Store(int32(tcpAddr.Port))
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: a.config.ReadTimeout,
		WriteTimeout:      a.config.WriteTimeout,
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	a.server = srv
	a.mu.Unlock()

	logger.Info("Management API listening on http://%s", ln.Addr())

	serveDone := make(chan struct{})
	defer close(serveDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-serveDone:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			logger.Warn("API shutdown: %v", err)
		}
	}()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("API server failed: %w", err)
}

// Stop shuts the HTTP server down, letting in-flight requests finish until
// ctx is done. Safe to call multiple times and concurrently with Serve().
func (a *APIAdapter) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		srv := a.server
		a.mu.Unlock()

		if srv == nil {
			return
		}
		logger.Debug("API shutdown initiated")
		if err = srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	})
	return err
}

// Port returns the TCP port the API is listening on.
func (a *APIAdapter) Port() int {
	return int(a.port.Load())
}

// Protocol returns "API" as the protocol identifier.
func (a *APIAdapter) Protocol() string {
	return "API"
}
