package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/plevy/internal/logger"
)

// Mount is an active mount as reported by the readiness endpoint.
type Mount struct {
	Protocol string `json:"protocol"`
	Target   string `json:"target"`
	Since    int64  `json:"since"`
}

// MountLister returns the mounts currently served.
type MountLister func() []Mount

// Readiness is the body of GET /ready.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Mounts  []Mount  `json:"mounts"`
	Missing []string `json:"missing,omitempty"`
}

// Server exposes Prometheus metrics and the readiness of the projection.
//
// Endpoints:
//   - GET /metrics: Prometheus metrics (OpenMetrics when negotiated)
//   - GET /ready: 200 once every required protocol has an active mount,
//     503 before that; the body lists the mounts
//   - GET /: index of the above
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	http     *http.Server

	mu       sync.RWMutex
	mounts   MountLister
	required []string
	bound    net.Addr

	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Address is the interface to bind (default: all interfaces)
	Address string

	// Port to listen on. Zero picks a free port; Addr reports it once
	// the server is listening.
	Port int

	// Gatherer is scraped on /metrics (default: the global registry)
	Gatherer prometheus.Gatherer
}

// NewServer creates a metrics server. Call Start to begin serving.
func NewServer(config ServerConfig) *Server {
	gatherer := config.Gatherer
	if gatherer == nil {
		if reg := GetRegistry(); reg != nil {
			gatherer = reg
		}
	}

	s := &Server{
		addr:     net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
		gatherer: gatherer,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, "plevy\n\n/metrics  Prometheus metrics\n/ready    mount readiness\n")
	})

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) metricsHandler() http.Handler {
	if s.gatherer == nil {
		logger.Debug("Metrics collection disabled, /metrics answers 503")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// TrackMounts wires the readiness endpoint to the mounts reported by list.
// The server is ready once each protocol in required has at least one
// mount; with nothing required it is ready as soon as it serves.
func (s *Server) TrackMounts(list MountLister, required ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts = list
	s.required = required
}

// Readiness evaluates the readiness endpoint's answer.
func (s *Server) Readiness() Readiness {
	s.mu.RLock()
	list, required := s.mounts, s.required
	s.mu.RUnlock()

	r := Readiness{Mounts: []Mount{}}
	if list != nil {
		r.Mounts = append(r.Mounts, list()...)
	}
	for _, p := range required {
		if !slices.ContainsFunc(r.Mounts, func(m Mount) bool { return m.Protocol == p }) {
			r.Missing = append(r.Missing, p)
		}
	}
	r.Ready = len(r.Missing) == 0
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.Readiness()
	status := http.StatusOK
	if !ready.Ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ready)
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully.
//
// Returns:
//   - nil after a graceful shutdown
//   - error if the listener cannot be opened or serving fails
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	logger.Info("Metrics server listening on %s", ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// The parent context is already done; shutdown needs its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Addr returns the address the server listens on, or nil before Start has
// opened its listener.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}
