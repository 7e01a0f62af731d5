package config

import (
	contentS3 "github.com/marmos91/plevy/pkg/content/s3"
	"github.com/marmos91/plevy/pkg/metrics"
	promMetrics "github.com/marmos91/plevy/pkg/metrics/prometheus"
	"github.com/marmos91/plevy/pkg/registry"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Projection observes filesystem operations (never nil)
	Projection metrics.ProjectionMetrics

	// API observes management API requests (never nil)
	API metrics.APIMetrics

	// S3 observes object storage calls (nil if disabled)
	S3 contentS3.Metrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// If metrics are disabled it returns a nil server and no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Projection: metrics.NewNoopProjectionMetrics(),
			API:        metrics.NewNoopAPIMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:    cfg.Server.Metrics.Port,
		Address: cfg.Server.Metrics.Address,
	})

	return &MetricsResult{
		Server:     server,
		Projection: promMetrics.NewProjectionMetrics(),
		API:        promMetrics.NewAPIMetrics(),
		S3:         promMetrics.NewS3Metrics(),
	}
}

// TrackMounts feeds the registry's mounts to the metrics server's /ready
// endpoint. When FUSE is enabled the server is ready only once the
// projection is mounted. Does nothing if metrics are disabled.
func TrackMounts(m *MetricsResult, cfg *Config, reg *registry.Registry) {
	if m == nil || m.Server == nil || reg == nil {
		return
	}

	var required []string
	if cfg.Adapters.FUSE.Enabled {
		required = append(required, "fuse")
	}

	m.Server.TrackMounts(func() []metrics.Mount {
		infos := reg.ListMounts()
		mounts := make([]metrics.Mount, 0, len(infos))
		for _, mi := range infos {
			mounts = append(mounts, metrics.Mount{
				Protocol: mi.Protocol,
				Target:   mi.Target,
				Since:    mi.MountTime,
			})
		}
		return mounts
	}, required...)
}
