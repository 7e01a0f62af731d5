package config

import (
	"fmt"

	"github.com/marmos91/plevy/pkg/adapter"
	"github.com/marmos91/plevy/pkg/adapter/api"
	"github.com/marmos91/plevy/pkg/adapter/fuse"
	"github.com/marmos91/plevy/pkg/adapter/nfs"
	"github.com/marmos91/plevy/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Adapters are returned in start order: FUSE, API, NFS. The server stops
// them in reverse.
//
// Parameters:
//   - cfg: The complete plevy configuration
//   - apiMetrics: Optional API metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, apiMetrics metrics.APIMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.FUSE.Enabled {
		a, err := fuse.New(cfg.Adapters.FUSE)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if cfg.Adapters.API.Enabled {
		a, err := api.New(cfg.Adapters.API, apiMetrics)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if cfg.Adapters.NFS.Enabled {
		a, err := nfs.New(cfg.Adapters.NFS)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
