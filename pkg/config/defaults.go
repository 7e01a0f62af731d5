package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/plevy/pkg/adapter/api"
	"github.com/marmos91/plevy/pkg/adapter/fuse"
	"github.com/marmos91/plevy/pkg/adapter/nfs"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// Default locations, relative to the working directory like the first
// plevy releases.
const (
	DefaultDBPath     = "./plevy.db"
	DefaultMountPoint = "./mnt"
	DefaultAPIAddress = "127.0.0.1"
	DefaultAPIPort    = 3000
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans defaulting to true are handled by viper in Load
//   - Backend-specific defaults are handled by the backends themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyEntriesDefaults(&cfg.Entries)
	applyContentDefaults(&cfg.Content)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.LockFile == "" {
		cfg.LockFile = filepath.Join(getConfigDir(), "plevy.lock")
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyEntriesDefaults(cfg *EntriesConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Memory["first_id"]; !ok {
		cfg.Memory["first_id"] = uint64(entry.FirstID)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = DefaultDBPath
	}
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "./media"
		cfg.Filesystem["create"] = true
	}
}

func applyAdaptersDefaults(cfg *AdaptersConfig) {
	applyFUSEDefaults(&cfg.FUSE)
	applyAPIDefaults(&cfg.API)
	applyNFSDefaults(&cfg.NFS)
}

// applyFUSEDefaults sets FUSE adapter defaults. The one-second cache TTL
// matches what mounts have always used.
func applyFUSEDefaults(cfg *fuse.FUSEConfig) {
	if cfg.MountPoint == "" {
		cfg.MountPoint = DefaultMountPoint
	}
	if cfg.FsName == "" {
		cfg.FsName = "plevy"
	}
	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = time.Second
	}
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
	if cfg.MountRetries == 0 {
		cfg.MountRetries = 3
	}
	if cfg.UnmountTimeout == 0 {
		cfg.UnmountTimeout = 10 * time.Second
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAPIAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultAPIPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
}

func applyNFSDefaults(cfg *nfs.NFSConfig) {
	if cfg.Port == 0 {
		cfg.Port = 12049
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HandleCacheSize == 0 {
		cfg.HandleCacheSize = 65536
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Projection: ProjectionConfig{
			UID:         currentUID(),
			GID:         currentGID(),
			ResolveSize: true,
		},
		Adapters: AdaptersConfig{
			FUSE: fuse.FUSEConfig{Enabled: true},
			API:  api.APIConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

// currentUID and currentGID default node ownership to the mounting user.
// Getuid reports -1 on platforms without Unix ids.
func currentUID() uint32 {
	return uint32(max(os.Getuid(), 0))
}

func currentGID() uint32 {
	return uint32(max(os.Getgid(), 0))
}
