package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/plevy/pkg/adapter/api"
	"github.com/marmos91/plevy/pkg/adapter/fuse"
	"github.com/marmos91/plevy/pkg/adapter/nfs"
)

// Config represents the complete plevy configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PLEVY_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each entry store and content source defines its own configuration type.
// The Config struct carries one option map per backend (e.g. content.filesystem,
// content.s3) and only the map matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Entries selects and configures the entry store
	Entries EntriesConfig `mapstructure:"entries"`

	// Content selects and configures the content source
	Content ContentConfig `mapstructure:"content"`

	// Projection controls how entries are presented as files
	Projection ProjectionConfig `mapstructure:"projection"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Integrations holds media server endpoints. They are informational only.
	Integrations IntegrationsConfig `mapstructure:"integrations"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// LockFile guards against two instances serving the same mount point
	// or database. Empty disables the lock.
	LockFile string `mapstructure:"lock_file"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port" validate:"min=0,max=65535"`
}

// EntriesConfig specifies the entry store.
type EntriesConfig struct {
	// Type specifies which entry store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// ContentConfig specifies the content source.
type ContentConfig struct {
	// Type specifies which content source implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// ProjectionConfig controls attribute synthesis.
type ProjectionConfig struct {
	// UID and GID own every projected node
	UID uint32 `mapstructure:"uid"`
	GID uint32 `mapstructure:"gid"`

	// ResolveSize asks the content source for each file's size. When false
	// every file reports size 0.
	ResolveSize bool `mapstructure:"resolve_size"`
}

// AdaptersConfig contains all protocol adapter configurations.
// The adapter config types are used directly to avoid duplication.
type AdaptersConfig struct {
	FUSE fuse.FUSEConfig `mapstructure:"fuse"`
	API  api.APIConfig   `mapstructure:"api"`
	NFS  nfs.NFSConfig   `mapstructure:"nfs"`
}

// IntegrationsConfig holds media server endpoints shown by `plevy serve`.
type IntegrationsConfig struct {
	BevyURL   string `mapstructure:"bevy_url" validate:"omitempty,url"`
	PlexURL   string `mapstructure:"plex_url" validate:"omitempty,url"`
	PlexToken string `mapstructure:"plex_token"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyKeys(v, &cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables, boolean defaults
// and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the PLEVY_ prefix and underscores
	// Example: PLEVY_ADAPTERS_FUSE_MOUNT_POINT=/mnt/media
	v.SetEnvPrefix("PLEVY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v)

	// Defaults whose zero value is also a valid explicit setting live in
	// viper rather than ApplyDefaults
	v.SetDefault("projection.resolve_size", true)
	v.SetDefault("projection.uid", currentUID())
	v.SetDefault("projection.gid", currentGID())
	v.SetDefault("adapters.fuse.enabled", true)
	v.SetDefault("adapters.api.enabled", true)
	v.SetDefault("adapters.nfs.enabled", false)
	v.SetDefault("server.metrics.enabled", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/plevy/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// applyLegacyKeys maps the flat keys of early config files onto the
// current schema. Explicit new-style values win.
func applyLegacyKeys(v *viper.Viper, cfg *Config) {
	if mp := v.GetString("mount_point"); mp != "" && cfg.Adapters.FUSE.MountPoint == "" {
		cfg.Adapters.FUSE.MountPoint = mp
	}
	if s := v.GetString("bevy_url"); s != "" && cfg.Integrations.BevyURL == "" {
		cfg.Integrations.BevyURL = s
	}
	if s := v.GetString("plex_url"); s != "" && cfg.Integrations.PlexURL == "" {
		cfg.Integrations.PlexURL = s
	}
	if s := v.GetString("plex_token"); s != "" && cfg.Integrations.PlexToken == "" {
		cfg.Integrations.PlexToken = s
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "plevy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "plevy")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
