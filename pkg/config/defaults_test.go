package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/etc/xdg")

	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stdout" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Server.LockFile != filepath.Join("/etc/xdg", "plevy", "plevy.lock") {
		t.Errorf("Unexpected lock file default %q", cfg.Server.LockFile)
	}
	if cfg.Server.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Server.Metrics.Port)
	}
	if cfg.Entries.Memory["first_id"] != uint64(2) {
		t.Errorf("Expected memory first_id 2, got %v", cfg.Entries.Memory["first_id"])
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected content type filesystem, got %q", cfg.Content.Type)
	}
	if cfg.Content.S3 == nil {
		t.Error("Expected S3 options map to be initialized")
	}
	if cfg.Adapters.FUSE.MountPoint != DefaultMountPoint {
		t.Errorf("Expected mount point %q, got %q", DefaultMountPoint, cfg.Adapters.FUSE.MountPoint)
	}
	if cfg.Adapters.FUSE.MountRetries != 3 {
		t.Errorf("Expected 3 mount retries, got %d", cfg.Adapters.FUSE.MountRetries)
	}
	if cfg.Adapters.NFS.Port != 12049 {
		t.Errorf("Expected NFS port 12049, got %d", cfg.Adapters.NFS.Port)
	}
	if cfg.Adapters.API.MaxBodyBytes != 1<<20 {
		t.Errorf("Expected 1MiB body limit, got %d", cfg.Adapters.API.MaxBodyBytes)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Logging: LoggingConfig{Level: "error", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: 5 * time.Second, LockFile: "/run/plevy.lock"},
		Entries: EntriesConfig{
			Type:   "memory",
			Memory: map[string]any{"first_id": 100},
		},
	}
	cfg.Adapters.API.Port = 8080
	cfg.Adapters.FUSE.EntryTimeout = 5 * time.Second

	ApplyDefaults(&cfg)

	if cfg.Logging.Level != "ERROR" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Explicit logging settings changed: %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second || cfg.Server.LockFile != "/run/plevy.lock" {
		t.Errorf("Explicit server settings changed: %+v", cfg.Server)
	}
	if cfg.Entries.Type != "memory" || cfg.Entries.Memory["first_id"] != 100 {
		t.Errorf("Explicit entries settings changed: %+v", cfg.Entries)
	}
	if cfg.Adapters.API.Port != 8080 {
		t.Errorf("Explicit API port changed to %d", cfg.Adapters.API.Port)
	}
	if cfg.Adapters.FUSE.EntryTimeout != 5*time.Second {
		t.Errorf("Explicit entry timeout changed to %v", cfg.Adapters.FUSE.EntryTimeout)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
	if !cfg.Adapters.FUSE.Enabled || !cfg.Adapters.API.Enabled {
		t.Error("Expected FUSE and API enabled by default")
	}
	if !cfg.Projection.ResolveSize {
		t.Error("Expected resolve_size enabled by default")
	}
}
