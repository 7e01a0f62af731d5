package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "unknown content type",
			mutate:  func(c *Config) { c.Content.Type = "ftp" },
			wantErr: "Content.Type",
		},
		{
			name: "no adapters",
			mutate: func(c *Config) {
				c.Adapters.FUSE.Enabled = false
				c.Adapters.API.Enabled = false
			},
			wantErr: "at least one adapter",
		},
		{
			name:    "fuse without mount point",
			mutate:  func(c *Config) { c.Adapters.FUSE.MountPoint = "" },
			wantErr: "MountPoint",
		},
		{
			name:   "disabled fuse without mount point",
			mutate: func(c *Config) { c.Adapters.FUSE.Enabled = false; c.Adapters.FUSE.MountPoint = "" },
		},
		{
			name: "api and nfs on the same port",
			mutate: func(c *Config) {
				c.Adapters.NFS.Enabled = true
				c.Adapters.NFS.Port = c.Adapters.API.Port
			},
			wantErr: "already used by adapters.api",
		},
		{
			name: "metrics on the api port",
			mutate: func(c *Config) {
				c.Server.Metrics.Enabled = true
				c.Server.Metrics.Port = c.Adapters.API.Port
			},
			wantErr: "server.metrics",
		},
		{
			name: "same port but nfs disabled",
			mutate: func(c *Config) {
				c.Adapters.NFS.Port = c.Adapters.API.Port
			},
		},
		{
			name: "memory first id reserved",
			mutate: func(c *Config) {
				c.Entries.Type = "memory"
				c.Entries.Memory["first_id"] = 1
			},
			wantErr: "first_id",
		},
		{
			name: "badger first id reserved",
			mutate: func(c *Config) {
				c.Entries.Badger["first_id"] = "1"
			},
			wantErr: "entries.badger.first_id",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Content.Type = "s3" },
			wantErr: "content.s3.bucket",
		},
		{
			name:    "invalid plex url",
			mutate:  func(c *Config) { c.Integrations.PlexURL = "not a url" },
			wantErr: "PlexURL",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
