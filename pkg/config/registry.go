package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/registry"
)

// InitializeRegistry creates a fully configured Registry from the provided
// configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the entry store from cfg.Entries
//  2. Creates the content source from cfg.Content
//  3. Builds the projection filesystem over both
//
// If a later step fails, resources created by earlier steps are closed.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	m := config.InitializeMetrics(cfg)
//	reg, err := config.InitializeRegistry(ctx, cfg, m)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
func InitializeRegistry(ctx context.Context, cfg *Config, m *MetricsResult) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	logger.Debug("Initializing registry from configuration")

	// Step 1: Entry store
	entries, err := CreateEntryStore(ctx, &cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry store: %w", err)
	}
	logger.Debug("Entry store ready: type=%s", cfg.Entries.Type)

	// Step 2: Content source
	source, err := CreateContentSource(ctx, &cfg.Content, m.S3)
	if err != nil {
		return nil, closeAll(fmt.Errorf("failed to create content source: %w", err), entries.Close)
	}
	logger.Debug("Content source ready: type=%s", cfg.Content.Type)

	// Step 3: Projection
	fs, err := projection.New(entries, source, projection.Config{
		UID:         cfg.Projection.UID,
		GID:         cfg.Projection.GID,
		ResolveSize: cfg.Projection.ResolveSize,
	}, projection.WithMetrics(m.Projection))
	if err != nil {
		return nil, closeAll(fmt.Errorf("failed to build projection: %w", err), source.Close, entries.Close)
	}

	reg, err := registry.New(entries, source, fs)
	if err != nil {
		return nil, closeAll(fmt.Errorf("failed to create registry: %w", err), source.Close, entries.Close)
	}

	return reg, nil
}

// closeAll runs each close function and joins their errors onto cause.
func closeAll(cause error, closers ...func() error) error {
	errs := []error{cause}
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
