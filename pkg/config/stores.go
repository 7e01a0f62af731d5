package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/store/entry"
	"github.com/marmos91/plevy/pkg/store/entry/badger"
	"github.com/marmos91/plevy/pkg/store/entry/memory"
)

// CreateEntryStore creates an entry store based on configuration.
//
// The Type field selects the implementation; the matching option map is
// decoded into that implementation's config struct.
//
// Supported types:
//   - "memory": Uses pkg/store/entry/memory (ephemeral, lost on restart)
//   - "badger": Uses pkg/store/entry/badger (persistent)
func CreateEntryStore(ctx context.Context, cfg *EntriesConfig) (entry.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return createMemoryEntryStore(cfg.Memory)
	case "badger":
		return createBadgerEntryStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown entry store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createMemoryEntryStore creates an in-memory entry store.
func createMemoryEntryStore(options map[string]any) (entry.Store, error) {
	var storeCfg memory.MemoryEntryStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory entry store config: %w", err)
	}

	store, err := memory.NewMemoryEntryStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory entry store: %w", err)
	}

	logger.Warn("Using the memory entry store: entries are lost on restart")
	return store, nil
}

// createBadgerEntryStore creates a BadgerDB-backed entry store.
func createBadgerEntryStore(ctx context.Context, options map[string]any) (entry.Store, error) {
	var storeCfg badger.BadgerEntryStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger entry store config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger entry store: db_path is required")
	}

	store, err := badger.NewBadgerEntryStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger entry store: %w", err)
	}

	logger.Info("Badger entry store opened: path=%s", storeCfg.DBPath)
	return store, nil
}

// decodeOptions decodes a backend option map into out.
//
// Values from environment variables arrive as strings, so decoding is weak
// and durations may be written as "30s".
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}
