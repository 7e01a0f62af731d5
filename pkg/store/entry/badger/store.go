// Package badger implements a persistent entry store on BadgerDB.
//
// Records are stored under ordered binary keys (see keys.go) and encoded with
// CBOR (see serialization.go). Identifiers are allocated from a
// badger.Sequence, which leases ranges of numbers so allocation does not need
// a write transaction per entry. A lease lost in a crash leaves a gap but
// never causes reuse.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/plevy/internal/logger"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// BadgerEntryStoreConfig configures a BadgerEntryStore.
type BadgerEntryStoreConfig struct {
	// DBPath is the directory holding the BadgerDB files. Ignored when
	// InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// FirstID is the first identifier handed out by a fresh database.
	// Zero means entry.FirstID. Once a database is initialized its first ID
	// is persisted and a different configured value is ignored.
	FirstID uint64 `mapstructure:"first_id"`

	// SequenceBandwidth is how many identifiers are leased per sequence
	// refill (default: 100).
	SequenceBandwidth uint64 `mapstructure:"sequence_bandwidth"`

	// InMemory runs BadgerDB without touching disk.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every write before Add returns.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`
}

func (c *BadgerEntryStoreConfig) applyDefaults() {
	if c.FirstID == 0 {
		c.FirstID = uint64(entry.FirstID)
	}
	if c.SequenceBandwidth == 0 {
		c.SequenceBandwidth = 100
	}
	if c.BlockCacheSizeMB == 0 {
		c.BlockCacheSizeMB = 64
	}
	if c.IndexCacheSizeMB == 0 {
		c.IndexCacheSizeMB = 32
	}
}

// BadgerEntryStore is an entry.Store backed by BadgerDB.
//
// Thread Safety: safe for concurrent use. BadgerDB provides serializable
// transactions and badger.Sequence is internally synchronized. closeMu only
// fences operations against Close.
type BadgerEntryStore struct {
	db      *badger.DB
	seq     *badger.Sequence
	firstID entry.ID

	closeMu sync.RWMutex
	closed  bool
}

var _ entry.Store = (*BadgerEntryStore)(nil)

// NewBadgerEntryStore opens (or creates) a BadgerDB entry store.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Store configuration
//
// Returns:
//   - *BadgerEntryStore: ready for use
//   - error: if the configuration is invalid or the database cannot be opened
func NewBadgerEntryStore(ctx context.Context, config BadgerEntryStoreConfig) (*BadgerEntryStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := entry.ValidateFirstID(entry.ID(config.FirstID)); err != nil {
		return nil, err
	}
	if !config.InMemory && config.DBPath == "" {
		return nil, fmt.Errorf("badger entry store: db_path is required")
	}

	// ========================================================================
	// Step 1: Open BadgerDB
	// ========================================================================

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.DBPath)
	}
	opts = opts.
		WithLogger(badgerLogger{}).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(config.SyncWrites).
		WithBlockCacheSize(config.BlockCacheSizeMB << 20).
		WithIndexCacheSize(config.IndexCacheSizeMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	// ========================================================================
	// Step 2: Resolve the persisted first ID
	// ========================================================================

	firstID, err := loadOrInitFirstID(db, entry.ID(config.FirstID))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if uint64(firstID) != config.FirstID {
		logger.Warn("Entry store at %s was initialized with first_id=%d, ignoring configured %d",
			config.DBPath, firstID, config.FirstID)
	}

	// ========================================================================
	// Step 3: Lease the ID sequence
	// ========================================================================

	seq, err := db.GetSequence(keySequence, config.SequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &BadgerEntryStore{
		db:      db,
		seq:     seq,
		firstID: firstID,
	}, nil
}

// loadOrInitFirstID returns the first ID stored in db, writing want when the
// database is fresh.
func loadOrInitFirstID(db *badger.DB, want entry.ID) (entry.ID, error) {
	var first entry.ID
	err := db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFirstID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			first = want
			return txn.Set(keyFirstID, encodeUint64(uint64(want)))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeUint64(val)
			if err != nil {
				return err
			}
			first = entry.ID(v)
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to initialize first id: %w", err)
	}
	return first, nil
}

// acquire fences an operation against Close. The returned func must be
// called when the operation finishes.
func (s *BadgerEntryStore) acquire(op string) (func(), error) {
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return nil, &entry.StorageError{Op: op, Err: entry.ErrClosed}
	}
	return s.closeMu.RUnlock, nil
}

func (s *BadgerEntryStore) Add(ctx context.Context, e entry.Entry) (entry.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	release, err := s.acquire("add")
	if err != nil {
		return 0, err
	}
	defer release()

	value, err := encodeEntry(&e)
	if err != nil {
		return 0, &entry.StorageError{Op: "add", Err: err}
	}

	n, err := s.seq.Next()
	if err != nil {
		return 0, &entry.StorageError{Op: "add", Err: fmt.Errorf("failed to allocate id: %w", err)}
	}
	id := s.firstID + entry.ID(n)

	err = s.db.Update(func(txn *badger.Txn) error {
		key := keyEntry(id)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("id %d already allocated", id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return 0, &entry.StorageError{Op: "add", Err: err}
	}

	return id, nil
}

func (s *BadgerEntryStore) Get(ctx context.Context, id entry.ID) (*entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.acquire("get")
	if err != nil {
		return nil, err
	}
	defer release()

	var raw []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEntry(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("entry %d: %w", id, entry.ErrNotFound)
	}
	if err != nil {
		return nil, &entry.StorageError{Op: "get", Err: err}
	}

	e, err := decodeEntry(raw)
	if err != nil {
		return nil, &entry.DecodeError{ID: id, Err: err}
	}
	return e, nil
}

func (s *BadgerEntryStore) Exists(ctx context.Context, id entry.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	release, err := s.acquire("exists")
	if err != nil {
		return false, err
	}
	defer release()

	err = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyEntry(id))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, &entry.StorageError{Op: "exists", Err: err}
	}
}

func (s *BadgerEntryStore) List(ctx context.Context) ([]entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := s.acquire("list")
	if err != nil {
		return nil, err
	}
	defer release()

	var records []entry.Record
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			id, err := parseEntryKey(item.Key())
			if err != nil {
				logger.Warn("Skipping entry record: %v", err)
				continue
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			e, err := decodeEntry(raw)
			if err != nil {
				records = append(records, entry.Record{ID: id, Err: &entry.DecodeError{ID: id, Err: err}})
				continue
			}
			records = append(records, entry.Record{ID: id, Entry: *e})
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &entry.StorageError{Op: "list", Err: err}
	}

	return records, nil
}

// Close releases the unused part of the ID lease and closes the database.
// Calling Close more than once is a no-op.
func (s *BadgerEntryStore) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release id sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close BadgerDB: %w", err))
	}
	return errors.Join(errs...)
}

// badgerLogger routes BadgerDB's own log output through the plevy logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any)   { logger.Error("badger: "+format, v...) }
func (badgerLogger) Warningf(format string, v ...any) { logger.Warn("badger: "+format, v...) }
func (badgerLogger) Infof(format string, v ...any)    { logger.Debug("badger: "+format, v...) }
func (badgerLogger) Debugf(format string, v ...any)   { logger.Debug("badger: "+format, v...) }
