package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/watermark"
)

// Store implements watermark.Store on BadgerDB, for deployments where the
// cursor should live on local disk beside the watcher instead of inside the
// source database.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// New opens a BadgerDB-backed watermark store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	// The store holds one tiny record per processor; Badger's defaults are
	// sized for bulk workloads, so clamp the memtable down. The value
	// threshold must shrink with it: Badger rejects a threshold larger than
	// the max batch size derived from the memtable.
	opts = opts.
		WithMemTableSize(1 << 20).
		WithValueThreshold(1024).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger watermark store: %w", err)
	}
	return &Store{db: db}, nil
}

func key(processor string) []byte {
	return []byte("watermark/" + processor)
}

// Load returns the watermark for the processor, if one was ever saved.
func (s *Store) Load(ctx context.Context, processor string) (watermark.Watermark, bool, error) {
	var wm watermark.Watermark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(processor))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &wm)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return watermark.Watermark{}, false, nil
	}
	if err != nil {
		return watermark.Watermark{}, false, fmt.Errorf("failed to load watermark for %q: %w", processor, err)
	}
	return wm, true, nil
}

// Save upserts the watermark for the processor.
func (s *Store) Save(ctx context.Context, processor, timestamp, id string) error {
	wm := watermark.Watermark{
		Processor: processor,
		Timestamp: timestamp,
		ID:        id,
		UpdatedAt: time.Now().UTC(),
	}
	val, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("failed to encode watermark: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(processor), val)
	})
	if err != nil {
		return fmt.Errorf("failed to save watermark for %q: %w", processor, err)
	}
	return nil
}

// Close flushes and closes the underlying BadgerDB.
func (s *Store) Close() error {
	return s.db.Close()
}
