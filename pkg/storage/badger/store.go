package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 5

// Store implements the Storage interface on an embedded Badger database.
// It backs local development and the service-level tests.
type Store struct {
	db        *badger.DB
	batchSize int
	now       func() time.Time
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// New opens a Badger database at path. An empty path opens an in-memory database.
func New(path string, batchSize int) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if batchSize <= 0 {
		batchSize = storage.DefaultCounterBatchSize
	}

	slog.Info("badger database opened", "path", path, "in_memory", path == "")
	return &Store{db: db, batchSize: batchSize, now: time.Now}, nil
}

// Close gracefully closes the database.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		slog.Debug("badger write conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", storage.ErrConditionFailed, err)
}

func getJSON(txn *badger.Txn, key []byte, dest any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return txn.Set(key, data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanKeys calls fn with the unescaped suffix of every key under prefix, in key order.
func scanKeys(txn *badger.Txn, prefix string, fn func(suffix string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		key := string(it.Item().Key())
		if err := fn(unpart(key[len(prefix):])); err != nil {
			return err
		}
	}
	return nil
}

// scanValues calls fn with the raw value of every key under prefix.
func scanValues(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
