package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

// CounterBatch commits counter mutations as read-modify-write inside Badger
// transactions; Badger's conflict detection makes each chunk atomic.
type CounterBatch struct {
	storage.CounterOps
	store *Store
}

var _ storage.CounterBatch = (*CounterBatch)(nil)

// NewCounterBatch starts an empty batch.
func (s *Store) NewCounterBatch() storage.CounterBatch {
	return &CounterBatch{store: s}
}

// Commit applies pending operations chunk by chunk.
func (b *CounterBatch) Commit(ctx context.Context) error {
	ops := b.Ops()
	committed := 0
	for _, chunk := range storage.ChunkOps(ops, b.store.batchSize) {
		err := b.store.update(ctx, func(txn *badger.Txn) error {
			for _, op := range chunk {
				if err := b.store.applyCounterOp(txn, op); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if committed > 0 {
				return &storage.PartialBatchError{Committed: committed, Total: len(ops), Err: err}
			}
			return fmt.Errorf("failed to commit counter batch: %w", err)
		}
		committed += len(chunk)
	}
	b.Reset()
	return nil
}

func (s *Store) applyCounterOp(txn *badger.Txn, op storage.CounterOp) error {
	key := counterKey(op.Scope, op.Category)

	next := op.Value
	if !op.Overwrite {
		var current models.CategoryCounter
		err := getJSON(txn, key, &current)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		next = current.Count + op.Delta
	}

	if next <= 0 {
		return txn.Delete(key)
	}
	return setJSON(txn, key, &models.CategoryCounter{
		Scope:       op.Scope,
		Category:    op.Category,
		Count:       next,
		LastUpdated: s.now(),
	})
}

// GetCounter retrieves a single counter row.
func (s *Store) GetCounter(ctx context.Context, scope models.Scope, category string) (*models.CategoryCounter, error) {
	var counter models.CategoryCounter
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, counterKey(scope, category), &counter)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("counter %s/%s: %w", scope, category, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return &counter, nil
}

// ListCounters retrieves every counter of a scope ordered by category.
func (s *Store) ListCounters(ctx context.Context, scope models.Scope) ([]models.CategoryCounter, error) {
	var counters []models.CategoryCounter
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, counterScopePrefix(scope), func(val []byte) error {
			var c models.CategoryCounter
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			counters = append(counters, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	return counters, nil
}

// TopCounters sorts the scope in memory; scopes are small enough for that.
func (s *Store) TopCounters(ctx context.Context, scope models.Scope, order storage.CounterOrder, limit int32) ([]models.CategoryCounter, error) {
	counters, err := s.ListCounters(ctx, scope)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(counters, func(i, j int) bool {
		if order == storage.OrderByRecency {
			return counters[i].LastUpdated.After(counters[j].LastUpdated)
		}
		return counters[i].Count > counters[j].Count
	})
	if limit > 0 && int(limit) < len(counters) {
		counters = counters[:limit]
	}
	return counters, nil
}
