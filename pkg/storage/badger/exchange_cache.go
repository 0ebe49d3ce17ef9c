package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

// PutCacheEntries upserts exchange point cache entries in chunks.
func (s *Store) PutCacheEntries(ctx context.Context, entries []models.ExchangeCacheEntry) error {
	for _, chunk := range storage.Chunk(entries, s.batchSize) {
		err := s.update(ctx, func(txn *badger.Txn) error {
			for i := range chunk {
				if err := setJSON(txn, cacheKey(chunk[i].ExchangePointId, chunk[i].ItemId), &chunk[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to put cache entries: %w", err)
		}
	}
	return nil
}

// DeleteCacheEntries removes items from an exchange point's cache.
func (s *Store) DeleteCacheEntries(ctx context.Context, exchangePointID string, itemIDs []string) error {
	for _, chunk := range storage.Chunk(itemIDs, s.batchSize) {
		err := s.update(ctx, func(txn *badger.Txn) error {
			for _, id := range chunk {
				if err := txn.Delete(cacheKey(exchangePointID, id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete cache entries: %w", err)
		}
	}
	return nil
}

// ListCacheEntries retrieves every entry cached for an exchange point.
func (s *Store) ListCacheEntries(ctx context.Context, exchangePointID string) ([]models.ExchangeCacheEntry, error) {
	var entries []models.ExchangeCacheEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, cacheScopePrefix(exchangePointID), func(val []byte) error {
			var e models.ExchangeCacheEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	return entries, nil
}
