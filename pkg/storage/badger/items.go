package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/dgraph-io/badger/v4"
)

// CreateItem persists a new item together with its owner, holder and geo index keys.
func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, itemKey(item.Id))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("item %s already exists: %w", item.Id, storage.ErrConflict)
		}
		return putItem(txn, nil, item)
	})
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// GetItem retrieves an item by its ID.
func (s *Store) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, itemKey(itemID), &item)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("item with ID %s: %w", itemID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// GetItemsByIDs retrieves the items that exist among ids.
func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error) {
	items := make([]models.Item, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var item models.Item
			err := getJSON(txn, itemKey(id), &item)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get items by IDs: %w", err)
	}
	return items, nil
}

// ListItemsByOwner retrieves every item created by the user.
func (s *Store) ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error) {
	items, err := s.itemsByIndex(itemsByOwnerPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list items by owner: %w", err)
	}
	return items, nil
}

// ListItemsByHolder retrieves every item held by the user but owned by someone else.
func (s *Store) ListItemsByHolder(ctx context.Context, holderID string) ([]models.Item, error) {
	items, err := s.itemsByIndex(itemsByHolderPrefix(holderID))
	if err != nil {
		return nil, fmt.Errorf("failed to list items by holder: %w", err)
	}
	return items, nil
}

// QueryItemsByGeohash walks the geo index from r.Low until the stored geohash passes r.High.
func (s *Store) QueryItemsByGeohash(ctx context.Context, r geo.Range, filter models.ItemFilter) ([]models.Item, error) {
	var items []models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := geoRangeIDs(txn, itemByGeoPrefix, r)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var item models.Item
			if err := getJSON(txn, itemKey(id), &item); err != nil {
				return fmt.Errorf("geo index points at item %s: %w", id, err)
			}
			if filter.Matches(&item) {
				items = append(items, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items by geohash: %w", err)
	}
	return items, nil
}

// ListRecentItems scans every item and keeps the newest matches.
func (s *Store) ListRecentItems(ctx context.Context, filter models.ItemFilter, limit int) ([]models.Item, error) {
	var items []models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, itemPrefix, func(val []byte) error {
			var item models.Item
			if err := json.Unmarshal(val, &item); err != nil {
				return err
			}
			if filter.Matches(&item) {
				items = append(items, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent items: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// UpdateItemFields overwrites the caller-editable fields of an item.
func (s *Store) UpdateItemFields(ctx context.Context, item *models.Item) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var stored models.Item
		if err := getJSON(txn, itemKey(item.Id), &stored); err != nil {
			return err
		}
		stored.Title = item.Title
		stored.Description = item.Description
		stored.Categories = item.Categories
		stored.Status = item.Status
		stored.UpdatedAt = item.UpdatedAt
		return setJSON(txn, itemKey(stored.Id), &stored)
	})
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", item.Id, err)
	}
	return nil
}

// SetItemLocation moves the item and re-keys its geo index entry.
func (s *Store) SetItemLocation(ctx context.Context, itemID string, loc models.Location, geohash string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var stored models.Item
		if err := getJSON(txn, itemKey(itemID), &stored); err != nil {
			return err
		}
		old := stored
		stored.Location = loc
		stored.Geohash = geohash
		stored.UpdatedAt = s.now()
		return putItem(txn, &old, &stored)
	})
	if err != nil {
		return fmt.Errorf("failed to set location of item %s: %w", itemID, err)
	}
	return nil
}

// DeleteItem removes an item and its index keys.
func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var stored models.Item
		if err := getJSON(txn, itemKey(itemID), &stored); err != nil {
			return err
		}
		if stored.OpenTransactions > 0 {
			return fmt.Errorf("item %s has %d open transactions: %w", itemID, stored.OpenTransactions, storage.ErrConflict)
		}
		if err := deleteItemIndexes(txn, &stored); err != nil {
			return err
		}
		return txn.Delete(itemKey(itemID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", itemID, err)
	}
	return nil
}

func (s *Store) itemsByIndex(prefix string) ([]models.Item, error) {
	var items []models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, prefix, func(id string) error {
			var item models.Item
			if err := getJSON(txn, itemKey(id), &item); err != nil {
				return fmt.Errorf("index points at item %s: %w", id, err)
			}
			items = append(items, item)
			return nil
		})
	})
	return items, err
}

// putItem writes item and moves its index keys away from old, which may be nil.
func putItem(txn *badger.Txn, old, item *models.Item) error {
	if old != nil {
		if err := deleteItemIndexes(txn, old); err != nil {
			return err
		}
	}
	if err := setJSON(txn, itemKey(item.Id), item); err != nil {
		return err
	}
	if err := txn.Set(itemByOwnerKey(item.OwnerId, item.Id), nil); err != nil {
		return err
	}
	if item.HolderId != nil && *item.HolderId != item.OwnerId {
		if err := txn.Set(itemByHolderKey(*item.HolderId, item.Id), nil); err != nil {
			return err
		}
	}
	if item.Geohash != "" {
		if err := txn.Set(itemByGeoKey(item.Geohash, item.Id), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteItemIndexes(txn *badger.Txn, item *models.Item) error {
	if err := txn.Delete(itemByOwnerKey(item.OwnerId, item.Id)); err != nil {
		return err
	}
	if item.HolderId != nil {
		if err := txn.Delete(itemByHolderKey(*item.HolderId, item.Id)); err != nil {
			return err
		}
	}
	if item.Geohash != "" {
		if err := txn.Delete(itemByGeoKey(item.Geohash, item.Id)); err != nil {
			return err
		}
	}
	return nil
}

// geoRangeIDs returns the ids indexed under prefix whose geohash lies in r.
func geoRangeIDs(txn *badger.Txn, prefix string, r geo.Range) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek([]byte(prefix + r.Low)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		rest := string(it.Item().Key())[len(prefix):]
		sep := strings.IndexByte(rest, ':')
		if sep < 0 {
			continue
		}
		hash, id := rest[:sep], unpart(rest[sep+1:])
		if hash > r.High {
			break
		}
		if r.Contains(hash) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
