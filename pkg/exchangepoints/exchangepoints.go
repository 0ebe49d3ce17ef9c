// Package exchangepoints keeps the denormalized item cache of exchange points.
package exchangepoints

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/community-lending/pkg/ledger"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

// UserReader resolves exchange point ids.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// OwnerItemLister lists the items a user contributes.
type OwnerItemLister interface {
	ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)
	GetItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error)
}

// Service maintains cache entries and the EXCHANGE# counter scopes.
type Service struct {
	users  UserReader
	items  OwnerItemLister
	cache  storage.ExchangeCacheStore
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a Service.
func New(users UserReader, items OwnerItemLister, cache storage.ExchangeCacheStore, l *ledger.Ledger) *Service {
	return &Service{users: users, items: items, cache: cache, ledger: l, now: time.Now}
}

// Validate checks that every id names an exchange point.
func (s *Service) Validate(ctx context.Context, exchangePointIDs []string) error {
	for _, id := range exchangePointIDs {
		user, err := s.users.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("exchange point %s does not exist: %w", id, storage.ErrInvalidInput)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve exchange point %s: %w", id, err)
		}
		if !user.IsExchangePoint() {
			return fmt.Errorf("user %s is not an exchange point: %w", id, storage.ErrInvalidInput)
		}
	}
	return nil
}

// AddItem caches item at every exchange point user nominated.
func (s *Service) AddItem(ctx context.Context, user *models.User, item *models.Item) error {
	if len(user.ExchangePoints) == 0 {
		return nil
	}
	entries := make([]models.ExchangeCacheEntry, 0, len(user.ExchangePoints))
	for _, ep := range user.ExchangePoints {
		entries = append(entries, s.entry(ep, item))
	}
	if err := s.cache.PutCacheEntries(ctx, entries); err != nil {
		return fmt.Errorf("failed to cache item %s: %w", item.Id, err)
	}
	return nil
}

// UpdateItem refreshes the cached categories of item.
func (s *Service) UpdateItem(ctx context.Context, user *models.User, item *models.Item) error {
	return s.AddItem(ctx, user, item)
}

// RemoveItem drops item from every exchange point user nominated.
func (s *Service) RemoveItem(ctx context.Context, user *models.User, item *models.Item) error {
	for _, ep := range user.ExchangePoints {
		if err := s.cache.DeleteCacheEntries(ctx, ep, []string{item.Id}); err != nil {
			return fmt.Errorf("failed to uncache item %s from %s: %w", item.Id, ep, err)
		}
	}
	return nil
}

// Nominate copies all of user's items into the given exchange points and queues
// the matching counter increments in batch.
func (s *Service) Nominate(ctx context.Context, batch storage.CounterBatch, user *models.User, exchangePointIDs []string) error {
	if len(exchangePointIDs) == 0 {
		return nil
	}
	items, err := s.items.ListItemsByOwner(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to list items of user %s: %w", user.Id, err)
	}

	for _, ep := range exchangePointIDs {
		entries := make([]models.ExchangeCacheEntry, 0, len(items))
		for i := range items {
			entries = append(entries, s.entry(ep, &items[i]))
			if err := s.ledger.Increment(ctx, batch, models.ExchangePointScope(ep), items[i].Categories, 1); err != nil {
				return err
			}
		}
		if len(entries) == 0 {
			continue
		}
		if err := s.cache.PutCacheEntries(ctx, entries); err != nil {
			return fmt.Errorf("failed to cache items at %s: %w", ep, err)
		}
	}
	return nil
}

// Unnominate removes all of user's items from the given exchange points and
// queues the matching counter decrements in batch.
func (s *Service) Unnominate(ctx context.Context, batch storage.CounterBatch, user *models.User, exchangePointIDs []string) error {
	if len(exchangePointIDs) == 0 {
		return nil
	}
	items, err := s.items.ListItemsByOwner(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to list items of user %s: %w", user.Id, err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Id)
	}
	for _, ep := range exchangePointIDs {
		for _, item := range items {
			if err := s.ledger.Decrement(ctx, batch, models.ExchangePointScope(ep), item.Categories, 1); err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			continue
		}
		if err := s.cache.DeleteCacheEntries(ctx, ep, ids); err != nil {
			return fmt.Errorf("failed to uncache items at %s: %w", ep, err)
		}
	}
	return nil
}

// ItemsAt returns the items currently cached at an exchange point.
func (s *Service) ItemsAt(ctx context.Context, exchangePointID string) ([]models.Item, error) {
	entries, err := s.cache.ListCacheEntries(ctx, exchangePointID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache of %s: %w", exchangePointID, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ItemId)
	}
	items, err := s.items.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load items at %s: %w", exchangePointID, err)
	}
	return items, nil
}

// CategoriesAt returns the most common categories cached at an exchange point.
func (s *Service) CategoriesAt(ctx context.Context, exchangePointID string, limit int32) ([]models.CategoryCounter, error) {
	return s.ledger.TopByCount(ctx, models.ExchangePointScope(exchangePointID), limit)
}

func (s *Service) entry(exchangePointID string, item *models.Item) models.ExchangeCacheEntry {
	return models.ExchangeCacheEntry{
		ExchangePointId: exchangePointID,
		ItemId:          item.Id,
		ContributorId:   item.OwnerId,
		Categories:      item.Categories,
		UpdatedAt:       s.now(),
	}
}
