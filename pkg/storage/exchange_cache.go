package storage

import (
	"context"

	"github.com/chris/community-lending/pkg/models"
)

// ExchangeCacheStore defines the interface for the denormalized exchange point item cache.
type ExchangeCacheStore interface {
	// PutCacheEntries upserts entries.
	PutCacheEntries(ctx context.Context, entries []models.ExchangeCacheEntry) error

	// DeleteCacheEntries removes the given items from an exchange point's cache.
	DeleteCacheEntries(ctx context.Context, exchangePointID string, itemIDs []string) error

	// ListCacheEntries retrieves every entry cached for an exchange point.
	ListCacheEntries(ctx context.Context, exchangePointID string) ([]models.ExchangeCacheEntry, error)
}
