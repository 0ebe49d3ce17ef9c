package storage

import (
	"context"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
)

// MaxItemsPerRead bounds a single multi-get request.
const MaxItemsPerRead = 30

// ItemReader defines the interface for reading items.
type ItemReader interface {
	// GetItem retrieves an item by its ID.
	GetItem(ctx context.Context, itemID string) (*models.Item, error)

	// GetItemsByIDs retrieves the items that exist among ids. Missing ids are skipped.
	GetItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error)

	// ListItemsByOwner retrieves every item created by the user.
	ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)

	// ListItemsByHolder retrieves every item physically held by the user but owned by someone else.
	ListItemsByHolder(ctx context.Context, holderID string) ([]models.Item, error)

	// QueryItemsByGeohash returns items whose geohash falls in the inclusive range, ordered by geohash.
	QueryItemsByGeohash(ctx context.Context, r geo.Range, filter models.ItemFilter) ([]models.Item, error)

	// ListRecentItems returns up to limit items matching filter, newest first.
	ListRecentItems(ctx context.Context, filter models.ItemFilter, limit int) ([]models.Item, error)
}

// ItemWriter defines the interface for mutating items.
// Open transaction counts are never written through this interface.
type ItemWriter interface {
	// CreateItem persists a new item. It fails with ErrConflict if the ID exists.
	CreateItem(ctx context.Context, item *models.Item) error

	// UpdateItemFields overwrites title, description, categories and status.
	UpdateItemFields(ctx context.Context, item *models.Item) error

	// SetItemLocation moves the item to loc.
	SetItemLocation(ctx context.Context, itemID string, loc models.Location, geohash string) error

	// DeleteItem removes an item. It fails with ErrConflict while transactions are open.
	DeleteItem(ctx context.Context, itemID string) error
}

// ItemStore combines the reader and writer interfaces.
type ItemStore interface {
	ItemReader
	ItemWriter
}
