// Package items orchestrates item writes with the category ledger, the
// exchange point cache and the geo index.
package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/ledger"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/google/uuid"
)

// UserReader resolves owners and requestors.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// ExchangeCache mirrors items into the exchange points their owner nominated.
type ExchangeCache interface {
	AddItem(ctx context.Context, user *models.User, item *models.Item) error
	UpdateItem(ctx context.Context, user *models.User, item *models.Item) error
	RemoveItem(ctx context.Context, user *models.User, item *models.Item) error
}

// Service is the single writer of item state outside transaction completion.
type Service struct {
	store    storage.ItemStore
	users    UserReader
	ledger   *ledger.Ledger
	exchange ExchangeCache
	now      func() time.Time
	newID    func() string
}

// New creates a Service.
func New(store storage.ItemStore, users UserReader, l *ledger.Ledger, exchange ExchangeCache) *Service {
	return &Service{
		store:    store,
		users:    users,
		ledger:   l,
		exchange: exchange,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create lists a new item at the owner's location and accounts for its categories.
func (s *Service) Create(ctx context.Context, ownerID string, fields models.ItemFields) (*models.Item, error) {
	owner, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner: %w", err)
	}
	if owner.Location == nil {
		return nil, fmt.Errorf("owner %s has no location: %w", ownerID, storage.ErrInvalidInput)
	}

	now := s.now().UTC()
	item := &models.Item{
		Id:        s.newID(),
		OwnerId:   ownerID,
		Status:    models.AVAILABLE,
		Location:  *owner.Location,
		Geohash:   geo.Encode(*owner.Location),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyFields(item, fields); err != nil {
		return nil, err
	}

	// Backfill before the item exists so the recount cannot see it.
	if err := s.ledger.EnsureReady(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("failed to initialize category ledger: %w", err)
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}

	if err := s.account(ctx, owner, item.Id, item.Categories, nil, true); err != nil {
		return nil, err
	}
	if err := s.exchange.AddItem(ctx, owner, item); err != nil {
		return nil, err
	}

	slog.Info("item created", "item_id", item.Id, "owner_id", ownerID, "categories", item.Categories)
	return item, nil
}

// Update applies fields to an item owned by actorID. Category changes are
// accounted as removals followed by additions.
func (s *Service) Update(ctx context.Context, itemID, actorID string, fields models.ItemFields) (*models.Item, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerId != actorID {
		return nil, fmt.Errorf("user %s does not own item %s: %w", actorID, itemID, storage.ErrUnauthorized)
	}

	before := item.Categories
	if err := applyFields(item, fields); err != nil {
		return nil, err
	}
	item.UpdatedAt = s.now().UTC()
	removed, added := models.DiffCategories(before, item.Categories)

	var owner *models.User
	if len(removed) > 0 || len(added) > 0 {
		if owner, err = s.users.GetUser(ctx, item.OwnerId); err != nil {
			return nil, fmt.Errorf("failed to resolve owner: %w", err)
		}
		if err := s.ledger.EnsureReady(ctx, owner.Id); err != nil {
			return nil, fmt.Errorf("failed to initialize category ledger: %w", err)
		}
	}

	if err := s.store.UpdateItemFields(ctx, item); err != nil {
		return nil, err
	}
	if owner == nil {
		return item, nil
	}

	if err := s.account(ctx, owner, item.Id, added, removed, false); err != nil {
		return nil, err
	}
	if err := s.exchange.UpdateItem(ctx, owner, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes an item owned by actorID and releases its categories.
func (s *Service) Delete(ctx context.Context, itemID, actorID string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.OwnerId != actorID {
		return fmt.Errorf("user %s does not own item %s: %w", actorID, itemID, storage.ErrUnauthorized)
	}
	if item.OpenTransactions > 0 {
		return fmt.Errorf("item %s has %d open transactions: %w", itemID, item.OpenTransactions, storage.ErrConflict)
	}

	owner, err := s.users.GetUser(ctx, item.OwnerId)
	if err != nil {
		return fmt.Errorf("failed to resolve owner: %w", err)
	}
	if err := s.ledger.EnsureReady(ctx, owner.Id); err != nil {
		return fmt.Errorf("failed to initialize category ledger: %w", err)
	}

	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if err := s.account(ctx, owner, item.Id, nil, item.Categories, false); err != nil {
		return err
	}
	if err := s.exchange.RemoveItem(ctx, owner, item); err != nil {
		return err
	}

	slog.Info("item deleted", "item_id", itemID, "owner_id", actorID)
	return nil
}

// account commits one category change in the global, user and exchange point
// scopes. If the owner's ledger turns out to be uninitialized it is backfilled
// once and the change retried. excludeOnRetry leaves the item out of that
// recount, so the user scope still needs the change; otherwise the recount
// already reflects the stored item and only the other scopes are written.
func (s *Service) account(ctx context.Context, owner *models.User, itemID string, added, removed []string, excludeOnRetry bool) error {
	err := s.commitChange(ctx, owner, added, removed, true)
	if !ledger.IsUninitialized(err) {
		return err
	}

	slog.Warn("category ledger not ready, backfilling", "user_id", owner.Id, "item_id", itemID)
	var exclude []string
	if excludeOnRetry {
		exclude = []string{itemID}
	}
	if err := s.ledger.EnsureReady(ctx, owner.Id, exclude...); err != nil {
		return fmt.Errorf("failed to initialize category ledger: %w", err)
	}
	return s.commitChange(ctx, owner, added, removed, excludeOnRetry)
}

func (s *Service) commitChange(ctx context.Context, owner *models.User, added, removed []string, withUserScope bool) error {
	scopes := []models.Scope{models.GlobalScope}
	if withUserScope {
		scopes = append(scopes, models.UserScope(owner.Id))
	}

	batch := s.ledger.NewBatch()
	for _, scope := range scopes {
		if err := s.ledger.Decrement(ctx, batch, scope, removed, 1); err != nil {
			return err
		}
	}
	for _, scope := range scopes {
		if err := s.ledger.Increment(ctx, batch, scope, added, 1); err != nil {
			return err
		}
	}
	if err := s.ledger.FanOutToExchangePoints(ctx, batch, owner, added, removed); err != nil {
		return err
	}

	if err := batch.Commit(ctx); err != nil {
		var pbe *storage.PartialBatchError
		if errors.As(err, &pbe) {
			slog.Error("category ledger partially updated", "user_id", owner.Id, "committed", pbe.Committed, "total", pbe.Total, "error", pbe.Err)
		}
		return fmt.Errorf("failed to update category counters: %w", err)
	}
	return nil
}

// Get returns a single item.
func (s *Service) Get(ctx context.Context, itemID string) (*models.Item, error) {
	return s.store.GetItem(ctx, itemID)
}

// GetByIDs returns the existing items among ids.
func (s *Service) GetByIDs(ctx context.Context, ids []string) ([]models.Item, error) {
	return s.store.GetItemsByIDs(ctx, ids)
}

// ListOptions narrows and pages the item listings of one user.
type ListOptions struct {
	Filter models.ItemFilter
	// Keyword matches the start of the title, ignoring case.
	Keyword string
	Page    models.Page
}

// ListOwned returns a page of the items a user listed, most recently updated first.
func (s *Service) ListOwned(ctx context.Context, ownerID string, opts ListOptions) ([]models.Item, error) {
	items, err := s.store.ListItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return selectPage(items, opts), nil
}

// ListHeld returns a page of the items a user borrowed from others.
func (s *Service) ListHeld(ctx context.Context, holderID string, opts ListOptions) ([]models.Item, error) {
	items, err := s.store.ListItemsByHolder(ctx, holderID)
	if err != nil {
		return nil, err
	}
	return selectPage(items, opts), nil
}

// Recent returns a page of the newest items of every owner.
func (s *Service) Recent(ctx context.Context, categories []string, page models.Page) ([]models.Item, error) {
	filter := models.ItemFilter{Categories: models.NormalizeCategories(categories)}
	items, err := s.store.ListRecentItems(ctx, filter, page.End())
	if err != nil {
		return nil, err
	}
	return models.Paginate(items, page), nil
}

func selectPage(items []models.Item, opts ListOptions) []models.Item {
	keyword := strings.ToLower(strings.TrimSpace(opts.Keyword))
	matched := make([]models.Item, 0, len(items))
	for i := range items {
		if !opts.Filter.Matches(&items[i]) {
			continue
		}
		if keyword != "" && !strings.HasPrefix(strings.ToLower(items[i].Title), keyword) {
			continue
		}
		matched = append(matched, items[i])
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	return models.Paginate(matched, opts.Page)
}

// Handover computes the item mutation of a completed transaction. The holder is
// cleared when the item returns to its owner, and the item takes the
// requestor's location when one is known.
func Handover(item *models.Item, requestor *models.User) models.ItemHandover {
	handover := models.ItemHandover{Location: item.Location, Geohash: item.Geohash}
	if requestor.Id != item.OwnerId {
		holder := requestor.Id
		handover.HolderId = &holder
	}
	if requestor.Location != nil {
		handover.Location = *requestor.Location
		handover.Geohash = geo.Encode(*requestor.Location)
	}
	return handover
}

// applyFields validates and copies caller-supplied fields onto item.
func applyFields(item *models.Item, fields models.ItemFields) error {
	if fields.Title != nil {
		item.Title = strings.TrimSpace(*fields.Title)
	}
	if item.Title == "" {
		return fmt.Errorf("title is required: %w", storage.ErrInvalidInput)
	}
	if fields.Description != nil {
		item.Description = *fields.Description
	}
	if fields.Categories != nil {
		item.Categories = models.NormalizeCategories(fields.Categories)
	}
	if fields.Status != nil {
		if !models.ValidItemStatus(*fields.Status) {
			return fmt.Errorf("unknown item status %q: %w", *fields.Status, storage.ErrInvalidInput)
		}
		item.Status = *fields.Status
	}
	return nil
}
