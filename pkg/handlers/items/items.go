package items

import (
	"context"
	"net/http"

	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/handlers/respond"
	"github.com/chris/community-lending/pkg/items"
	"github.com/chris/community-lending/pkg/mapping"
	"github.com/chris/community-lending/pkg/models"
)

// ItemService owns item writes and the item queries.
type ItemService interface {
	Create(ctx context.Context, ownerID string, fields models.ItemFields) (*models.Item, error)
	Get(ctx context.Context, itemID string) (*models.Item, error)
	Update(ctx context.Context, itemID, actorID string, fields models.ItemFields) (*models.Item, error)
	Delete(ctx context.Context, itemID, actorID string) error
	ListOwned(ctx context.Context, ownerID string, opts items.ListOptions) ([]models.Item, error)
	ListHeld(ctx context.Context, holderID string, opts items.ListOptions) ([]models.Item, error)
	Recent(ctx context.Context, categories []string, page models.Page) ([]models.Item, error)
	ItemsByRadius(ctx context.Context, center models.Location, radiusKm float64, filter models.ItemFilter) ([]models.Item, error)
}

// ExchangePointItems lists the items reachable through an exchange point.
type ExchangePointItems interface {
	ItemsAt(ctx context.Context, exchangePointID string) ([]models.Item, error)
}

// ItemsHandler holds the dependencies for item-related handlers.
type ItemsHandler struct {
	Service        ItemService
	ExchangePoints ExchangePointItems
}

// NewItemsHandler creates a new ItemsHandler.
func NewItemsHandler(service ItemService, exchangePoints ExchangePointItems) *ItemsHandler {
	return &ItemsHandler{Service: service, ExchangePoints: exchangePoints}
}

// CreateItem lists a new item owned by the caller.
func (h *ItemsHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.NewItem
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}

	item, err := h.Service.Create(r.Context(), userID, mapping.ToDomainNewItem(&body))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, mapping.ToApiItem(item))
}

// GetItem handles the logic for retrieving an item by its ID.
func (h *ItemsHandler) GetItem(w http.ResponseWriter, r *http.Request, itemId string) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	item, err := h.Service.Get(r.Context(), itemId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItem(item))
}

// UpdateItem applies a partial update to an item owned by the caller.
func (h *ItemsHandler) UpdateItem(w http.ResponseWriter, r *http.Request, itemId string) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.ItemPatch
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, r, err)
		return
	}

	item, err := h.Service.Update(r.Context(), itemId, userID, mapping.ToDomainItemPatch(&body))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItem(item))
}

// DeleteItem removes an item owned by the caller.
func (h *ItemsHandler) DeleteItem(w http.ResponseWriter, r *http.Request, itemId string) {
	userID, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), itemId, userID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNearbyItems returns the items within a radius that match the filters.
func (h *ItemsHandler) ListNearbyItems(w http.ResponseWriter, r *http.Request, params api.NearbyItemsParams) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	center := models.Location{Lat: params.Lat, Lng: params.Lng}
	found, err := h.Service.ItemsByRadius(r.Context(), center, params.RadiusKm, mapping.ToDomainItemFilter(&params))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItems(found))
}

// ListUserItems lists a page of the items a user owns, or with held=true the
// ones they borrowed.
func (h *ItemsHandler) ListUserItems(w http.ResponseWriter, r *http.Request, userId string, params api.ListUserItemsParams) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	opts := items.ListOptions{
		Filter: mapping.ToDomainUserItemsFilter(&params),
		Page:   mapping.ToDomainPage(params.Limit, params.Offset),
	}
	if params.Keyword != nil {
		opts.Keyword = *params.Keyword
	}

	var (
		found []models.Item
		err   error
	)
	if params.Held != nil && *params.Held {
		found, err = h.Service.ListHeld(r.Context(), userId, opts)
	} else {
		found, err = h.Service.ListOwned(r.Context(), userId, opts)
	}
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItems(found))
}

// ListRecentItems returns the newest items, optionally within categories.
func (h *ItemsHandler) ListRecentItems(w http.ResponseWriter, r *http.Request, params api.RecentItemsParams) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	var categories []string
	if params.Category != nil {
		categories = *params.Category
	}
	found, err := h.Service.Recent(r.Context(), categories, mapping.ToDomainPage(params.Limit, params.Offset))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItems(found))
}

// ListExchangePointItems lists the items cached at an exchange point.
func (h *ItemsHandler) ListExchangePointItems(w http.ResponseWriter, r *http.Request, userId string) {
	if _, ok := respond.Caller(w, r); !ok {
		return
	}
	found, err := h.ExchangePoints.ItemsAt(r.Context(), userId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiItems(found))
}
