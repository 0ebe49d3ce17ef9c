package mapping

import (
	"github.com/chris/community-lending/pkg/api"
	"github.com/chris/community-lending/pkg/models"
)

// ToApiItem converts a domain Item model to an API Item model.
func ToApiItem(item *models.Item) *api.Item {
	categories := item.Categories
	if categories == nil {
		categories = []string{}
	}
	return &api.Item{
		Id:               item.Id,
		OwnerId:          item.OwnerId,
		HolderId:         item.HolderId,
		Title:            item.Title,
		Description:      item.Description,
		Categories:       categories,
		Status:           api.ItemStatus(item.Status),
		Location:         ToApiLocation(item.Location),
		OpenTransactions: item.OpenTransactions,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
}

// ToApiItems converts a slice of domain items.
func ToApiItems(items []models.Item) []*api.Item {
	out := make([]*api.Item, len(items))
	for i := range items {
		out[i] = ToApiItem(&items[i])
	}
	return out
}

// ToDomainNewItem converts the body of a create request to item fields.
func ToDomainNewItem(newItem *api.NewItem) models.ItemFields {
	fields := models.ItemFields{
		Title:       &newItem.Title,
		Description: newItem.Description,
		Categories:  newItem.Categories,
	}
	if newItem.Status != nil {
		status := models.ItemStatus(*newItem.Status)
		fields.Status = &status
	}
	return fields
}

// ToDomainItemPatch converts the body of a patch request to item fields.
func ToDomainItemPatch(patch *api.ItemPatch) models.ItemFields {
	fields := models.ItemFields{
		Title:       patch.Title,
		Description: patch.Description,
	}
	if patch.Categories != nil {
		fields.Categories = *patch.Categories
		if fields.Categories == nil {
			fields.Categories = []string{}
		}
	}
	if patch.Status != nil {
		status := models.ItemStatus(*patch.Status)
		fields.Status = &status
	}
	return fields
}

// ToDomainItemFilter converts nearby query parameters to a store filter.
func ToDomainItemFilter(params *api.NearbyItemsParams) models.ItemFilter {
	var filter models.ItemFilter
	if params.Category != nil {
		filter.Categories = *params.Category
	}
	if params.Status != nil {
		for _, s := range *params.Status {
			filter.Statuses = append(filter.Statuses, models.ItemStatus(s))
		}
	}
	return filter
}

// ToDomainPage converts optional limit and offset parameters to a Page.
func ToDomainPage(limit, offset *int32) models.Page {
	var page models.Page
	if limit != nil {
		page.Limit = int(*limit)
	}
	if offset != nil {
		page.Offset = int(*offset)
	}
	return page.Normalize()
}

// ToDomainUserItemsFilter converts user listing parameters to a filter.
func ToDomainUserItemsFilter(params *api.ListUserItemsParams) models.ItemFilter {
	return ToDomainItemFilter(&api.NearbyItemsParams{Category: params.Category, Status: params.Status})
}

// ToApiLocation converts a domain Location to an API Location.
func ToApiLocation(loc models.Location) api.Location {
	return api.Location{Lat: loc.Lat, Lng: loc.Lng}
}

// ToDomainLocation converts an API Location to a domain Location.
func ToDomainLocation(loc *api.Location) *models.Location {
	if loc == nil {
		return nil
	}
	return &models.Location{Lat: loc.Lat, Lng: loc.Lng}
}

// ToApiUser converts a domain User model to an API User model.
// Email is only exposed to the user itself.
func ToApiUser(user *models.User, self bool) *api.User {
	out := &api.User{
		Id:             user.Id,
		Name:           user.Name,
		Role:           string(user.Role),
		ExchangePoints: user.ExchangePoints,
		CreatedAt:      user.CreatedAt,
	}
	if self {
		out.Email = user.Email
	}
	if user.Location != nil {
		loc := ToApiLocation(*user.Location)
		out.Location = &loc
	}
	return out
}

// ToApiTransaction converts a domain Transaction model to an API Transaction model.
func ToApiTransaction(tx *models.Transaction) *api.Transaction {
	return &api.Transaction{
		Id:          tx.Id,
		ItemId:      tx.ItemId,
		RequestorId: tx.RequestorId,
		Status:      api.TransactionStatus(tx.Status),
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
	}
}

// ToApiTransactions converts a slice of domain transactions.
func ToApiTransactions(txs []models.Transaction) []*api.Transaction {
	out := make([]*api.Transaction, len(txs))
	for i := range txs {
		out[i] = ToApiTransaction(&txs[i])
	}
	return out
}

// ToApiCategoryCounts converts counter rows to API category counts.
func ToApiCategoryCounts(counters []models.CategoryCounter) []api.CategoryCount {
	out := make([]api.CategoryCount, len(counters))
	for i, c := range counters {
		out[i] = api.CategoryCount{Category: c.Category, Count: c.Count, LastUpdated: c.LastUpdated}
	}
	return out
}
