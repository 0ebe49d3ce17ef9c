// Package api defines the HTTP wire types and the routing of the lending API.
package api

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ItemStatus defines model for ItemStatus.
type ItemStatus string

const (
	AVAILABLE    ItemStatus = "AVAILABLE"
	EXCHANGEABLE ItemStatus = "EXCHANGEABLE"
	GIFT         ItemStatus = "GIFT"
	RESERVED     ItemStatus = "RESERVED"
	TRANSFERRED  ItemStatus = "TRANSFERRED"
)

// TransactionStatus defines model for TransactionStatus.
type TransactionStatus string

// Location defines model for Location.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// RegisterUser is the body of POST /v1/users/me.
type RegisterUser struct {
	Name     string               `json:"name" validate:"max=100"`
	Email    *openapi_types.Email `json:"email,omitempty" validate:"omitempty,email"`
	Location *Location            `json:"location,omitempty"`
}

// ExchangePointSelection is the body of PUT /v1/users/me/exchange-points.
type ExchangePointSelection struct {
	ExchangePointIds []string `json:"exchange_point_ids" validate:"max=10,dive,required"`
}

// User defines model for User.
type User struct {
	Id             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Role           string    `json:"role"`
	Location       *Location `json:"location,omitempty"`
	ExchangePoints []string  `json:"exchange_points,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewItem is the body of POST /v1/items.
type NewItem struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=5000"`
	Categories  []string    `json:"categories,omitempty" validate:"max=20,dive,required,max=50"`
	Status      *ItemStatus `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE EXCHANGEABLE GIFT RESERVED TRANSFERRED"`
}

// ItemPatch is the body of PATCH /v1/items/{itemId}. Absent fields are left unchanged.
type ItemPatch struct {
	Title       *string     `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=5000"`
	Categories  *[]string   `json:"categories,omitempty" validate:"omitempty,max=20,dive,required,max=50"`
	Status      *ItemStatus `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE EXCHANGEABLE GIFT RESERVED TRANSFERRED"`
}

// Item defines model for Item.
type Item struct {
	Id               string     `json:"id"`
	OwnerId          string     `json:"owner_id"`
	HolderId         *string    `json:"holder_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Categories       []string   `json:"categories"`
	Status           ItemStatus `json:"status"`
	Location         Location   `json:"location"`
	OpenTransactions int        `json:"open_transactions"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewTransaction is the body of POST /v1/transactions.
type NewTransaction struct {
	ItemId string `json:"item_id" validate:"required"`
}

// Transaction defines model for Transaction.
type Transaction struct {
	Id          string            `json:"id"`
	ItemId      string            `json:"item_id"`
	RequestorId string            `json:"requestor_id"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CategoryCount defines model for CategoryCount.
type CategoryCount struct {
	Category    string    `json:"category"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Message string `json:"message"`
}

// NearbyParams defines parameters for ListNearbyUsers.
type NearbyParams struct {
	Lat      float64 `form:"lat" json:"lat"`
	Lng      float64 `form:"lng" json:"lng"`
	RadiusKm float64 `form:"radius_km" json:"radius_km"`
}

// NearbyItemsParams defines parameters for ListNearbyItems.
type NearbyItemsParams struct {
	Lat      float64       `form:"lat" json:"lat"`
	Lng      float64       `form:"lng" json:"lng"`
	RadiusKm float64       `form:"radius_km" json:"radius_km"`
	Category *[]string     `form:"category,omitempty" json:"category,omitempty"`
	Status   *[]ItemStatus `form:"status,omitempty" json:"status,omitempty"`
}

// ListUserItemsParams defines parameters for ListUserItems.
type ListUserItemsParams struct {
	// Held lists the items the user borrowed instead of the ones it owns.
	Held     *bool         `form:"held,omitempty" json:"held,omitempty"`
	Category *[]string     `form:"category,omitempty" json:"category,omitempty"`
	Status   *[]ItemStatus `form:"status,omitempty" json:"status,omitempty"`
	// Keyword matches the start of the item title.
	Keyword *string `form:"keyword,omitempty" json:"keyword,omitempty"`
	Limit   *int32  `form:"limit,omitempty" json:"limit,omitempty"`
	Offset  *int32  `form:"offset,omitempty" json:"offset,omitempty"`
}

// RecentItemsParams defines parameters for ListRecentItems.
type RecentItemsParams struct {
	Category *[]string `form:"category,omitempty" json:"category,omitempty"`
	Limit    *int32    `form:"limit,omitempty" json:"limit,omitempty"`
	Offset   *int32    `form:"offset,omitempty" json:"offset,omitempty"`
}

// PageParams defines parameters for ListExchangePoints.
type PageParams struct {
	Limit  *int32 `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int32 `form:"offset,omitempty" json:"offset,omitempty"`
}

// LimitParams defines parameters for the category listings.
type LimitParams struct {
	Limit *int32 `form:"limit,omitempty" json:"limit,omitempty"`
}
