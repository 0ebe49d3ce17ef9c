package models

import (
	"time"
)

// TransactionStatus defines the possible states of a lending transaction.
type TransactionStatus string

const (
	PENDING     TransactionStatus = "PENDING"
	APPROVED    TransactionStatus = "APPROVED"
	TRANSFERRED TransactionStatus = "TRANSFERRED"
	COMPLETED   TransactionStatus = "COMPLETED"
	CANCELLED   TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition may be applied.
func (s TransactionStatus) IsTerminal() bool {
	return s == COMPLETED || s == CANCELLED
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case PENDING:
		return next == APPROVED || next == CANCELLED
	case APPROVED:
		return next == TRANSFERRED || next == CANCELLED
	case TRANSFERRED:
		return next == COMPLETED || next == CANCELLED
	}
	return false
}

// Transaction represents a request by RequestorID to borrow or receive ItemID.
// It includes dynamodbav tags for marshalling.
type Transaction struct {
	Id          string            `json:"id" dynamodbav:"id"`
	ItemId      string            `json:"item_id" dynamodbav:"item_id"`
	RequestorId string            `json:"requestor_id" dynamodbav:"requestor_id"`
	Status      TransactionStatus `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time         `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" dynamodbav:"updated_at"`
}

// ItemStatus describes how an item is currently offered.
type ItemStatus string

const (
	AVAILABLE        ItemStatus = "AVAILABLE"
	EXCHANGEABLE     ItemStatus = "EXCHANGEABLE"
	GIFT             ItemStatus = "GIFT"
	RESERVED         ItemStatus = "RESERVED"
	ITEM_TRANSFERRED ItemStatus = "TRANSFERRED"
)

// ValidItemStatus reports whether s is one of the known item statuses.
func ValidItemStatus(s ItemStatus) bool {
	switch s {
	case AVAILABLE, EXCHANGEABLE, GIFT, RESERVED, ITEM_TRANSFERRED:
		return true
	}
	return false
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat" dynamodbav:"lat"`
	Lng float64 `json:"lng" dynamodbav:"lng"`
}

// ItemGeoPartition is the constant partition key of the items geo index.
const ItemGeoPartition = "ITEM"

// Item is a physical object listed by its owner.
// HolderId is nil while the owner still has the item.
type Item struct {
	Id               string     `json:"id" dynamodbav:"id"`
	OwnerId          string     `json:"owner_id" dynamodbav:"owner_id"`
	HolderId         *string    `json:"holder_id,omitempty" dynamodbav:"holder_id,omitempty"`
	Title            string     `json:"title" dynamodbav:"title"`
	Description      string     `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Categories       []string   `json:"categories,omitempty" dynamodbav:"categories,omitempty"`
	Status           ItemStatus `json:"status" dynamodbav:"status"`
	Location         Location   `json:"location" dynamodbav:"location"`
	Geohash          string     `json:"geohash" dynamodbav:"geohash"`
	GeoPK            string     `json:"-" dynamodbav:"geo_pk"`
	OpenTransactions int        `json:"open_transactions" dynamodbav:"open_transactions"`
	CreatedAt        time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

// CurrentHolder returns the id of whoever physically has the item.
func (i *Item) CurrentHolder() string {
	if i.HolderId != nil {
		return *i.HolderId
	}
	return i.OwnerId
}

// IsHeldBy reports whether userID is the current physical custodian.
func (i *Item) IsHeldBy(userID string) bool {
	return i.CurrentHolder() == userID
}

// ItemFields carries the mutable, caller-supplied fields of an item.
// Nil pointers leave the stored value unchanged on update.
type ItemFields struct {
	Title       *string
	Description *string
	Categories  []string
	Status      *ItemStatus
}

// ItemFilter narrows geo queries. Empty slices match everything.
type ItemFilter struct {
	Categories []string
	Statuses   []ItemStatus
}

// Matches applies the filter to an item in memory.
func (f ItemFilter) Matches(item *Item) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if item.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Categories) > 0 {
		for _, want := range f.Categories {
			for _, have := range item.Categories {
				if want == have {
					return true
				}
			}
		}
		return false
	}
	return true
}

// ItemHandover is the item mutation applied when a transaction completes.
type ItemHandover struct {
	HolderId *string
	Location Location
	Geohash  string
}
