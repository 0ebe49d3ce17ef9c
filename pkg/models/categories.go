package models

import (
	"strings"
	"time"
)

// Scope names a family of category counters.
type Scope string

const (
	GlobalScope      Scope = "GLOBAL"
	RecommendedScope Scope = "RECOMMENDED"

	userScopePrefix     = "USER#"
	exchangeScopePrefix = "EXCHANGE#"
)

// UserScope returns the counter scope of a user's own items.
func UserScope(userID string) Scope {
	return Scope(userScopePrefix + userID)
}

// ExchangePointScope returns the counter scope cached for an exchange point.
func ExchangePointScope(exchangePointID string) Scope {
	return Scope(exchangeScopePrefix + exchangePointID)
}

// UserID returns the user id of a user scope and false for any other scope.
func (s Scope) UserID() (string, bool) {
	if strings.HasPrefix(string(s), userScopePrefix) {
		return strings.TrimPrefix(string(s), userScopePrefix), true
	}
	return "", false
}

// CategoryCounter is a single aggregate row. Count is always > 0 when persisted.
type CategoryCounter struct {
	Scope       Scope     `json:"scope" dynamodbav:"scope"`
	Category    string    `json:"category" dynamodbav:"category"`
	Count       int64     `json:"count" dynamodbav:"count"`
	LastUpdated time.Time `json:"last_updated" dynamodbav:"last_updated,unixtime"`
}

// ExchangeCacheEntry records that an item contributed by a user is reachable
// through an exchange point.
type ExchangeCacheEntry struct {
	ExchangePointId string    `json:"exchange_point_id" dynamodbav:"exchange_point_id"`
	ItemId          string    `json:"item_id" dynamodbav:"item_id"`
	ContributorId   string    `json:"contributor_id" dynamodbav:"contributor_id"`
	Categories      []string  `json:"categories,omitempty" dynamodbav:"categories,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// DiffCategories returns the categories present only in before (removed) and
// only in after (added). Duplicates and empty labels are ignored.
func DiffCategories(before, after []string) (removed, added []string) {
	oldSet := make(map[string]struct{}, len(before))
	for _, c := range before {
		if c != "" {
			oldSet[c] = struct{}{}
		}
	}
	newSet := make(map[string]struct{}, len(after))
	for _, c := range after {
		if c == "" {
			continue
		}
		if _, seen := newSet[c]; seen {
			continue
		}
		newSet[c] = struct{}{}
		if _, ok := oldSet[c]; !ok {
			added = append(added, c)
		}
	}
	seen := make(map[string]struct{}, len(before))
	for _, c := range before {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := newSet[c]; !ok {
			removed = append(removed, c)
		}
	}
	return removed, added
}

// NormalizeCategories trims labels and drops empties and duplicates, keeping order.
func NormalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
