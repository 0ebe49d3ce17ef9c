package badger

import (
	"strings"

	"github.com/chris/community-lending/pkg/models"
)

// Primary records and secondary indexes live under disjoint prefixes so a
// prefix scan over records never sees index keys.
const (
	itemPrefix         = "item:"
	itemByOwnerPrefix  = "idx:item:owner:"
	itemByHolderPrefix = "idx:item:holder:"
	itemByGeoPrefix    = "idx:item:geo:"

	userPrefix      = "user:"
	userByGeoPrefix = "idx:user:geo:"

	counterPrefix = "counter:"
	cachePrefix   = "epcache:"

	txPrefix            = "tx:"
	txByItemPrefix      = "idx:tx:item:"
	txByRequestorPrefix = "idx:tx:requestor:"
)

// Key parts are escaped so a ':' inside an id or scope never reads as a separator.
var (
	partEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	partUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

func part(s string) string { return partEscaper.Replace(s) }

func unpart(s string) string { return partUnescaper.Replace(s) }

func itemKey(id string) []byte { return []byte(itemPrefix + part(id)) }

func itemsByOwnerPrefix(ownerID string) string {
	return itemByOwnerPrefix + part(ownerID) + ":"
}

func itemByOwnerKey(ownerID, itemID string) []byte {
	return []byte(itemsByOwnerPrefix(ownerID) + part(itemID))
}

func itemsByHolderPrefix(holderID string) string {
	return itemByHolderPrefix + part(holderID) + ":"
}

func itemByHolderKey(holderID, itemID string) []byte {
	return []byte(itemsByHolderPrefix(holderID) + part(itemID))
}

// itemByGeoKey sorts by geohash because stored geohashes have a fixed length.
func itemByGeoKey(geohash, itemID string) []byte {
	return []byte(itemByGeoPrefix + part(geohash) + ":" + part(itemID))
}

func userKey(id string) []byte { return []byte(userPrefix + part(id)) }

func userByGeoKey(geohash, userID string) []byte {
	return []byte(userByGeoPrefix + part(geohash) + ":" + part(userID))
}

func counterScopePrefix(scope models.Scope) string {
	return counterPrefix + part(string(scope)) + ":"
}

func counterKey(scope models.Scope, category string) []byte {
	return []byte(counterScopePrefix(scope) + part(category))
}

func cacheScopePrefix(exchangePointID string) string {
	return cachePrefix + part(exchangePointID) + ":"
}

func cacheKey(exchangePointID, itemID string) []byte {
	return []byte(cacheScopePrefix(exchangePointID) + part(itemID))
}

func txKey(id string) []byte { return []byte(txPrefix + part(id)) }

func txsByItemPrefix(itemID string) string {
	return txByItemPrefix + part(itemID) + ":"
}

func txByItemKey(itemID, txID string) []byte {
	return []byte(txsByItemPrefix(itemID) + part(txID))
}

func txsByRequestorPrefix(requestorID string) string {
	return txByRequestorPrefix + part(requestorID) + ":"
}

func txByRequestorKey(requestorID, txID string) []byte {
	return []byte(txsByRequestorPrefix(requestorID) + part(txID))
}
