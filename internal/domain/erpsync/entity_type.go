// Package erpsync holds the sync protocol vocabulary shared by the cloud
// platform and the on-premise ERP connector: cursor pages, delta batches with
// watermarks and continuation tokens, and per-item batch write results.
package erpsync

import "strings"

// EntityType names a synchronized entity collection
type EntityType string

const (
	EntityArticles  EntityType = "articles"
	EntityCustomers EntityType = "customers"
	EntityOrders    EntityType = "orders"
)

// AllEntityTypes lists the synchronized collections
func AllEntityTypes() []EntityType {
	return []EntityType{EntityArticles, EntityCustomers, EntityOrders}
}

// IsValid checks if the entity type is known
func (e EntityType) IsValid() bool {
	switch e {
	case EntityArticles, EntityCustomers, EntityOrders:
		return true
	}
	return false
}

// ParseEntityType parses an entity type case-insensitively
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", InvalidRequest("unknown entity type " + s)
	}
	return e, nil
}
