// Package room names the broadcast groups of the restaurant floor and
// tracks which connections currently hold them.
//
// Rooms have no lifecycle of their own: a Name is a value computed from a
// tenant and a scope, and a room "exists" only while some connection is a
// member of it in a Registry.
package room

import "strings"

// Name identifies a room. Build names with the constructors in this
// package; never concatenate strings by hand.
type Name string

// Scope is a tenant-wide operational surface.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeAdmin   Scope = "admin"
	ScopeWaiters Scope = "waiters"
	ScopeKitchen Scope = "kitchen"
	ScopeBar     Scope = "bar"
	ScopeHost    Scope = "host"
)

// Valid reports whether s is one of the tenant-wide scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeAdmin, ScopeWaiters, ScopeKitchen, ScopeBar, ScopeHost:
		return true
	}
	return false
}

// Global is the untenanted room used for platform-wide broadcasts.
const Global Name = "global"

// segment escapes the separator so that distinct ids can never produce the
// same Name, e.g. tenant "a:table" + scope vs tenant "a" + table.
var segment = strings.NewReplacer("%", "%25", ":", "%3A")

// Personal is the room keyed by a single user id.
func Personal(userID string) Name {
	return Name("user:" + segment.Replace(userID))
}

// Tenant is the room for scope within one restaurant.
func Tenant(tenantID string, scope Scope) Name {
	return Name("tenant:" + segment.Replace(tenantID) + ":" + string(scope))
}

// Table is the room for one table of one restaurant. Customers viewing a
// bill and staff following a table join it explicitly.
func Table(tenantID, tableID string) Name {
	return Name("tenant:" + segment.Replace(tenantID) + ":table:" + segment.Replace(tableID))
}

func (n Name) String() string { return string(n) }
