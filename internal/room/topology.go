package room

import "github.com/christopherjohns/tablecast/internal/identity"

// roleScopes lists the tenant scopes each role joins at connect time, on
// top of the personal and all-staff rooms every connection gets.
var roleScopes = map[identity.Role][]Scope{
	identity.RoleManager:   {ScopeAdmin, ScopeWaiters},
	identity.RoleChef:      {ScopeKitchen, ScopeBar},
	identity.RoleWaiter:    {ScopeWaiters},
	identity.RoleHost:      {ScopeHost},
	identity.RoleBartender: nil,
	identity.RoleCustomer:  nil,
	identity.RoleAdmin:     nil,
}

// Resolve returns the rooms a connection with claims joins at connect
// time. Untenanted claims only get their personal room.
func Resolve(c identity.Claims) []Name {
	names := []Name{Personal(c.UserID)}
	if !c.Tenanted() {
		return names
	}
	names = append(names, Tenant(c.TenantID, ScopeAll))
	for _, s := range roleScopes[c.Role] {
		names = append(names, Tenant(c.TenantID, s))
	}
	return names
}
