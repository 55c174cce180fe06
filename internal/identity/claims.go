// Package identity verifies connection credentials and carries the
// resulting claims (user, role, tenant) through the rest of the node.
package identity

import "time"

// Role is the operational role a staff member (or customer) connects as.
type Role string

const (
	RoleManager   Role = "manager"
	RoleChef      Role = "chef"
	RoleWaiter    Role = "waiter"
	RoleHost      Role = "host"
	RoleBartender Role = "bartender"
	RoleCustomer  Role = "customer"
	RoleAdmin     Role = "admin"
)

// ValidRoles is the set of all valid roles.
var ValidRoles = map[Role]bool{
	RoleManager:   true,
	RoleChef:      true,
	RoleWaiter:    true,
	RoleHost:      true,
	RoleBartender: true,
	RoleCustomer:  true,
	RoleAdmin:     true,
}

// Claims are the identity attributes decoded from a credential.
type Claims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	TenantID  string    `json:"restaurantId,omitempty"`
	ExpiresAt time.Time `json:"-"` // zero when the token has no exp
}

// Display returns the identity shown to other staff on events this user
// produced: the email when known, the user id otherwise.
func (c Claims) Display() string {
	if c.Email != "" {
		return c.Email
	}
	return c.UserID
}

// Tenanted reports whether the claims are bound to a restaurant.
func (c Claims) Tenanted() bool {
	return c.TenantID != ""
}
