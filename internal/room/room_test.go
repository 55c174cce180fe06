package room

import (
	"slices"
	"testing"

	"github.com/christopherjohns/tablecast/internal/identity"
)

func TestNameConstructors(t *testing.T) {
	tests := []struct {
		got  Name
		want string
	}{
		{Personal("u1"), "user:u1"},
		{Tenant("r1", ScopeKitchen), "tenant:r1:kitchen"},
		{Tenant("r1", ScopeAll), "tenant:r1:all"},
		{Table("r1", "T7"), "tenant:r1:table:T7"},
		{Global, "global"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNamesDoNotCollide(t *testing.T) {
	// Crafted ids that would collide under naive concatenation.
	pairs := [][2]Name{
		{Table("r1", "all"), Tenant("r1", ScopeAll)},
		{Tenant("r1:table:T7", ScopeAll), Table("r1", "T7:all")},
		{Tenant("a:b", ScopeBar), Tenant("a", Scope("b:bar"))},
		{Personal("x%3A"), Personal("x:")},
		{Table("r1", "kitchen"), Tenant("r1", ScopeKitchen)},
	}
	for _, p := range pairs {
		if p[0] == p[1] {
			t.Errorf("collision: %q", p[0])
		}
	}
}

func TestScopeValid(t *testing.T) {
	for _, s := range []Scope{ScopeAll, ScopeAdmin, ScopeWaiters, ScopeKitchen, ScopeBar, ScopeHost} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []Scope{"", "table", "patio", "ALL"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestResolvePerRole(t *testing.T) {
	const tenant = "T"
	base := []Name{Personal("u"), Tenant(tenant, ScopeAll)}

	tests := []struct {
		role identity.Role
		want []Name
	}{
		{identity.RoleManager, append(slices.Clone(base), Tenant(tenant, ScopeAdmin), Tenant(tenant, ScopeWaiters))},
		{identity.RoleChef, append(slices.Clone(base), Tenant(tenant, ScopeKitchen), Tenant(tenant, ScopeBar))},
		{identity.RoleWaiter, append(slices.Clone(base), Tenant(tenant, ScopeWaiters))},
		{identity.RoleHost, append(slices.Clone(base), Tenant(tenant, ScopeHost))},
		{identity.RoleBartender, base},
		{identity.RoleCustomer, base},
		{identity.RoleAdmin, base},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := Resolve(identity.Claims{UserID: "u", Role: tt.role, TenantID: tenant})
			if !slices.Equal(sorted(got), sorted(tt.want)) {
				t.Errorf("Resolve(%s) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestResolveCoversEveryRole(t *testing.T) {
	for role := range identity.ValidRoles {
		if _, ok := roleScopes[role]; !ok {
			t.Errorf("role %q has no topology entry", role)
		}
	}
}

func TestResolveNeverJoinsTableRooms(t *testing.T) {
	for role := range identity.ValidRoles {
		for _, n := range Resolve(identity.Claims{UserID: "u", Role: role, TenantID: "r"}) {
			if n == Table("r", "u") {
				t.Errorf("role %s joined a table room at connect", role)
			}
		}
	}
}

func TestResolveUntenanted(t *testing.T) {
	got := Resolve(identity.Claims{UserID: "ops", Role: identity.RoleAdmin})
	if !slices.Equal(got, []Name{Personal("ops")}) {
		t.Errorf("untenanted admin resolved %v", got)
	}
}

func sorted(names []Name) []Name {
	out := slices.Clone(names)
	slices.Sort(out)
	return out
}
