package authz

import (
	"fmt"
	"strings"
)

// Role is a user's position in the access hierarchy
type Role string

const (
	RoleStaff      Role = "staff"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// roleRank orders roles from least to most privileged
var roleRank = map[Role]int{
	RoleStaff:      1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// assignable lists the roles each role may grant to other users.
// Roles missing from the table may not manage users at all.
var assignable = map[Role][]Role{
	RoleAdmin:      {RoleStaff, RoleManager, RoleAdmin},
	RoleSuperAdmin: {RoleStaff, RoleManager, RoleAdmin, RoleSuperAdmin},
}

// AllRoles returns every role ordered by rank
func AllRoles() []Role {
	return []Role{RoleStaff, RoleManager, RoleAdmin, RoleSuperAdmin}
}

// ParseRole converts a stored or submitted value into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the four known roles
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the role's position in the hierarchy, 0 for unknown roles
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r is at or above other in the hierarchy
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

// IsAdmin reports whether r carries administrative rights (admin or super_admin)
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

func (r Role) String() string {
	return string(r)
}

// AssignableRoles returns the roles actorRole may grant, ordered by rank.
// The returned slice is a copy and may be modified by the caller.
func AssignableRoles(actorRole Role) []Role {
	roles := assignable[actorRole]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// CanAssign reports whether actorRole may set another user's role to targetRole
func CanAssign(actorRole, targetRole Role) bool {
	for _, r := range assignable[actorRole] {
		if r == targetRole {
			return true
		}
	}
	return false
}
