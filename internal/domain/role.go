// Package domain holds the dashboard's domain models. The CRM client maps its
// wire payloads into these types; nothing here knows about HTTP or JSON wire
// quirks of the CRM.
package domain

import "strings"

// Role is a CRM staff role.
type Role string

// Roles in ascending order of privilege.
const (
	RoleAgent   Role = "AGENT"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// roleRank orders roles; a higher rank carries more privileges. Unknown
// roles rank 0 and satisfy no requirement.
var roleRank = map[Role]int{
	RoleAgent:   1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// ParseRole normalizes a role string from the CRM or a request body.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRank[r]
	return r, ok
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the position of r in the hierarchy (0 when unknown).
func (r Role) Rank() int {
	return roleRank[r]
}

// AtLeast reports whether r is a known role at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r.Rank() >= min.Rank()
}

// Roles returns all known roles, lowest first.
func Roles() []Role {
	return []Role{RoleAgent, RoleManager, RoleAdmin}
}
