package command

import "fmt"

// Role is the privilege level of a caller. A command runs only for
// callers whose role is at least the definition's minimal role.
type Role string

const (
	RoleViewer  Role = "viewer"
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer:  0,
	RoleUser:    1,
	RoleManager: 2,
	RoleOwner:   3,
}

// ParseRole validates a role name from a definition document.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AtLeast reports whether r grants the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}
