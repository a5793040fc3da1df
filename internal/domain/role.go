package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Role is an authorization role granted to a user.
type Role string

const (
	RoleUser      Role = "ROLE_USER"
	RoleAdmin     Role = "ROLE_ADMIN"
	RoleModerator Role = "ROLE_MODERATOR"
)

// AllRoles lists every known role in a stable order.
var AllRoles = []Role{RoleUser, RoleAdmin, RoleModerator}

// DefaultRole is assigned to every newly registered user.
const DefaultRole = RoleUser

// ParseRole converts a role name into a Role.
// Both the canonical form ("ROLE_ADMIN") and the short form ("ADMIN") are accepted.
func ParseRole(name string) (Role, error) {
	for _, r := range AllRoles {
		if name == string(r) || "ROLE_"+name == string(r) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", name)
}

// RoleSet is a set of roles. The zero value is an empty set ready for reads;
// use NewRoleSet before calling Add.
type RoleSet map[Role]struct{}

// NewRoleSet creates a set holding the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// ParseRoleSet builds a set from role names, failing on the first unknown name.
func ParseRoleSet(names []string) (RoleSet, error) {
	s := make(RoleSet, len(names))
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		s[r] = struct{}{}
	}
	return s, nil
}

// Add inserts a role into the set.
func (s RoleSet) Add(r Role) {
	s[r] = struct{}{}
}

// Has reports whether the set contains r.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether the set contains at least one of roles.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the role names sorted. Never nil.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s RoleSet) Clone() RoleSet {
	c := make(RoleSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted list of names.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of role names. null decodes to an empty set.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseRoleSet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
