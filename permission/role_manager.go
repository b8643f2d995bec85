package permission

import (
	"errors"
	"fmt"
)

// RoleManager answers permission checks for sets of role names. Like the
// Registry it is immutable once built, so it needs no locking.
type RoleManager struct {
	registry *Registry
	roles    map[string]Mask64
}

// NewRoleManager compiles each role's permission list into a mask.
func NewRoleManager(registry *Registry, roles map[string][]string) (*RoleManager, error) {
	if registry == nil {
		return nil, errors.New("permission: nil registry")
	}
	rm := &RoleManager{registry: registry, roles: make(map[string]Mask64, len(roles))}
	for role, perms := range roles {
		if role == "" {
			return nil, errors.New("permission: empty role name")
		}
		var mask Mask64
		for _, perm := range perms {
			bit, ok := registry.Bit(perm)
			if !ok {
				return nil, fmt.Errorf("%w: role %q wants %q", ErrUnknownPermission, role, perm)
			}
			mask.Set(bit)
		}
		rm.roles[role] = mask
	}
	return rm, nil
}

// Mask returns the mask of a single role.
func (rm *RoleManager) Mask(role string) (Mask64, bool) {
	mask, ok := rm.roles[role]
	return mask, ok
}

// MaskFor unions the masks of roles. Unknown roles contribute nothing.
func (rm *RoleManager) MaskFor(roles []string) Mask64 {
	var mask Mask64
	for _, role := range roles {
		mask = mask.Union(rm.roles[role])
	}
	return mask
}

// Allows reports whether any of roles grants perm.
func (rm *RoleManager) Allows(roles []string, perm string) bool {
	bit, ok := rm.registry.Bit(perm)
	return ok && rm.MaskFor(roles).Has(bit)
}

func (rm *RoleManager) Count() int { return len(rm.roles) }
