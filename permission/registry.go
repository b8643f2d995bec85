package permission

import (
	"errors"
	"fmt"
)

// Root is the wildcard permission name. A role holding it passes every check.
const Root = "*"

var (
	ErrEmptyName         = errors.New("permission: empty name")
	ErrTooManyPerms      = errors.New("permission: more than 63 permissions")
	ErrUnknownPermission = errors.New("permission: not registered")
)

// Registry is a fixed assignment of permission names to bits of a [Mask64].
// It is built once and read-only afterwards.
type Registry struct {
	bits  map[string]int
	names [64]string
}

// NewRegistry assigns bits to names in order. Repeated names and Root are
// accepted and keep their first bit.
func NewRegistry(names ...string) (*Registry, error) {
	r := &Registry{bits: map[string]int{Root: rootBit}}
	r.names[rootBit] = Root

	next := 0
	for _, name := range names {
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, ok := r.bits[name]; ok {
			continue
		}
		if next == rootBit {
			return nil, fmt.Errorf("%w: %q", ErrTooManyPerms, name)
		}
		r.bits[name] = next
		r.names[next] = name
		next++
	}
	return r, nil
}

// Bit returns the bit assigned to name.
func (r *Registry) Bit(name string) (int, bool) {
	bit, ok := r.bits[name]
	return bit, ok
}

// Name returns the permission held at bit.
func (r *Registry) Name(bit int) (string, bool) {
	if bit < 0 || bit >= len(r.names) || r.names[bit] == "" {
		return "", false
	}
	return r.names[bit], true
}

// Count excludes Root.
func (r *Registry) Count() int {
	return len(r.bits) - 1
}
