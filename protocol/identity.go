package protocol

import (
	"fmt"
	"time"
)

// Role is the closed set of entity roles in a V2G network.
type Role string

const (
	RoleEV       Role = "ev"
	RoleCS       Role = "cs"
	RoleEdgeNode Role = "edge_node"
	RoleESP      Role = "esp"
)

// Valid returns true if the role is recognized.
func (r Role) Valid() bool {
	switch r {
	case RoleEV, RoleCS, RoleEdgeNode, RoleESP:
		return true
	}
	return false
}

// String returns the wire representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts a wire string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Identity describes an enrolled participant. Immutable after enrollment.
type Identity struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Domain     string    `json:"domain"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// SameDomain reports whether two identities share an administrative
// domain. Sessions between different domains take the cross-domain path.
func (id Identity) SameDomain(other Identity) bool {
	return id.Domain == other.Domain
}
