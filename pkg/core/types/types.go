// Package types holds the identifiers, roles and result shapes shared by every
// layer of the hypergraph engine, together with the error taxonomy.
package types

import "fmt"

// NodeID identifies a concept node. IDs are allocated from a monotonically
// increasing counter starting at 1 and are never reused within a storage
// instance. The zero value is never a valid ID.
type NodeID uint64

// EdgeID identifies a directed hyperedge. Same allocation rules as NodeID.
type EdgeID uint64

// Role is the signed value a node takes in an edge's column of the incidence
// matrix: +1 for a source, -1 for a target, 0 when the node is not incident.
type Role int8

const (
	RoleNone   Role = 0
	RoleSource Role = 1
	RoleTarget Role = -1
)

// Opposite returns the role on the other side of an edge.
func (r Role) Opposite() Role {
	return -r
}

// Valid reports whether r is one of the two endpoint roles.
func (r Role) Valid() bool {
	return r == RoleSource || r == RoleTarget
}

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTarget:
		return "target"
	case RoleNone:
		return "none"
	default:
		return fmt.Sprintf("role(%d)", int8(r))
	}
}

// ParseRole converts "source"/"target" into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "source", "src", "+1", "1":
		return RoleSource, nil
	case "target", "tgt", "-1":
		return RoleTarget, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// SearchResult is a raw hit from a vector backend. Distance is
// metric-specific: smaller is closer.
type SearchResult struct {
	ID       NodeID
	Distance float64
}

// Candidate is the internal representation used during HNSW traversal.
type Candidate struct {
	Id       uint32
	Distance float64
}
