package hnsw

import "github.com/sanonone/kektorgraph/pkg/core/types"

// Node is a single vector in the HNSW graph. Exported fields only, so the
// whole graph can be gob-encoded in a Snapshot.
type Node struct {
	// Id is the node identifier shared with the hypergraph store.
	Id types.NodeID
	// InternalID is the position of the node in Index.nodes.
	InternalID uint32
	// Exactly one of VectorF32 / VectorF16 is populated, depending on precision.
	// Cosine vectors are stored normalized.
	VectorF32 []float32
	VectorF16 []uint16
	// Connections[l] holds neighbour internal IDs at layer l.
	Connections [][]uint32
	// Deleted marks a tombstone. Tombstones are traversed but never returned.
	Deleted bool
}
