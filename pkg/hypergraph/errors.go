package hypergraph

import (
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// OverlapError names the node that would sit on both sides of an edge.
// It matches types.ErrSourceTargetOverlap with errors.Is.
type OverlapError struct {
	Node types.NodeID
	Edge types.EdgeID
}

func (e *OverlapError) Error() string {
	if e.Edge != 0 {
		return fmt.Sprintf("%v: node %d in edge %d", types.ErrSourceTargetOverlap, e.Node, e.Edge)
	}
	return fmt.Sprintf("%v: node %d", types.ErrSourceTargetOverlap, e.Node)
}

func (e *OverlapError) Is(target error) bool {
	return target == types.ErrSourceTargetOverlap
}
