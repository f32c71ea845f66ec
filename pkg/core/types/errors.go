package types

import (
	"errors"
	"fmt"
)

// Every error is prefixed with "kektorgraph:" so it is easy to grep in logs.
// Callers match them with errors.Is; context is added with fmt.Errorf("...: %w").
var (
	// ErrUnknownNode is returned when a node ID is not live.
	ErrUnknownNode = errors.New("kektorgraph: unknown node")
	// ErrUnknownEdge is returned when an edge ID is not live.
	ErrUnknownEdge = errors.New("kektorgraph: unknown edge")
	// ErrEmptyEndpointSet is returned when an edge would have no sources or no targets.
	ErrEmptyEndpointSet = errors.New("kektorgraph: empty endpoint set")
	// ErrSourceTargetOverlap is returned when a node would be both source and target of one edge.
	ErrSourceTargetOverlap = errors.New("kektorgraph: node is both source and target")
	// ErrDimensionMismatch is returned when a vector length differs from the instance dimension.
	ErrDimensionMismatch = errors.New("kektorgraph: embedding dimension mismatch")
	// ErrInvalidTopK is returned when a search asks for top_k <= 0.
	ErrInvalidTopK = errors.New("kektorgraph: top_k must be positive")
	// ErrInvalidThreshold is returned when min_similarity is NaN, infinite or outside [-1, 1].
	ErrInvalidThreshold = errors.New("kektorgraph: invalid similarity threshold")
	// ErrCorruptState is returned when persisted or in-memory halves disagree.
	ErrCorruptState = errors.New("kektorgraph: corrupt state")
	// ErrPartialFailure is returned when a cross-store operation committed on one side only.
	ErrPartialFailure = errors.New("kektorgraph: partial failure")
	// ErrNotIncident is returned by role removal when the node is not an endpoint of the edge.
	ErrNotIncident = errors.New("kektorgraph: node is not incident to edge")
	// ErrInvalidDimension is returned when an instance is created with dimension <= 0.
	ErrInvalidDimension = errors.New("kektorgraph: dimension must be positive")
)

// Sides reported by PartialFailureError.
const (
	SideStructure = "structure"
	SideIndex     = "index"
)

// PartialFailureError reports a node removal whose structural cascade
// committed while the similarity index side failed. The caller can retry the
// index removal alone (see engine.Graph.RepairIndex).
type PartialFailureError struct {
	NodeID       NodeID
	Side         string
	RemovedEdges []EdgeID
	Err          error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("kektorgraph: partial failure removing node %d (%s side failed): %v", e.NodeID, e.Side, e.Err)
}

// Unwrap lets errors.Is match both ErrPartialFailure and the underlying cause.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}

// UnknownNode wraps ErrUnknownNode with the offending id.
func UnknownNode(id NodeID) error {
	return fmt.Errorf("%w: %d", ErrUnknownNode, id)
}

// UnknownEdge wraps ErrUnknownEdge with the offending id.
func UnknownEdge(id EdgeID) error {
	return fmt.Errorf("%w: %d", ErrUnknownEdge, id)
}

// DimensionMismatch wraps ErrDimensionMismatch with the expected and actual lengths.
func DimensionMismatch(want, got int) error {
	return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, want, got)
}

// CorruptState wraps ErrCorruptState with a formatted detail.
func CorruptState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
}
