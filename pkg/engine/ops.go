package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/persistence"
)

// Journal verbs.
const (
	cmdAddNode    = "ADDNODE"
	cmdAddEdge    = "ADDEDGE"
	cmdRemoveNode = "DELNODE"
	cmdRemoveEdge = "DELEDGE"
	cmdReembed    = "REEMBED"
	cmdSetRole    = "SETROLE"
	cmdClearRole  = "CLRROLE"
)

// journal appends one command after the in-memory mutation committed. The
// first argument of every record is its sequence number, which snapshots
// remember so replay can skip records they already contain.
// Under FsyncAlways the write is synced before returning.
func (e *Engine) journal(name string, args ...[]byte) error {
	seq := e.Graph.seq.Add(1)
	if err := e.AOF.Append(name, append([][]byte{persistence.Uint(seq)}, args...)...); err != nil {
		return fmt.Errorf("persistence error (AOF write failed, change is in memory only): %w", err)
	}
	if e.opts.Fsync == FsyncAlways {
		if err := e.AOF.Sync(); err != nil {
			return fmt.Errorf("CRITICAL: persistence sync failed: %w", err)
		}
	}
	atomic.AddInt64(&e.dirtyCounter, 1)
	return nil
}

func nodeIDs(ids []types.NodeID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// AddNode creates a node and indexes it, then journals the allocated ID.
func (e *Engine) AddNode(embedding []float32, label string) (types.NodeID, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	id, err := e.Graph.AddNode(embedding, label)
	if err != nil {
		return 0, err
	}
	return id, e.journal(cmdAddNode, persistence.Uint(uint64(id)), []byte(label), persistence.Floats(embedding))
}

func (e *Engine) AddEdge(sources, targets []types.NodeID, relation string) (types.EdgeID, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	id, err := e.Graph.AddEdge(sources, targets, relation)
	if err != nil {
		return 0, err
	}
	return id, e.journal(cmdAddEdge,
		persistence.Uint(uint64(id)),
		[]byte(relation),
		persistence.Uints(nodeIDs(sources)),
		persistence.Uints(nodeIDs(targets)),
	)
}

// RemoveNode journals the removal whenever the structural part committed,
// including the partial failure case: replay then reproduces the cascade
// and the index removal is retried by RepairIndex.
func (e *Engine) RemoveNode(id types.NodeID) ([]types.EdgeID, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	removed, err := e.Graph.RemoveNode(id)
	if err != nil && !errors.Is(err, types.ErrPartialFailure) {
		return nil, err
	}
	if jerr := e.journal(cmdRemoveNode, persistence.Uint(uint64(id))); jerr != nil {
		return removed, errors.Join(err, jerr)
	}
	return removed, err
}

func (e *Engine) RemoveEdge(id types.EdgeID) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.Graph.RemoveEdge(id); err != nil {
		return err
	}
	return e.journal(cmdRemoveEdge, persistence.Uint(uint64(id)))
}

func (e *Engine) ReembedNode(id types.NodeID, embedding []float32) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.Graph.ReembedNode(id, embedding); err != nil {
		return err
	}
	return e.journal(cmdReembed, persistence.Uint(uint64(id)), persistence.Floats(embedding))
}

func (e *Engine) SetRole(edge types.EdgeID, node types.NodeID, role types.Role) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.Graph.SetRole(edge, node, role); err != nil {
		return err
	}
	return e.journal(cmdSetRole, persistence.Uint(uint64(edge)), persistence.Uint(uint64(node)), []byte(role.String()))
}

func (e *Engine) ClearRole(edge types.EdgeID, node types.NodeID) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.Graph.ClearRole(edge, node); err != nil {
		return err
	}
	return e.journal(cmdClearRole, persistence.Uint(uint64(edge)), persistence.Uint(uint64(node)))
}
