package hnsw

import (
	"log/slog"
	"time"
)

// DeletedRatio returns tombstones / total slots, 0 for an empty graph.
func (h *Index) DeletedRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.nodes) == 0 {
		return 0
	}
	return float64(h.deleted) / float64(len(h.nodes))
}

// Vacuum rebuilds the graph from its live nodes, dropping every tombstone.
// Returns the number of tombstones removed. Live nodes are re-inserted in
// their original order, so results stay reproducible for a given seed.
func (h *Index) Vacuum() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted == 0 {
		return 0
	}

	start := time.Now()
	fresh, err := New(h.dim, h.m, h.efConstruction, h.metric, h.precision, h.seed)
	if err != nil {
		slog.Error("[Vacuum] cannot allocate replacement graph", "error", err)
		return 0
	}
	for _, n := range h.nodes {
		if !n.Deleted {
			fresh.addLocked(n.Id, h.vectorOf(n))
		}
	}

	removed := h.deleted
	h.nodes = fresh.nodes
	h.externalToInternal = fresh.externalToInternal
	h.entrypointID = fresh.entrypointID
	h.maxLevel = fresh.maxLevel
	h.rng = fresh.rng
	h.draws = fresh.draws
	h.deleted = 0

	slog.Info("[Vacuum] graph rebuilt", "removed", removed, "live", len(h.nodes), "duration", time.Since(start))
	return removed
}
