package engine

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/hypergraph"
	"github.com/sanonone/kektorgraph/pkg/index"
	"github.com/sanonone/kektorgraph/pkg/persistence"
)

const (
	DumpFormat  = "kektorgraph"
	DumpVersion = 1
)

// DumpHeader identifies a dump and the instance that wrote it.
type DumpHeader struct {
	Format    string
	Version   int
	GraphID   string
	Name      string
	Dimension int
	Nodes     int
	Edges     int
	Sequence  uint64
	WrittenAt time.Time
}

// graphDump is gob-encoded into a single OpCodeGraph frame. The index is
// nested as its own framed blob so each half carries its own checksum.
type graphDump struct {
	Header DumpHeader
	Store  *hypergraph.Snapshot
	Index  []byte
}

// Dump writes the whole graph to w. It refuses to write while nodes are
// parked for index repair, since such a dump could not be loaded back.
func (g *Graph) Dump(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n := len(g.pending); n > 0 {
		return fmt.Errorf("%w: %d nodes await index repair", types.ErrPartialFailure, n)
	}
	blob, err := g.index.Dump()
	if err != nil {
		return fmt.Errorf("dump index: %w", err)
	}
	d := graphDump{
		Header: DumpHeader{
			Format:    DumpFormat,
			Version:   DumpVersion,
			GraphID:   g.id.String(),
			Name:      g.name,
			Dimension: g.store.Dimension(),
			Nodes:     g.store.NodeCount(),
			Edges:     g.store.EdgeCount(),
			Sequence:  g.seq.Load(),
			WrittenAt: time.Now().UTC(),
		},
		Store: g.store.Snapshot(),
		Index: blob,
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&d); err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	bw := bufio.NewWriter(w)
	if err := persistence.NewFrameWriter(bw).WriteFrame(persistence.OpCodeGraph, payload.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadGraph reads a dump produced by Dump. The checksum, the format header,
// both halves and their agreement on dimension and node set are verified;
// any failure is reported as types.ErrCorruptState.
func LoadGraph(r io.Reader) (*Graph, error) {
	payload, err := persistence.ReadFrameOp(r, persistence.OpCodeGraph)
	if err != nil {
		return nil, types.CorruptState("read dump: %v", err)
	}
	var d graphDump
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
		return nil, types.CorruptState("decode dump: %v", err)
	}
	h := d.Header
	if h.Format != DumpFormat || h.Version != DumpVersion {
		return nil, types.CorruptState("unsupported dump format %q version %d", h.Format, h.Version)
	}
	id, err := uuid.Parse(h.GraphID)
	if err != nil {
		return nil, types.CorruptState("bad graph id %q", h.GraphID)
	}

	store, err := hypergraph.FromSnapshot(d.Store)
	if err != nil {
		return nil, err
	}
	idx, err := index.Load(d.Index)
	if err != nil {
		return nil, err
	}
	if store.Dimension() != h.Dimension || idx.Dimension() != h.Dimension {
		return nil, types.CorruptState("dimension mismatch: header %d, store %d, index %d", h.Dimension, store.Dimension(), idx.Dimension())
	}
	if store.NodeCount() != h.Nodes || store.EdgeCount() != h.Edges {
		return nil, types.CorruptState("header counts %d/%d disagree with store %d/%d", h.Nodes, h.Edges, store.NodeCount(), store.EdgeCount())
	}
	if !slices.Equal(store.NodeIDs(), idx.IDs()) {
		return nil, types.CorruptState("index and store hold different node sets")
	}
	g := newGraph(id, h.Name, store, idx)
	g.seq.Store(h.Sequence)
	return g, nil
}
