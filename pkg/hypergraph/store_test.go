package hypergraph

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(2)
	require.NoError(t, err)
	return s
}

func addNodes(t *testing.T, s *Store, n int) []types.NodeID {
	t.Helper()
	ids := make([]types.NodeID, n)
	for i := range ids {
		id, err := s.AddNode([]float32{float32(i), 1}, "")
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestAddEdgeAndIncidence(t *testing.T) {
	s := newStore(t)
	n := addNodes(t, s, 3)

	e, err := s.AddEdge([]types.NodeID{n[0], n[0]}, []types.NodeID{n[2], n[1]}, "causes")
	require.NoError(t, err)
	assert.Equal(t, types.EdgeID(1), e)

	edge, err := s.Edge(e)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{n[0]}, edge.Sources, "duplicates collapse")
	assert.Equal(t, []types.NodeID{n[1], n[2]}, edge.Targets)
	assert.Equal(t, "causes", edge.Relation)

	role, err := s.Incidence(n[0], e)
	require.NoError(t, err)
	assert.Equal(t, types.RoleSource, role)
	role, _ = s.Incidence(n[2], e)
	assert.Equal(t, types.RoleTarget, role)

	other, _ := s.AddNode([]float32{0, 0}, "")
	role, err = s.Incidence(other, e)
	require.NoError(t, err)
	assert.Equal(t, types.RoleNone, role)

	out, in, err := s.Degree(n[0])
	require.NoError(t, err)
	assert.Equal(t, 1, out)
	assert.Equal(t, 0, in)
}

func TestAddEdgeErrors(t *testing.T) {
	s := newStore(t)
	n := addNodes(t, s, 2)

	_, err := s.AddEdge(nil, []types.NodeID{n[0]}, "")
	assert.ErrorIs(t, err, types.ErrEmptyEndpointSet)
	_, err = s.AddEdge([]types.NodeID{n[0]}, nil, "")
	assert.ErrorIs(t, err, types.ErrEmptyEndpointSet)
	_, err = s.AddEdge([]types.NodeID{n[0]}, []types.NodeID{99}, "")
	assert.ErrorIs(t, err, types.ErrUnknownNode)
	_, err = s.AddEdge([]types.NodeID{n[0], n[1]}, []types.NodeID{n[1]}, "")
	assert.ErrorIs(t, err, types.ErrSourceTargetOverlap)

	// Empty side wins over unknown nodes.
	_, err = s.AddEdge([]types.NodeID{99}, nil, "")
	assert.ErrorIs(t, err, types.ErrEmptyEndpointSet)

	assert.Zero(t, s.EdgeCount())
	e, err := s.AddEdge([]types.NodeID{n[0]}, []types.NodeID{n[1]}, "")
	require.NoError(t, err)
	assert.Equal(t, types.EdgeID(1), e, "failed adds must not consume ids")
}

func TestRemoveNodeCascade(t *testing.T) {
	s := newStore(t)
	a, b, c := addNodes3(t, s)

	e1, _ := s.AddEdge([]types.NodeID{a}, []types.NodeID{b}, "")
	e2, _ := s.AddEdge([]types.NodeID{a, c}, []types.NodeID{b}, "")

	removed, err := s.RemoveNode(a)
	require.NoError(t, err)
	assert.Equal(t, []types.EdgeID{e1}, removed)

	assert.False(t, s.HasEdge(e1))
	edge, err := s.Edge(e2)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{c}, edge.Sources)
	assert.Equal(t, []types.NodeID{b}, edge.Targets)

	_, err = s.EdgesTouching(a)
	assert.ErrorIs(t, err, types.ErrUnknownNode)
	touching, _ := s.EdgesTouching(b)
	assert.Equal(t, []types.EdgeID{e2}, touching)
	require.NoError(t, s.CheckInvariants())

	_, err = s.RemoveNode(a)
	assert.ErrorIs(t, err, types.ErrUnknownNode)
}

func TestRemoveSharedTargetCascade(t *testing.T) {
	s := newStore(t)
	a, b, c := addNodes3(t, s)

	e1, _ := s.AddEdge([]types.NodeID{a}, []types.NodeID{b}, "")
	e2, _ := s.AddEdge([]types.NodeID{a, c}, []types.NodeID{b}, "")

	removed, err := s.RemoveNode(b)
	require.NoError(t, err)
	assert.Equal(t, []types.EdgeID{e1, e2}, removed)
	assert.False(t, s.HasEdge(e1))
	assert.False(t, s.HasEdge(e2))
	assert.Zero(t, s.EdgeCount())

	for _, n := range []types.NodeID{a, c} {
		touching, err := s.EdgesTouching(n)
		require.NoError(t, err)
		assert.Empty(t, touching)
	}
	require.NoError(t, s.CheckInvariants())
}

func addNodes3(t *testing.T, s *Store) (types.NodeID, types.NodeID, types.NodeID) {
	ids := addNodes(t, s, 3)
	return ids[0], ids[1], ids[2]
}

func TestRemoveEdge(t *testing.T) {
	s := newStore(t)
	a, b, _ := addNodes3(t, s)
	e, _ := s.AddEdge([]types.NodeID{a}, []types.NodeID{b}, "")

	require.NoError(t, s.RemoveEdge(e))
	assert.ErrorIs(t, s.RemoveEdge(e), types.ErrUnknownEdge)
	touching, _ := s.EdgesTouching(a)
	assert.Empty(t, touching)
	assert.True(t, s.HasNode(a), "nodes survive edge removal")

	_, err := s.SourcesOf(e)
	assert.ErrorIs(t, err, types.ErrUnknownEdge)
}

func TestRoles(t *testing.T) {
	s := newStore(t)
	a, b, c := addNodes3(t, s)
	e, _ := s.AddEdge([]types.NodeID{a}, []types.NodeID{b}, "")

	require.NoError(t, s.SetRole(e, c, types.RoleTarget))
	require.NoError(t, s.SetRole(e, c, types.RoleTarget), "idempotent")
	targets, _ := s.TargetsOf(e)
	assert.Equal(t, []types.NodeID{b, c}, targets)

	assert.ErrorIs(t, s.SetRole(e, c, types.RoleSource), types.ErrSourceTargetOverlap)
	assert.Error(t, s.SetRole(e, c, types.RoleNone))

	assert.ErrorIs(t, s.ClearRole(e, a), types.ErrEmptyEndpointSet, "last source stays")
	require.NoError(t, s.ClearRole(e, b))
	assert.ErrorIs(t, s.ClearRole(e, b), types.ErrNotIncident)
	assert.ErrorIs(t, s.ClearRole(e, c), types.ErrEmptyEndpointSet, "last target stays")
	require.NoError(t, s.CheckInvariants())
}

func TestDenseView(t *testing.T) {
	s := newStore(t)
	a, b, c := addNodes3(t, s)
	e1, _ := s.AddEdge([]types.NodeID{a}, []types.NodeID{b, c}, "")
	e2, _ := s.AddEdge([]types.NodeID{c}, []types.NodeID{a}, "")

	m, err := s.DenseView([]types.NodeID{a, b, c}, []types.EdgeID{e1, e2})
	require.NoError(t, err)
	r, cols := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 1.0, m.At(0, 0))
	assert.Equal(t, -1.0, m.At(0, 1))
	assert.Equal(t, -1.0, m.At(1, 0))
	assert.Equal(t, 0.0, m.At(1, 1))
	assert.Equal(t, -1.0, m.At(2, 0))
	assert.Equal(t, 1.0, m.At(2, 1))

	empty, err := s.DenseView(nil, []types.EdgeID{e1})
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	_, err = s.DenseView([]types.NodeID{42}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownNode)
}

func TestLabels(t *testing.T) {
	s := newStore(t)
	x, _ := s.AddNode([]float32{1, 0}, "gravity")
	y, _ := s.AddNode([]float32{0, 1}, "gravity")
	assert.Equal(t, []types.NodeID{x, y}, s.NodesByLabel("gravity"))

	s.RemoveNode(x)
	assert.Equal(t, []types.NodeID{y}, s.NodesByLabel("gravity"))
	s.RemoveNode(y)
	assert.Empty(t, s.NodesByLabel("gravity"))
}

func TestDimension(t *testing.T) {
	s := newStore(t)
	_, err := s.AddNode([]float32{1, 2, 3}, "")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	_, err = New(0)
	assert.ErrorIs(t, err, types.ErrInvalidDimension)
}

func TestIDsNeverReused(t *testing.T) {
	s := newStore(t)
	a, _ := s.AddNode([]float32{0, 0}, "")
	s.RemoveNode(a)
	b, _ := s.AddNode([]float32{0, 0}, "")
	assert.Greater(t, b, a)

	assert.Error(t, s.RestoreNode(a, []float32{0, 0}, ""))
	require.NoError(t, s.RestoreNode(10, []float32{0, 0}, ""))
	c, _ := s.AddNode([]float32{0, 0}, "")
	assert.Equal(t, types.NodeID(11), c)
}

// Random mutation sequences must keep every cell in exactly one role and
// every edge with both sides populated.
func TestRandomMutationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s, _ := New(1)
	var live []types.NodeID

	for step := 0; step < 3000; step++ {
		switch op := rng.Intn(10); {
		case op < 3 || len(live) < 4:
			id, _ := s.AddNode([]float32{rng.Float32()}, "")
			live = append(live, id)
		case op < 7:
			pick := func() []types.NodeID {
				out := make([]types.NodeID, 1+rng.Intn(3))
				for i := range out {
					out[i] = live[rng.Intn(len(live))]
				}
				return out
			}
			_, err := s.AddEdge(pick(), pick(), "")
			if err != nil {
				assert.ErrorIs(t, err, types.ErrSourceTargetOverlap)
			}
		case op < 9:
			i := rng.Intn(len(live))
			_, err := s.RemoveNode(live[i])
			require.NoError(t, err)
			live = append(live[:i], live[i+1:]...)
		default:
			if ids := s.EdgeIDs(); len(ids) > 0 {
				require.NoError(t, s.RemoveEdge(ids[rng.Intn(len(ids))]))
			}
		}
	}
	require.NoError(t, s.CheckInvariants())
	for _, e := range s.EdgeIDs() {
		edge, _ := s.Edge(e)
		for _, src := range edge.Sources {
			assert.NotContains(t, edge.Targets, src)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newStore(t)
	a, b, c := addNodes3(t, s)
	s.AddEdge([]types.NodeID{a}, []types.NodeID{b, c}, "r1")
	s.AddEdge([]types.NodeID{b}, []types.NodeID{c}, "r2")
	s.RemoveNode(a)

	restored, err := FromSnapshot(s.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	nn, ne := restored.NextIDs()
	assert.Equal(t, types.NodeID(4), nn)
	assert.Equal(t, types.EdgeID(3), ne)
}

func TestFromSnapshotRejectsCorruption(t *testing.T) {
	s := newStore(t)
	a, b, _ := addNodes3(t, s)
	s.AddEdge([]types.NodeID{a}, []types.NodeID{b}, "")

	cases := map[string]func(*Snapshot){
		"dangling node": func(sn *Snapshot) { sn.Entries[0].Node = 77 },
		"one sided edge": func(sn *Snapshot) {
			sn.Entries = sn.Entries[:1]
		},
		"bad role":       func(sn *Snapshot) { sn.Entries[0].Role = 3 },
		"duplicate node": func(sn *Snapshot) { sn.Nodes = append(sn.Nodes, sn.Nodes[0]) },
		"wrong dim":      func(sn *Snapshot) { sn.Nodes[0].Embedding = []float32{1} },
		"id past counter": func(sn *Snapshot) {
			sn.NextNodeID = 2
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sn := s.Snapshot()
			mutate(sn)
			_, err := FromSnapshot(sn)
			assert.ErrorIs(t, err, types.ErrCorruptState)
		})
	}
}
