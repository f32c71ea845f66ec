package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/index"
)

// staticEmbedder returns fixed vectors; unknown strings fail.
type staticEmbedder map[string][]float32

func (s staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := s[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return v, nil
}

var vocab = staticEmbedder{
	"cat":         {1, 0, 0},
	"cats":        {1, 0, 0.001},
	"animal":      {0, 1, 0},
	"dog":         {0.9, 0.1, 0},
	"mammal":      {0, 0.9, 0.1},
	"rock":        {0, 0, 1},
	"feline":      {0.95, 0, 0.05},
	"pets":        {0.95, 0.05, 0},
	"geology":     {0, 0.1, 0.9},
	"wrong shape": {1, 0},
}

func newBase(t *testing.T) (*Base, *engine.Graph) {
	t.Helper()
	g, err := engine.NewGraph(engine.GraphOptions{Name: t.Name(), Index: index.DefaultOptions(3)})
	require.NoError(t, err)
	return New(g, vocab, DefaultOptions()), g
}

func TestAddKnowledgeCreatesAndReuses(t *testing.T) {
	b, g := newBase(t)
	ctx := context.Background()

	res, err := b.AddKnowledge(ctx, []string{"cat", "dog"}, []string{"animal"}, "is a")
	require.NoError(t, err)
	assert.Len(t, res.Created, 3)
	src, _ := g.SourcesOf(res.Edge)
	assert.Equal(t, res.Sources, src)

	res2, err := b.AddKnowledge(ctx, []string{"cat"}, []string{"mammal"}, "is a")
	require.NoError(t, err)
	assert.Equal(t, res.Sources[0], res2.Sources[0], "exact label reuses the node")
	assert.Len(t, res2.Created, 1)

	res3, err := b.AddKnowledge(ctx, []string{"cats"}, []string{"rock"}, "is not a")
	require.NoError(t, err)
	assert.Equal(t, res.Sources[0], res3.Sources[0], "near duplicate reuses the node")
	assert.Empty(t, g.NodesByLabel("cats"))
	require.NoError(t, g.CheckConsistency())
}

func TestAddKnowledgeValidation(t *testing.T) {
	b, g := newBase(t)
	ctx := context.Background()

	_, err := b.AddKnowledge(ctx, nil, []string{"animal"}, "is a")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = b.AddKnowledge(ctx, []string{"  "}, []string{"animal"}, "is a")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = b.AddKnowledge(ctx, []string{"cat"}, []string{"cat"}, "is")
	assert.ErrorIs(t, err, types.ErrSourceTargetOverlap)
	assert.Empty(t, g.NodeIDs())

	_, err = b.AddKnowledge(ctx, []string{"wrong shape"}, []string{"animal"}, "is")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	_, err = b.AddKnowledge(ctx, []string{"unicorn"}, []string{"animal"}, "is")
	assert.ErrorContains(t, err, "unicorn")
}

func TestAddKnowledgeRejectedEdgeLeavesNoNodes(t *testing.T) {
	b, g := newBase(t)
	ctx := context.Background()

	// "cats" resolves onto the "cat" node created moments before.
	_, err := b.AddKnowledge(ctx, []string{"cat"}, []string{"cats"}, "is")
	assert.ErrorIs(t, err, types.ErrSourceTargetOverlap)
	assert.Empty(t, g.NodeIDs())
	assert.Empty(t, g.EdgeIDs())

	// A failure while resolving the targets drops the sources created so far.
	_, err = b.AddKnowledge(ctx, []string{"dog", "rock"}, []string{"unicorn"}, "is")
	assert.ErrorContains(t, err, "unicorn")
	assert.Empty(t, g.NodeIDs())

	// Existing nodes survive a rejected call.
	res, err := b.AddKnowledge(ctx, []string{"cat"}, []string{"animal"}, "is a")
	require.NoError(t, err)
	_, err = b.AddKnowledge(ctx, []string{"geology", "cat"}, []string{"cats"}, "is")
	assert.ErrorIs(t, err, types.ErrSourceTargetOverlap)
	assert.ElementsMatch(t, append(res.Sources, res.Targets...), g.NodeIDs())
	assert.Equal(t, []types.EdgeID{res.Edge}, g.EdgeIDs())
	require.NoError(t, g.CheckConsistency())
}

func TestRetrieveRendersFactsAndIsolated(t *testing.T) {
	b, _ := newBase(t)
	ctx := context.Background()

	_, err := b.AddKnowledge(ctx, []string{"cat", "dog"}, []string{"animal"}, "is a")
	require.NoError(t, err)
	_, err = b.AddKnowledge(ctx, []string{"rock"}, []string{"geology"}, "studied by")
	require.NoError(t, err)

	k, err := b.Retrieve(ctx, "feline", 2, 0.5)
	require.NoError(t, err)
	require.Len(t, k.Facts, 1)
	assert.Equal(t, "cat, dog - is a - animal", k.Facts[0].String())
	assert.Empty(t, k.Isolated)
	assert.Equal(t, "* cat, dog - is a - animal\n", k.Markdown())

	k, err = b.Retrieve(ctx, "rock", 1, 0.99)
	require.NoError(t, err)
	assert.Equal(t, "* rock - studied by - geology\n", k.Markdown())

	_, err = b.Retrieve(ctx, "", 1, 0)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRetrieveIsolatedAfterForget(t *testing.T) {
	b, _ := newBase(t)
	ctx := context.Background()

	_, err := b.AddKnowledge(ctx, []string{"cat"}, []string{"animal"}, "is a")
	require.NoError(t, err)

	removed, err := b.Forget(ctx, "animal")
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	k, err := b.Retrieve(ctx, "pets", 1, 0.5)
	require.NoError(t, err)
	assert.Empty(t, k.Facts)
	require.Len(t, k.Isolated, 1)
	assert.Equal(t, "cat", k.Isolated[0].Name)
	assert.Equal(t, "* cat\n", k.Markdown())

	_, err = b.Forget(ctx, "animal")
	assert.ErrorIs(t, err, types.ErrUnknownNode)
}

func TestDedupDisabled(t *testing.T) {
	g, err := engine.NewGraph(engine.GraphOptions{Index: index.DefaultOptions(3)})
	require.NoError(t, err)
	b := New(g, vocab, Options{DedupSimilarity: 0})

	_, err = b.AddKnowledge(context.Background(), []string{"cat", "cats"}, []string{"animal"}, "is a")
	require.NoError(t, err)
	assert.Len(t, g.NodeIDs(), 3)
	assert.Equal(t, 4, b.Options().TopK)
}
