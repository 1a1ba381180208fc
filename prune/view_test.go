package prune_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/container/intsets"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/prune"
)

func keepOf(f *fixture, names ...string) *intsets.Sparse {
	var s intsets.Sparse
	for _, id := range f.ids(names...) {
		s.Insert(id)
	}
	return &s
}

func TestViewFiltersNodesAndEdges(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"a", "b", "app1", "x"} {
		f.node(n)
	}
	site := callgraph.CallSite{PC: 0, Target: f.node("app1").Unit.Ref(), Kind: callgraph.DispatchVirtual}
	f.edges([2]string{"root", "a"}, [2]string{"a", "x"}, [2]string{"b", "app1"})
	require.NoError(t, f.g.AddCall(f.node("a"), site, f.node("app1")))
	require.NoError(t, f.g.AddCall(f.node("a"), site, f.node("b")))

	hidden := map[int]*intsets.Sparse{f.node("a").ID: keepOf(f, "b")}
	v := prune.NewView(f.g, keepOf(f, "root", "a", "b", "app1"), hidden)

	assert.Equal(t, 4, v.NodeCount())
	assert.Nil(t, v.Node(f.node("x").ID))
	assert.Nil(t, v.FakeWorldClinit())
	assert.Equal(t, []*callgraph.Node{f.node("app1")}, v.Succs(f.node("a")))
	assert.Equal(t, []*callgraph.Node{f.node("app1")}, v.PossibleTargets(f.node("a"), site))
	assert.False(t, v.HasEdge(f.node("a"), f.node("b")))
	assert.Empty(t, v.Preds(f.node("b")))
	assert.Equal(t, []callgraph.CallSite{site}, v.PossibleSites(f.node("a"), f.node("app1")))
	assert.Nil(t, v.PossibleSites(f.node("a"), f.node("b")))
	assert.Equal(t, 3, callgraph.CountEdges(v))

	// The backing graph is untouched by queries.
	assert.True(t, f.g.HasEdge(f.node("a"), f.node("b")))
	assert.True(t, f.g.HasEdge(f.node("a"), f.node("x")))
}

func TestViewRemoveNodeDelegates(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"a", "b", "c"} {
		f.node(n)
	}
	f.edges([2]string{"root", "a"}, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"root", "c"})
	v := prune.NewView(f.g, keepOf(f, "root", "a", "b", "c"),
		map[int]*intsets.Sparse{f.node("a").ID: keepOf(f, "b")})
	nodesBefore, edgesBefore := f.g.NodeCount(), f.g.EdgeCount()

	b := f.node("b")
	require.NoError(t, v.RemoveNode(b))

	assert.Equal(t, nodesBefore-1, f.g.NodeCount())
	assert.Equal(t, edgesBefore-2, f.g.EdgeCount())
	assert.False(t, v.Keep().Has(b.ID))
	assert.Empty(t, v.Hidden(f.node("a").ID))
	assert.False(t, v.ContainsNode(b))
	assert.True(t, f.g.HasEdge(f.g.FakeRoot(), f.node("c")))
}

func TestViewRemoveEdgeDelegates(t *testing.T) {
	f := newFixture(t)
	f.edges([2]string{"root", "a"}, [2]string{"a", "b"})
	v := prune.NewView(f.g, keepOf(f, "root", "a", "b"),
		map[int]*intsets.Sparse{f.node("a").ID: keepOf(f, "b")})

	require.NoError(t, v.RemoveEdge(f.node("a"), f.node("b")))

	assert.False(t, f.g.HasEdge(f.node("a"), f.node("b")))
	assert.Empty(t, v.Hidden(f.node("a").ID))
	assert.Equal(t, 1, f.g.EdgeCount())
}

func TestViewAddEdge(t *testing.T) {
	f := newFixture(t)
	f.edges([2]string{"root", "a"}, [2]string{"a", "b"})
	f.node("outside")
	v := prune.NewView(f.g, keepOf(f, "root", "a", "b"),
		map[int]*intsets.Sparse{f.node("a").ID: keepOf(f, "b")})

	// Edges touching pruned nodes are dropped without error.
	require.NoError(t, v.AddEdge(f.node("a"), f.node("outside")))
	assert.False(t, f.g.HasEdge(f.node("a"), f.node("outside")))

	require.NoError(t, v.AddEdge(f.node("b"), f.node("a")))
	assert.True(t, f.g.HasEdge(f.node("b"), f.node("a")))
	assert.True(t, v.HasEdge(f.node("b"), f.node("a")))

	// Re-adding a hidden edge unhides it.
	require.NoError(t, v.AddEdge(f.node("a"), f.node("b")))
	assert.True(t, v.HasEdge(f.node("a"), f.node("b")))
}

func TestViewHideLeavesBackingGraph(t *testing.T) {
	f := newFixture(t)
	f.edges([2]string{"root", "a"}, [2]string{"a", "b"})
	keep := keepOf(f, "root", "a", "b")
	v := prune.NewView(f.g, keep, nil)

	v.Hide(f.node("a"), f.node("b"))

	assert.False(t, v.HasEdge(f.node("a"), f.node("b")))
	assert.True(t, f.g.HasEdge(f.node("a"), f.node("b")))
	assert.Equal(t, []int{f.node("b").ID}, v.Hidden(f.node("a").ID))

	// The view owns copies of its inputs.
	keep.Remove(f.node("a").ID)
	assert.True(t, v.ContainsNode(f.node("a")))
}

func TestViewFailedRemovalKeepsViewState(t *testing.T) {
	f := newFixture(t)
	f.edges([2]string{"root", "a"}, [2]string{"a", "b"})
	v := prune.NewView(f.g, keepOf(f, "root", "a", "b"),
		map[int]*intsets.Sparse{f.node("a").ID: keepOf(f, "b")})

	// Synthetic roots cannot be removed even from a mutable graph.
	assert.ErrorIs(t, v.RemoveNode(f.g.FakeRoot()), callgraph.ErrInvalidState)
	require.NotNil(t, v.FakeRoot())

	f.g.Freeze()
	assert.ErrorIs(t, v.RemoveNode(f.node("b")), callgraph.ErrInvalidState)
	assert.True(t, v.ContainsNode(f.node("b")))
	assert.Equal(t, []int{f.node("b").ID}, v.Hidden(f.node("a").ID))

	assert.ErrorIs(t, v.RemoveEdge(f.node("a"), f.node("b")), callgraph.ErrInvalidState)
	assert.False(t, v.HasEdge(f.node("a"), f.node("b")))
	assert.Equal(t, []int{f.node("b").ID}, v.Hidden(f.node("a").ID))

	assert.ErrorIs(t, v.AddEdge(f.node("a"), f.node("b")), callgraph.ErrInvalidState)
	assert.Equal(t, []int{f.node("b").ID}, v.Hidden(f.node("a").ID))
}
