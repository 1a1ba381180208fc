package callgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-callgraph-refine/callgraph"
)

func unit(class, name string) callgraph.Unit {
	return callgraph.NewUnit(callgraph.MethodRef{Class: class, Name: name, Signature: "()"})
}

func TestNewExplicitRoots(t *testing.T) {
	g := callgraph.NewExplicit()

	require.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 0, g.FakeRoot().ID)
	assert.Equal(t, 1, g.FakeWorldClinit().ID)
	assert.Equal(t, callgraph.KindFakeRoot, g.FakeRoot().Kind)
	assert.Equal(t, callgraph.KindFakeWorldClinit, g.FakeWorldClinit().Kind)
	assert.Same(t, g.FakeRoot(), g.Lookup(callgraph.FakeRootUnit, callgraph.Everywhere))
	assert.Equal(t, 1, g.MaxID())
}

func TestFindOrCreateNodeIsIdempotent(t *testing.T) {
	g := callgraph.NewExplicit()
	a := unit("p.A", "m")

	first, err := g.FindOrCreateNode(a, callgraph.Everywhere)
	require.NoError(t, err)
	second, err := g.FindOrCreateNode(a, callgraph.Everywhere)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 3, g.NodeCount())

	other, err := g.FindOrCreateNode(a, callgraph.NamedContext("ctx1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Len(t, g.NodesOf(a), 2)
}

func TestNumbersAreMonotoneAndNeverReused(t *testing.T) {
	g := callgraph.NewExplicit()

	var ids []int
	for _, name := range []string{"a", "b", "c", "d"} {
		n, err := g.FindOrCreateNode(unit("p.T", name), callgraph.Everywhere)
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	require.NoError(t, g.RemoveNode(g.Node(ids[3])))
	e, err := g.FindOrCreateNode(unit("p.T", "e"), callgraph.Everywhere)
	require.NoError(t, err)
	assert.Greater(t, e.ID, ids[3])
	assert.Nil(t, g.Node(ids[3]))
	assert.Equal(t, e.ID, g.MaxID())
}

func TestFindOrCreateNodeRejectsNil(t *testing.T) {
	g := callgraph.NewExplicit()

	_, err := g.FindOrCreateNode(nil, callgraph.Everywhere)
	assert.ErrorIs(t, err, callgraph.ErrNilUnit)
	_, err = g.FindOrCreateNode(unit("p.T", "m"), nil)
	assert.ErrorIs(t, err, callgraph.ErrNilUnit)
}

func TestAddCallSites(t *testing.T) {
	g := callgraph.NewExplicit()
	caller, _ := g.FindOrCreateNode(unit("p.A", "caller"), callgraph.Everywhere)
	foo, _ := g.FindOrCreateNode(unit("p.B", "foo"), callgraph.Everywhere)
	bar, _ := g.FindOrCreateNode(unit("p.C", "foo"), callgraph.Everywhere)

	s1 := callgraph.CallSite{PC: 0, Target: foo.Unit.Ref(), Kind: callgraph.DispatchVirtual}
	s2 := callgraph.CallSite{PC: 3, Target: foo.Unit.Ref(), Kind: callgraph.DispatchVirtual}
	unresolved := callgraph.CallSite{PC: 7, Target: callgraph.MethodRef{Class: "p.X", Name: "gone"}, Kind: callgraph.DispatchStatic}

	require.NoError(t, g.AddCall(caller, s1, foo))
	require.NoError(t, g.AddCall(caller, s1, bar))
	require.NoError(t, g.AddCall(caller, s2, foo))
	require.NoError(t, g.RecordSite(caller, unresolved))

	assert.Equal(t, []callgraph.CallSite{s1, s2, unresolved}, g.CallSites(caller))
	assert.Equal(t, []*callgraph.Node{foo, bar}, g.PossibleTargets(caller, s1))
	assert.Empty(t, g.PossibleTargets(caller, unresolved))
	assert.Equal(t, []callgraph.CallSite{s1, s2}, g.PossibleSites(caller, foo))
	assert.Equal(t, []callgraph.CallSite{s1}, g.PossibleSites(caller, bar))

	// Two sites reaching foo still make one edge.
	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, 2, g.SuccCount(caller))
	assert.Equal(t, []*callgraph.Node{caller}, g.Preds(foo))
}

func TestAddEdgeIsIdempotent(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)

	require.NoError(t, g.AddEdge(g.FakeRoot(), a))
	require.NoError(t, g.AddEdge(g.FakeRoot(), a))

	assert.Equal(t, 1, g.EdgeCount())
	assert.True(t, g.HasEdge(g.FakeRoot(), a))
	assert.False(t, g.HasEdge(a, g.FakeRoot()))
	assert.Empty(t, g.PossibleSites(g.FakeRoot(), a))
}

func TestEditsOfForeignNodes(t *testing.T) {
	g := callgraph.NewExplicit()
	other := callgraph.NewExplicit()
	stranger, _ := other.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)

	assert.ErrorIs(t, g.AddEdge(g.FakeRoot(), stranger), callgraph.ErrNodeNotFound)
	assert.False(t, g.ContainsNode(stranger))
	assert.Nil(t, g.Succs(stranger))
}

func TestFreeze(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	g.Freeze()
	require.True(t, g.Frozen())

	_, err := g.FindOrCreateNode(unit("p.A", "b"), callgraph.Everywhere)
	assert.ErrorIs(t, err, callgraph.ErrInvalidState)
	assert.ErrorIs(t, g.AddEdge(g.FakeRoot(), a), callgraph.ErrInvalidState)
	assert.ErrorIs(t, g.RemoveNode(a), callgraph.ErrInvalidState)
	assert.ErrorIs(t, g.RemoveEdge(g.FakeRoot(), a), callgraph.ErrInvalidState)
	assert.ErrorContains(t, g.RemoveNode(a), "graph is frozen")

	// Finding an existing node is a query.
	found, err := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	require.NoError(t, err)
	assert.Same(t, a, found)
}

func TestRemoveNodeDropsIncidentEdges(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	b, _ := g.FindOrCreateNode(unit("p.A", "b"), callgraph.Everywhere)
	c, _ := g.FindOrCreateNode(unit("p.A", "c"), callgraph.Everywhere)
	site := callgraph.CallSite{PC: 0, Target: b.Unit.Ref()}

	require.NoError(t, g.AddEdge(g.FakeRoot(), a))
	require.NoError(t, g.AddCall(a, site, b))
	require.NoError(t, g.AddEdge(b, c))
	require.NoError(t, g.AddEdge(b, b))
	require.NoError(t, g.AddEdge(a, c))
	require.NoError(t, g.RegisterEntrypoint(b))
	require.Equal(t, 5, g.EdgeCount())

	require.NoError(t, g.RemoveNode(b))

	assert.Equal(t, 2, g.EdgeCount())
	assert.False(t, g.ContainsNode(b))
	assert.Nil(t, g.Lookup(b.Unit, callgraph.Everywhere))
	assert.Empty(t, g.PossibleTargets(a, site))
	assert.Equal(t, []callgraph.CallSite{site}, g.CallSites(a))
	assert.Equal(t, []*callgraph.Node{a}, g.Preds(c))
	assert.Empty(t, g.EntrypointNodes())
	assert.Equal(t, 4, g.NodeCount())
	assert.ErrorIs(t, g.RemoveNode(b), callgraph.ErrNodeNotFound)
	err := g.RemoveNode(g.FakeRoot())
	assert.ErrorIs(t, err, callgraph.ErrInvalidState)
	assert.ErrorContains(t, err, "cannot remove")
	assert.NotContains(t, err.Error(), "frozen")
}

func TestRemoveEdge(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	b, _ := g.FindOrCreateNode(unit("p.A", "b"), callgraph.Everywhere)
	site := callgraph.CallSite{PC: 2, Target: b.Unit.Ref()}
	require.NoError(t, g.AddCall(a, site, b))

	require.NoError(t, g.RemoveEdge(a, b))
	require.NoError(t, g.RemoveEdge(a, b))

	assert.Zero(t, g.EdgeCount())
	assert.False(t, g.HasEdge(a, b))
	assert.Empty(t, g.PossibleTargets(a, site))
	assert.Empty(t, g.Preds(b))
}

func TestEntrypointsKeepRegistrationOrder(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	b, _ := g.FindOrCreateNode(unit("p.A", "b"), callgraph.Everywhere)

	require.NoError(t, g.RegisterEntrypoint(b))
	require.NoError(t, g.RegisterEntrypoint(a))
	require.NoError(t, g.RegisterEntrypoint(b))

	assert.Equal(t, []*callgraph.Node{b, a}, g.EntrypointNodes())
}

func TestReachableAndVisitEdges(t *testing.T) {
	g := callgraph.NewExplicit()
	a, _ := g.FindOrCreateNode(unit("p.A", "a"), callgraph.Everywhere)
	b, _ := g.FindOrCreateNode(unit("p.A", "b"), callgraph.Everywhere)
	c, _ := g.FindOrCreateNode(unit("p.A", "c"), callgraph.Everywhere)
	require.NoError(t, g.AddEdge(g.FakeRoot(), a))
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, a))

	reach := callgraph.Reachable(g, g.FakeRoot())
	assert.Equal(t, []int{0, a.ID, b.ID}, reach.AppendTo(nil))
	assert.False(t, reach.Has(c.ID))

	var pairs [][2]int
	require.NoError(t, callgraph.VisitEdges(g, func(src, dst *callgraph.Node) error {
		pairs = append(pairs, [2]int{src.ID, dst.ID})
		return nil
	}))
	assert.Equal(t, [][2]int{{0, a.ID}, {a.ID, b.ID}, {b.ID, a.ID}}, pairs)
	assert.Equal(t, 3, callgraph.CountEdges(g))
	assert.True(t, callgraph.FindEdge(g, func(src, dst *callgraph.Node) bool { return src == b && dst == a }))
	assert.False(t, callgraph.FindEdge(g, func(src, dst *callgraph.Node) bool { return dst == c }))
}

func TestDispatchNames(t *testing.T) {
	for _, d := range []callgraph.Dispatch{
		callgraph.DispatchStatic, callgraph.DispatchSpecial, callgraph.DispatchVirtual,
		callgraph.DispatchInterface, callgraph.DispatchDynamic,
	} {
		back, ok := callgraph.DispatchByName(d.String())
		require.True(t, ok)
		assert.Equal(t, d, back)
	}
	assert.True(t, callgraph.DispatchInterface.IsDispatch())
	assert.False(t, callgraph.DispatchDynamic.IsDispatch())
	assert.Equal(t, callgraph.Everywhere, callgraph.ContextByName("Everywhere"))
}
