package prune

import (
	"golang.org/x/tools/container/intsets"

	"go-callgraph-refine/callgraph"
)

// View is a pruned view of a graph. It shows only kept nodes and hides
// the edges recorded in its removal overlay. Queries never modify the
// backing graph; RemoveNode, RemoveEdge and AddEdge update the view and
// then delegate to it.
type View struct {
	g       callgraph.MutableGraph
	keep    intsets.Sparse
	removed map[int]*intsets.Sparse
}

var _ callgraph.Graph = (*View)(nil)

// NewView returns a view of g restricted to keep with the edges in removed
// hidden. removed maps a caller number to the callee numbers to hide; it
// may be nil. Both are copied.
func NewView(g callgraph.MutableGraph, keep *intsets.Sparse, removed map[int]*intsets.Sparse) *View {
	v := &View{g: g, removed: make(map[int]*intsets.Sparse, len(removed))}
	if keep != nil {
		v.keep.Copy(keep)
	}
	for src, dsts := range removed {
		if dsts.IsEmpty() {
			continue
		}
		s := new(intsets.Sparse)
		s.Copy(dsts)
		v.removed[src] = s
	}
	return v
}

// Refined returns a view of g holding the nodes reachable from its
// synthetic roots once the edges in removed are hidden. Pruning should walk
// this view so that edges dropped by refinement do not keep their callees.
func Refined(g callgraph.MutableGraph, removed map[int]*intsets.Sparse) *View {
	v := NewView(g, callgraph.Reachable(g, g.FakeRoot(), g.FakeWorldClinit()), removed)
	v.keep.Copy(callgraph.Reachable(v, v.FakeRoot(), v.FakeWorldClinit()))
	return v
}

// Backing returns the graph the view filters.
func (v *View) Backing() callgraph.MutableGraph { return v.g }

// Keep returns a copy of the kept node numbers.
func (v *View) Keep() *intsets.Sparse {
	s := new(intsets.Sparse)
	s.Copy(&v.keep)
	return s
}

// Hidden returns the callee numbers hidden for caller src.
func (v *View) Hidden(src int) []int {
	if s, ok := v.removed[src]; ok {
		return s.AppendTo(nil)
	}
	return nil
}

func (v *View) kept(n *callgraph.Node) bool {
	return n != nil && v.keep.Has(n.ID) && v.g.ContainsNode(n)
}

func (v *View) hidden(src, dst *callgraph.Node) bool {
	s, ok := v.removed[src.ID]
	return ok && s.Has(dst.ID)
}

func (v *View) visible(src, dst *callgraph.Node) bool {
	return v.keep.Has(dst.ID) && !v.hidden(src, dst)
}

func (v *View) filter(nodes []*callgraph.Node) []*callgraph.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if v.keep.Has(n.ID) {
			out = append(out, n)
		}
	}
	return out
}

func (v *View) FakeRoot() *callgraph.Node {
	if r := v.g.FakeRoot(); v.kept(r) {
		return r
	}
	return nil
}

func (v *View) FakeWorldClinit() *callgraph.Node {
	if r := v.g.FakeWorldClinit(); v.kept(r) {
		return r
	}
	return nil
}

func (v *View) EntrypointNodes() []*callgraph.Node { return v.filter(v.g.EntrypointNodes()) }

func (v *View) Node(id int) *callgraph.Node {
	if n := v.g.Node(id); v.kept(n) {
		return n
	}
	return nil
}

func (v *View) Lookup(unit callgraph.CodeUnit, ctx callgraph.Context) *callgraph.Node {
	if n := v.g.Lookup(unit, ctx); v.kept(n) {
		return n
	}
	return nil
}

func (v *View) NodesOf(unit callgraph.CodeUnit) []*callgraph.Node { return v.filter(v.g.NodesOf(unit)) }
func (v *View) Nodes() []*callgraph.Node                          { return v.filter(v.g.Nodes()) }
func (v *View) NodeCount() int                                    { return len(v.Nodes()) }
func (v *View) MaxID() int                                        { return v.g.MaxID() }
func (v *View) ContainsNode(n *callgraph.Node) bool               { return v.kept(n) }

func (v *View) Succs(n *callgraph.Node) []*callgraph.Node {
	if !v.kept(n) {
		return nil
	}
	var out []*callgraph.Node
	for _, s := range v.g.Succs(n) {
		if v.visible(n, s) {
			out = append(out, s)
		}
	}
	return out
}

func (v *View) Preds(n *callgraph.Node) []*callgraph.Node {
	if !v.kept(n) {
		return nil
	}
	var out []*callgraph.Node
	for _, p := range v.g.Preds(n) {
		if v.keep.Has(p.ID) && !v.hidden(p, n) {
			out = append(out, p)
		}
	}
	return out
}

func (v *View) SuccCount(n *callgraph.Node) int { return len(v.Succs(n)) }
func (v *View) PredCount(n *callgraph.Node) int { return len(v.Preds(n)) }

func (v *View) HasEdge(src, dst *callgraph.Node) bool {
	return v.kept(src) && v.kept(dst) && !v.hidden(src, dst) && v.g.HasEdge(src, dst)
}

func (v *View) CallSites(n *callgraph.Node) []callgraph.CallSite {
	if !v.kept(n) {
		return nil
	}
	return v.g.CallSites(n)
}

func (v *View) PossibleTargets(n *callgraph.Node, site callgraph.CallSite) []*callgraph.Node {
	if !v.kept(n) {
		return nil
	}
	var out []*callgraph.Node
	for _, t := range v.g.PossibleTargets(n, site) {
		if v.visible(n, t) {
			out = append(out, t)
		}
	}
	return out
}

func (v *View) PossibleSites(src, dst *callgraph.Node) []callgraph.CallSite {
	if !v.HasEdge(src, dst) {
		return nil
	}
	return v.g.PossibleSites(src, dst)
}

// Hide hides src -> dst in the view without touching the backing graph.
func (v *View) Hide(src, dst *callgraph.Node) {
	s, ok := v.removed[src.ID]
	if !ok {
		s = new(intsets.Sparse)
		v.removed[src.ID] = s
	}
	s.Insert(dst.ID)
}

// RemoveNode removes n from the backing graph and, if that succeeds,
// drops it from the view and the overlay.
func (v *View) RemoveNode(n *callgraph.Node) error {
	if err := v.g.RemoveNode(n); err != nil {
		return err
	}
	v.keep.Remove(n.ID)
	delete(v.removed, n.ID)
	for _, s := range v.removed {
		s.Remove(n.ID)
	}
	viewRemovals.WithLabelValues("node").Inc()
	return nil
}

// RemoveEdge removes src -> dst from the backing graph and, if that
// succeeds, drops it from the overlay.
func (v *View) RemoveEdge(src, dst *callgraph.Node) error {
	if err := v.g.RemoveEdge(src, dst); err != nil {
		return err
	}
	if s, ok := v.removed[src.ID]; ok {
		s.Remove(dst.ID)
	}
	viewRemovals.WithLabelValues("edge").Inc()
	return nil
}

// AddEdge adds src -> dst to the backing graph if both ends are kept and
// silently ignores it otherwise. An edge hidden by the overlay becomes
// visible again.
func (v *View) AddEdge(src, dst *callgraph.Node) error {
	if !v.kept(src) || !v.kept(dst) {
		return nil
	}
	if err := v.g.AddEdge(src, dst); err != nil {
		return err
	}
	if s, ok := v.removed[src.ID]; ok {
		s.Remove(dst.ID)
	}
	return nil
}
