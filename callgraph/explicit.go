package callgraph

import (
	"fmt"

	"golang.org/x/tools/container/intsets"
)

type nodeKey struct {
	unit CodeUnit
	ctx  Context
}

type nodeData struct {
	node    *Node
	succ    intsets.Sparse
	pred    intsets.Sparse
	sites   []CallSite
	targets map[CallSite]*intsets.Sparse
}

// Explicit is a call graph that stores its nodes, edges and per-site
// targets explicitly. It is not safe for concurrent mutation.
type Explicit struct {
	nodes       []*nodeData // indexed by node number; nil once removed
	index       map[nodeKey]int
	byUnit      map[CodeUnit][]int
	live        int
	edges       int
	entrypoints []int
	entrySet    intsets.Sparse
	frozen      bool
}

var _ MutableGraph = (*Explicit)(nil)

// NewExplicit returns a graph holding only the fake root (number 0) and the
// fake world-clinit node (number 1).
func NewExplicit() *Explicit {
	g := &Explicit{
		index:  make(map[nodeKey]int),
		byUnit: make(map[CodeUnit][]int),
	}
	g.create(FakeRootUnit, Everywhere, KindFakeRoot)
	g.create(FakeWorldClinitUnit, Everywhere, KindFakeWorldClinit)
	return g
}

func (g *Explicit) create(unit CodeUnit, ctx Context, kind NodeKind) *Node {
	n := &Node{ID: len(g.nodes), Unit: unit, Context: ctx, Kind: kind}
	g.nodes = append(g.nodes, &nodeData{node: n})
	g.index[nodeKey{unit, ctx}] = n.ID
	g.byUnit[unit] = append(g.byUnit[unit], n.ID)
	g.live++
	return n
}

func (g *Explicit) data(n *Node) *nodeData {
	if n == nil || n.ID < 0 || n.ID >= len(g.nodes) {
		return nil
	}
	d := g.nodes[n.ID]
	if d == nil || d.node != n {
		return nil
	}
	return d
}

func (g *Explicit) mustData(n *Node) (*nodeData, error) {
	d := g.data(n)
	if d == nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotFound, n)
	}
	return d, nil
}

func (g *Explicit) FakeRoot() *Node        { return g.nodes[0].node }
func (g *Explicit) FakeWorldClinit() *Node { return g.nodes[1].node }

var errFrozen = fmt.Errorf("%w: graph is frozen", ErrInvalidState)

// Freeze rejects all further structural edits with ErrInvalidState.
func (g *Explicit) Freeze()      { g.frozen = true }
func (g *Explicit) Frozen() bool { return g.frozen }

// FindOrCreateNode returns the node for (unit, ctx), creating and numbering
// it on first request.
func (g *Explicit) FindOrCreateNode(unit CodeUnit, ctx Context) (*Node, error) {
	if unit == nil || ctx == nil {
		return nil, ErrNilUnit
	}
	if id, ok := g.index[nodeKey{unit, ctx}]; ok {
		return g.nodes[id].node, nil
	}
	if g.frozen {
		return nil, errFrozen
	}
	return g.create(unit, ctx, KindOrdinary), nil
}

func (g *Explicit) Lookup(unit CodeUnit, ctx Context) *Node {
	if unit == nil || ctx == nil {
		return nil
	}
	if id, ok := g.index[nodeKey{unit, ctx}]; ok {
		return g.nodes[id].node
	}
	return nil
}

func (g *Explicit) NodesOf(unit CodeUnit) []*Node {
	ids := g.byUnit[unit]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id].node)
	}
	return out
}

func (g *Explicit) Node(id int) *Node {
	if id < 0 || id >= len(g.nodes) || g.nodes[id] == nil {
		return nil
	}
	return g.nodes[id].node
}

func (g *Explicit) Nodes() []*Node {
	out := make([]*Node, 0, g.live)
	for _, d := range g.nodes {
		if d != nil {
			out = append(out, d.node)
		}
	}
	return out
}

func (g *Explicit) NodeCount() int { return g.live }

// EdgeCount returns the number of distinct (caller, callee) edges.
func (g *Explicit) EdgeCount() int { return g.edges }

// MaxID returns the highest number ever assigned, including removed nodes.
func (g *Explicit) MaxID() int { return len(g.nodes) - 1 }

func (g *Explicit) ContainsNode(n *Node) bool { return g.data(n) != nil }

// RegisterEntrypoint marks n as an entrypoint node. Registering a node
// twice has no effect.
func (g *Explicit) RegisterEntrypoint(n *Node) error {
	if _, err := g.mustData(n); err != nil {
		return err
	}
	if g.entrySet.Insert(n.ID) {
		g.entrypoints = append(g.entrypoints, n.ID)
	}
	return nil
}

func (g *Explicit) EntrypointNodes() []*Node {
	out := make([]*Node, 0, len(g.entrypoints))
	for _, id := range g.entrypoints {
		out = append(out, g.nodes[id].node)
	}
	return out
}

func (g *Explicit) nodesOf(s *intsets.Sparse) []*Node {
	out := make([]*Node, 0, s.Len())
	for _, id := range s.AppendTo(nil) {
		out = append(out, g.nodes[id].node)
	}
	return out
}

func (g *Explicit) Succs(n *Node) []*Node {
	d := g.data(n)
	if d == nil {
		return nil
	}
	return g.nodesOf(&d.succ)
}

func (g *Explicit) Preds(n *Node) []*Node {
	d := g.data(n)
	if d == nil {
		return nil
	}
	return g.nodesOf(&d.pred)
}

func (g *Explicit) SuccCount(n *Node) int {
	if d := g.data(n); d != nil {
		return d.succ.Len()
	}
	return 0
}

func (g *Explicit) PredCount(n *Node) int {
	if d := g.data(n); d != nil {
		return d.pred.Len()
	}
	return 0
}

func (g *Explicit) HasEdge(src, dst *Node) bool {
	d := g.data(src)
	return d != nil && g.data(dst) != nil && d.succ.Has(dst.ID)
}

// AddEdge adds the edge src -> dst without attributing it to a call site.
// Adding an existing edge has no effect.
func (g *Explicit) AddEdge(src, dst *Node) error {
	if g.frozen {
		return errFrozen
	}
	s, err := g.mustData(src)
	if err != nil {
		return err
	}
	d, err := g.mustData(dst)
	if err != nil {
		return err
	}
	if s.succ.Insert(dst.ID) {
		d.pred.Insert(src.ID)
		g.edges++
	}
	return nil
}

// RecordSite records site as a call site of n even if it never resolves.
func (g *Explicit) RecordSite(n *Node, site CallSite) error {
	if g.frozen {
		return errFrozen
	}
	d, err := g.mustData(n)
	if err != nil {
		return err
	}
	d.record(site)
	return nil
}

func (d *nodeData) record(site CallSite) *intsets.Sparse {
	if d.targets == nil {
		d.targets = make(map[CallSite]*intsets.Sparse)
	}
	t, ok := d.targets[site]
	if !ok {
		t = new(intsets.Sparse)
		d.targets[site] = t
		d.sites = append(d.sites, site)
	}
	return t
}

// AddCall records that site of src may invoke dst and adds the edge.
func (g *Explicit) AddCall(src *Node, site CallSite, dst *Node) error {
	if g.frozen {
		return errFrozen
	}
	s, err := g.mustData(src)
	if err != nil {
		return err
	}
	if _, err := g.mustData(dst); err != nil {
		return err
	}
	s.record(site).Insert(dst.ID)
	return g.AddEdge(src, dst)
}

func (g *Explicit) CallSites(n *Node) []CallSite {
	d := g.data(n)
	if d == nil {
		return nil
	}
	out := make([]CallSite, len(d.sites))
	copy(out, d.sites)
	return out
}

func (g *Explicit) PossibleTargets(n *Node, site CallSite) []*Node {
	d := g.data(n)
	if d == nil {
		return nil
	}
	t, ok := d.targets[site]
	if !ok {
		return nil
	}
	return g.nodesOf(t)
}

// PossibleSites returns the sites of src that may invoke dst, in the order
// they were recorded. More than one site may call the same target.
func (g *Explicit) PossibleSites(src, dst *Node) []CallSite {
	s := g.data(src)
	if s == nil || g.data(dst) == nil || !s.succ.Has(dst.ID) {
		return nil
	}
	var out []CallSite
	for _, site := range s.sites {
		if s.targets[site].Has(dst.ID) {
			out = append(out, site)
		}
	}
	return out
}

// RemoveNode removes n and every edge incident to it. The number of n is
// not reused.
func (g *Explicit) RemoveNode(n *Node) error {
	if g.frozen {
		return errFrozen
	}
	d, err := g.mustData(n)
	if err != nil {
		return err
	}
	if n.Kind != KindOrdinary {
		return fmt.Errorf("%w: cannot remove %s", ErrInvalidState, n.Kind)
	}
	id := n.ID
	for _, s := range d.succ.AppendTo(nil) {
		if s != id {
			g.nodes[s].pred.Remove(id)
		}
		g.edges--
	}
	for _, p := range d.pred.AppendTo(nil) {
		if p == id {
			continue
		}
		pd := g.nodes[p]
		pd.succ.Remove(id)
		for _, t := range pd.targets {
			t.Remove(id)
		}
		g.edges--
	}

	g.nodes[id] = nil
	delete(g.index, nodeKey{n.Unit, n.Context})
	ids := g.byUnit[n.Unit]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.byUnit, n.Unit)
	} else {
		g.byUnit[n.Unit] = ids
	}
	if g.entrySet.Remove(id) {
		for i, e := range g.entrypoints {
			if e == id {
				g.entrypoints = append(g.entrypoints[:i:i], g.entrypoints[i+1:]...)
				break
			}
		}
	}
	g.live--
	return nil
}

// RemoveEdge removes src -> dst together with every site attribution of it.
// Removing an absent edge has no effect.
func (g *Explicit) RemoveEdge(src, dst *Node) error {
	if g.frozen {
		return errFrozen
	}
	s, err := g.mustData(src)
	if err != nil {
		return err
	}
	d, err := g.mustData(dst)
	if err != nil {
		return err
	}
	if !s.succ.Remove(dst.ID) {
		return nil
	}
	d.pred.Remove(src.ID)
	for _, t := range s.targets {
		t.Remove(dst.ID)
	}
	g.edges--
	return nil
}
