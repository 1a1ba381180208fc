// Package prune restricts a call graph to the nodes a pruning policy cares
// about, together with every path from the fake root that reaches them.
package prune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/tools/container/intsets"

	"go-callgraph-refine/callgraph"
)

// Policy selects the nodes pruning must keep.
type Policy interface {
	Check(n *callgraph.Node) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(n *callgraph.Node) bool

func (f PolicyFunc) Check(n *callgraph.Node) bool { return f(n) }

// KeepAll keeps every reachable node.
var KeepAll Policy = PolicyFunc(func(*callgraph.Node) bool { return true })

// LoaderOracle reports the loader that declared a unit.
type LoaderOracle interface {
	DeclaringLoader(u callgraph.CodeUnit) callgraph.Loader
}

// ApplicationLoader keeps the ordinary nodes whose unit the application
// loader declared.
type ApplicationLoader struct {
	Loaders LoaderOracle
}

func (p ApplicationLoader) Check(n *callgraph.Node) bool {
	return n.Kind == callgraph.KindOrdinary &&
		p.Loaders.DeclaringLoader(n.Unit) == callgraph.LoaderApplication
}

// ErrNegativeDepth is returned for a negative extension depth.
var ErrNegativeDepth = errors.New("prune: negative depth")

const tracerName = "go-callgraph-refine/prune"

type finder struct {
	ctx    context.Context
	g      callgraph.Graph
	policy Policy
	depth  int
	marked intsets.Sparse
	keep   intsets.Sparse
	path   []*callgraph.Node
}

// FindApplicationNodes returns the numbers of the nodes to keep: every node
// the policy accepts, every node on the depth-first path from the fake root
// to such a node, and every node within depth call edges of an accepted
// node.
//
// Paths are those of a single depth-first traversal. A node that reaches an
// accepted node only through a back edge to a node still being visited is
// kept only if another of its successors is already kept.
func FindApplicationNodes(ctx context.Context, g callgraph.Graph, policy Policy, depth int) (*intsets.Sparse, error) {
	if depth < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeDepth, depth)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "prune.FindApplicationNodes")
	defer span.End()

	f := &finder{ctx: ctx, g: g, policy: policy, depth: depth}
	if root := g.FakeRoot(); root != nil {
		if err := f.dfs(root); err != nil {
			return nil, err
		}
	}

	kept := f.keep.Len()
	keptNodes.Set(float64(kept))
	span.SetAttributes(attribute.Int("kept", kept), attribute.Int("depth", depth))
	slog.Debug("pruning complete", "kept", kept, "nodes", g.NodeCount(), "depth", depth)
	return &f.keep, nil
}

func (f *finder) dfs(n *callgraph.Node) error {
	if err := f.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", callgraph.ErrCancelled, err)
	}
	f.marked.Insert(n.ID)
	f.path = append(f.path, n)

	for _, s := range f.g.Succs(n) {
		if !f.marked.Has(s.ID) {
			if err := f.dfs(s); err != nil {
				return err
			}
		} else if f.keep.Has(s.ID) {
			f.keepPath()
		}
	}
	if f.policy.Check(n) {
		f.keepPath()
		f.extend(n)
	}

	f.path = f.path[:len(f.path)-1]
	return nil
}

// keepPath keeps every node on the current traversal path.
func (f *finder) keepPath() {
	for _, p := range f.path {
		f.keep.Insert(p.ID)
	}
}

// extend keeps every node within f.depth edges of n. The walk continues
// through nodes that were already kept.
func (f *finder) extend(n *callgraph.Node) {
	var seen intsets.Sparse
	seen.Insert(n.ID)
	frontier := []*callgraph.Node{n}
	for i := 0; i < f.depth && len(frontier) > 0; i++ {
		var next []*callgraph.Node
		for _, m := range frontier {
			for _, s := range f.g.Succs(m) {
				f.keep.Insert(s.ID)
				if seen.Insert(s.ID) {
					next = append(next, s)
				}
			}
		}
		frontier = next
	}
}
