package callgraph

import (
	"errors"

	"golang.org/x/tools/container/intsets"
)

var errStop = errors.New("stop")

// VisitEdges visits every edge of g in caller number order. It stops at the
// first non-nil error returned by edge and returns it.
func VisitEdges(g Graph, edge func(src, dst *Node) error) error {
	for _, src := range g.Nodes() {
		for _, dst := range g.Succs(src) {
			if err := edge(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// CountEdges returns the number of edges visible through g.
func CountEdges(g Graph) int {
	n := 0
	for _, src := range g.Nodes() {
		n += g.SuccCount(src)
	}
	return n
}

// Reachable returns the numbers of the nodes reachable from the given
// roots, the roots included.
func Reachable(g Graph, roots ...*Node) *intsets.Sparse {
	var seen intsets.Sparse
	stack := make([]*Node, 0, len(roots))
	for _, r := range roots {
		if r != nil && g.ContainsNode(r) && seen.Insert(r.ID) {
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range g.Succs(n) {
			if seen.Insert(s.ID) {
				stack = append(stack, s)
			}
		}
	}
	return &seen
}

// FindEdge reports whether any edge of g satisfies match.
func FindEdge(g Graph, match func(src, dst *Node) bool) bool {
	err := VisitEdges(g, func(src, dst *Node) error {
		if match(src, dst) {
			return errStop
		}
		return nil
	})
	return err == errStop
}
