package main

import (
	"sort"

	"go-callgraph-refine/callgraph"
)

// PackageNode represents a Go package of the analysed module.
type PackageNode struct {
	ImportPath string
	Name       string
	Dir        string
}

// FuncNode represents one call graph node: a function in a context.
type FuncNode struct {
	ID         int
	Name       string
	FullName   string // package.ReceiverType.Method or package.Func
	Package    string
	File       string
	Line       int
	Context    string
	Loader     string
	Kind       string
	Entrypoint bool
	Kept       bool // survives pruning
}

// CallEdge represents a call relationship between two nodes.
type CallEdge struct {
	CallerID  int
	CalleeID  int
	Sites     int
	IsDynamic bool // dispatched via interface or function value
	Site      string
	Kept      bool // visible in the pruned, refined view
}

// UnitInfo is what the front end knows about a code unit.
type UnitInfo struct {
	Name     string
	FullName string
	Package  string
	File     string
	Line     int
	Loader   callgraph.Loader
}

// Describer supplies source-level facts about units and call sites.
type Describer interface {
	Describe(u callgraph.CodeUnit) UnitInfo
	SiteLabel(n *callgraph.Node, site callgraph.CallSite) string
}

// Model is the flattened form of a call graph loaded into Neo4j.
type Model struct {
	Funcs []*FuncNode
	Calls []CallEdge
}

// BuildModel flattens full. Nodes and edges also visible through view are
// marked kept.
func BuildModel(full, view callgraph.Graph, d Describer) *Model {
	m := &Model{}
	entry := make(map[int]bool)
	for _, n := range full.EntrypointNodes() {
		entry[n.ID] = true
	}

	for _, n := range full.Nodes() {
		info := d.Describe(n.Unit)
		m.Funcs = append(m.Funcs, &FuncNode{
			ID:         n.ID,
			Name:       info.Name,
			FullName:   info.FullName,
			Package:    info.Package,
			File:       info.File,
			Line:       info.Line,
			Context:    n.Context.String(),
			Loader:     string(info.Loader),
			Kind:       n.Kind.String(),
			Entrypoint: entry[n.ID],
			Kept:       view.ContainsNode(n),
		})
	}

	callgraph.VisitEdges(full, func(src, dst *callgraph.Node) error {
		sites := full.PossibleSites(src, dst)
		sort.Slice(sites, func(i, j int) bool { return sites[i].PC < sites[j].PC })
		e := CallEdge{
			CallerID: src.ID,
			CalleeID: dst.ID,
			Sites:    len(sites),
			Kept:     view.HasEdge(src, dst),
		}
		for _, s := range sites {
			if s.Kind.IsDispatch() {
				e.IsDynamic = true
			}
		}
		if len(sites) > 0 {
			e.Site = d.SiteLabel(src, sites[0])
		}
		m.Calls = append(m.Calls, e)
		return nil
	})
	return m
}

// Kept returns the number of kept nodes and edges.
func (m *Model) Kept() (nodes, edges int) {
	for _, f := range m.Funcs {
		if f.Kept {
			nodes++
		}
	}
	for _, c := range m.Calls {
		if c.Kept {
			edges++
		}
	}
	return nodes, edges
}
