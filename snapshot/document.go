// Package snapshot persists call graphs, or pruned views of them, in a
// badger key-value store.
package snapshot

import (
	"fmt"

	"go-callgraph-refine/callgraph"
)

// SchemaVersion is the version of the serialized document format.
const SchemaVersion = "1"

// SiteRecord is a serialized call site.
type SiteRecord struct {
	PC        int    `json:"pc"`
	Kind      string `json:"kind"`
	Class     string `json:"class"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// NodeRecord is a serialized node and its recorded call sites.
type NodeRecord struct {
	ID        int          `json:"id"`
	Kind      string       `json:"kind"`
	Class     string       `json:"class"`
	Name      string       `json:"name"`
	Signature string       `json:"signature"`
	Context   string       `json:"context"`
	Sites     []SiteRecord `json:"sites,omitempty"`
}

// EdgeRecord is a serialized edge. Sites indexes the caller's Sites; an
// edge without sites was added without a call site.
type EdgeRecord struct {
	From  int   `json:"from"`
	To    int   `json:"to"`
	Sites []int `json:"sites,omitempty"`
}

// Document is the serializable form of a call graph.
type Document struct {
	SchemaVersion string       `json:"schema_version"`
	Nodes         []NodeRecord `json:"nodes"`
	Edges         []EdgeRecord `json:"edges"`
	Entrypoints   []int        `json:"entrypoints"`
}

// Encode serializes every node and edge visible through g.
func Encode(g callgraph.Graph) *Document {
	doc := &Document{SchemaVersion: SchemaVersion}
	siteIndex := make(map[int]map[callgraph.CallSite]int)

	for _, n := range g.Nodes() {
		ref := n.Unit.Ref()
		rec := NodeRecord{
			ID:        n.ID,
			Kind:      n.Kind.String(),
			Class:     ref.Class,
			Name:      ref.Name,
			Signature: ref.Signature,
			Context:   n.Context.String(),
		}
		idx := make(map[callgraph.CallSite]int)
		for i, s := range g.CallSites(n) {
			idx[s] = i
			rec.Sites = append(rec.Sites, SiteRecord{
				PC:        s.PC,
				Kind:      s.Kind.String(),
				Class:     s.Target.Class,
				Name:      s.Target.Name,
				Signature: s.Target.Signature,
			})
		}
		siteIndex[n.ID] = idx
		doc.Nodes = append(doc.Nodes, rec)
	}

	callgraph.VisitEdges(g, func(src, dst *callgraph.Node) error {
		e := EdgeRecord{From: src.ID, To: dst.ID}
		for _, s := range g.PossibleSites(src, dst) {
			e.Sites = append(e.Sites, siteIndex[src.ID][s])
		}
		doc.Edges = append(doc.Edges, e)
		return nil
	})

	for _, n := range g.EntrypointNodes() {
		doc.Entrypoints = append(doc.Entrypoints, n.ID)
	}
	return doc
}

func (r SiteRecord) site() (callgraph.CallSite, error) {
	kind, ok := callgraph.DispatchByName(r.Kind)
	if !ok {
		return callgraph.CallSite{}, fmt.Errorf("unknown dispatch kind %q", r.Kind)
	}
	return callgraph.CallSite{
		PC:     r.PC,
		Kind:   kind,
		Target: callgraph.MethodRef{Class: r.Class, Name: r.Name, Signature: r.Signature},
	}, nil
}

// Decode rebuilds a graph from doc. Units of the rebuilt graph are
// callgraph.Unit values. Ordinary nodes are renumbered in their original
// order, so numbers are preserved only if the source graph had no gaps.
func Decode(doc *Document) (*callgraph.Explicit, error) {
	if doc.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema %q", doc.SchemaVersion)
	}
	g := callgraph.NewExplicit()
	nodes := make(map[int]*callgraph.Node, len(doc.Nodes))
	sites := make(map[int][]callgraph.CallSite, len(doc.Nodes))

	for _, rec := range doc.Nodes {
		var n *callgraph.Node
		switch rec.Kind {
		case callgraph.KindFakeRoot.String():
			n = g.FakeRoot()
		case callgraph.KindFakeWorldClinit.String():
			n = g.FakeWorldClinit()
		default:
			var err error
			unit := callgraph.NewUnit(callgraph.MethodRef{Class: rec.Class, Name: rec.Name, Signature: rec.Signature})
			if n, err = g.FindOrCreateNode(unit, callgraph.ContextByName(rec.Context)); err != nil {
				return nil, err
			}
		}
		nodes[rec.ID] = n
		for _, sr := range rec.Sites {
			s, err := sr.site()
			if err != nil {
				return nil, fmt.Errorf("node %d: %w", rec.ID, err)
			}
			if err := g.RecordSite(n, s); err != nil {
				return nil, err
			}
			sites[rec.ID] = append(sites[rec.ID], s)
		}
	}

	for _, e := range doc.Edges {
		src, dst := nodes[e.From], nodes[e.To]
		if src == nil || dst == nil {
			return nil, fmt.Errorf("edge %d -> %d: %w", e.From, e.To, callgraph.ErrNodeNotFound)
		}
		if len(e.Sites) == 0 {
			if err := g.AddEdge(src, dst); err != nil {
				return nil, err
			}
			continue
		}
		for _, i := range e.Sites {
			if i < 0 || i >= len(sites[e.From]) {
				return nil, fmt.Errorf("edge %d -> %d: site %d out of range", e.From, e.To, i)
			}
			if err := g.AddCall(src, sites[e.From][i], dst); err != nil {
				return nil, err
			}
		}
	}

	for _, id := range doc.Entrypoints {
		n := nodes[id]
		if n == nil {
			return nil, fmt.Errorf("entrypoint %d: %w", id, callgraph.ErrNodeNotFound)
		}
		if err := g.RegisterEntrypoint(n); err != nil {
			return nil, err
		}
	}
	return g, nil
}
