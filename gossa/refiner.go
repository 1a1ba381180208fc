package gossa

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"log/slog"

	"golang.org/x/tools/container/intsets"
	toolscg "golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/vta"
	"golang.org/x/tools/go/ssa"

	"go-callgraph-refine/callgraph"
	"go-callgraph-refine/refine"
)

// ToolsGraph converts the ordinary nodes of g and the edges of their call
// instructions into an x/tools call graph.
func (p *Program) ToolsGraph(g callgraph.Graph) *toolscg.Graph {
	cg := toolscg.New(nil)
	for _, n := range g.Nodes() {
		fn, ok := Func(n.Unit)
		if !ok {
			continue
		}
		caller := cg.CreateNode(fn)
		for _, site := range g.CallSites(n) {
			call, ok := p.instrAt(fn, site.PC).(ssa.CallInstruction)
			if !ok {
				continue
			}
			for _, t := range g.PossibleTargets(n, site) {
				if callee, ok := Func(t.Unit); ok {
					toolscg.AddEdge(caller, call, cg.CreateNode(callee))
				}
			}
		}
	}
	return cg
}

type siteKey struct {
	caller int
	site   callgraph.CallSite
}

// Refiner narrows the dispatching call sites of a CHA graph to the callees
// variable type analysis finds. Which sites are narrowed is decided by a
// refinement policy: the call graph policy admits sites, and the field
// policy admits sites whose receiver was loaded from a field or from array
// contents.
type Refiner struct {
	p      *Program
	g      callgraph.Graph
	policy refine.Policy
	logger *slog.Logger

	callees  map[ssa.CallInstruction]map[any]bool
	analyzed map[*ssa.Function]bool
	narrowed map[siteKey]*intsets.Sparse
}

func NewRefiner(p *Program, g callgraph.Graph, policy refine.Policy, logger *slog.Logger) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{
		p:        p,
		g:        g,
		policy:   policy,
		logger:   logger,
		narrowed: make(map[siteKey]*intsets.Sparse),
	}
}

// calleeKey identifies a callee up to method wrappers: a method and the
// wrapper that calls it through a pointer receiver share a key.
func calleeKey(fn *ssa.Function) any {
	if obj := fn.Object(); obj != nil {
		return obj
	}
	return fn
}

func (r *Refiner) analyze() {
	funcs := make(map[*ssa.Function]bool)
	for _, n := range r.g.Nodes() {
		if fn, ok := Func(n.Unit); ok {
			funcs[fn] = true
		}
	}
	vg := vta.CallGraph(funcs, r.p.ToolsGraph(r.g))

	r.callees = make(map[ssa.CallInstruction]map[any]bool)
	r.analyzed = make(map[*ssa.Function]bool)
	for fn, node := range vg.Nodes {
		if fn == nil {
			continue
		}
		r.analyzed[fn] = true
		for _, e := range node.Out {
			if e.Site == nil {
				continue
			}
			set := r.callees[e.Site]
			if set == nil {
				set = make(map[any]bool)
				r.callees[e.Site] = set
			}
			set[calleeKey(e.Callee.Func)] = true
		}
	}
	r.logger.Debug("variable type analysis complete", "functions", len(funcs), "call_sites", len(r.callees))
}

// Query runs one refinement pass. It is satisfied when no site was
// declined by the field policy.
func (r *Refiner) Query(ctx context.Context, pass int, budget *refine.Budget) (bool, error) {
	if r.callees == nil {
		r.analyze()
	}
	fields := r.policy.FieldPolicy()
	calls := r.policy.CallGraphPolicy()

	satisfied := true
	narrowed := 0
	for _, n := range r.g.Nodes() {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %w", callgraph.ErrCancelled, err)
		}
		fn, ok := Func(n.Unit)
		if !ok {
			continue
		}
		for _, site := range r.g.CallSites(n) {
			if !site.Kind.IsDispatch() {
				continue
			}
			key := siteKey{n.ID, site}
			if _, done := r.narrowed[key]; done {
				continue
			}
			if !calls.ShouldRefine(refine.CallerSite{Caller: n, Site: site}) {
				continue
			}
			call, ok := r.p.instrAt(fn, site.PC).(ssa.CallInstruction)
			if !ok {
				continue
			}
			if field, base := fieldOrigin(call); field != nil &&
				!fields.ShouldRefine(field, base, call.Common().Value, call, nil) {
				satisfied = false
				sitesDeclined.Inc()
				continue
			}
			if err := budget.Charge(1); err != nil {
				r.logger.Debug("refinement pass out of budget", "pass", pass, "narrowed", narrowed)
				return false, err
			}
			r.narrowed[key] = r.narrow(n, fn, site, call)
			narrowed++
			sitesNarrowed.Inc()
		}
	}
	r.logger.Debug("refinement pass complete", "pass", pass, "narrowed", narrowed, "satisfied", satisfied)
	return satisfied, nil
}

func (r *Refiner) narrow(n *callgraph.Node, fn *ssa.Function, site callgraph.CallSite, call ssa.CallInstruction) *intsets.Sparse {
	keep := new(intsets.Sparse)
	targets := r.g.PossibleTargets(n, site)
	callees := r.callees[call]
	for _, t := range targets {
		tf, ok := Func(t.Unit)
		if !ok || !r.analyzed[fn] || callees[calleeKey(tf)] {
			keep.Insert(t.ID)
		}
	}
	return keep
}

// Refined returns the number of sites narrowed so far.
func (r *Refiner) Refined() int { return len(r.narrowed) }

// Overlay returns the edges to hide: src -> dst is hidden when every site
// of src that reaches dst was narrowed and none of them kept dst. Edges
// without call sites are never hidden.
func (r *Refiner) Overlay() map[int]*intsets.Sparse {
	out := make(map[int]*intsets.Sparse)
	callgraph.VisitEdges(r.g, func(src, dst *callgraph.Node) error {
		sites := r.g.PossibleSites(src, dst)
		if len(sites) == 0 {
			return nil
		}
		for _, s := range sites {
			keep, ok := r.narrowed[siteKey{src.ID, s}]
			if !ok || keep.Has(dst.ID) {
				return nil
			}
		}
		set, ok := out[src.ID]
		if !ok {
			set = new(intsets.Sparse)
			out[src.ID] = set
		}
		set.Insert(dst.ID)
		return nil
	})
	return out
}

// fieldOrigin returns the field the receiver or function value of call was
// loaded from, together with the base pointer, or nil if it was not loaded
// from memory.
func fieldOrigin(call ssa.CallInstruction) (*refine.Field, ssa.Value) {
	switch v := call.Common().Value.(type) {
	case *ssa.UnOp:
		if v.Op != token.MUL {
			return nil, nil
		}
		switch x := v.X.(type) {
		case *ssa.FieldAddr:
			return structField(x.X.Type(), x.Field), x.X
		case *ssa.IndexAddr:
			return refine.ArrayContents, x.X
		}
	case *ssa.Field:
		return structField(v.X.Type(), v.Field), v.X
	case *ssa.Index:
		return refine.ArrayContents, v.X
	case *ssa.Lookup:
		return refine.ArrayContents, v.X
	}
	return nil, nil
}

func structField(t types.Type, i int) *refine.Field {
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	st, ok := t.Underlying().(*types.Struct)
	if !ok || i >= st.NumFields() {
		return nil
	}
	return &refine.Field{DeclaringType: types.TypeString(t, nil), Name: st.Field(i).Name()}
}
