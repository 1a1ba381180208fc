// Package cha computes a call graph by class hierarchy analysis: every
// dispatching call site may reach every relevant override of its declared
// target.
package cha

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"go-callgraph-refine/callgraph"
)

// Hierarchy answers the class hierarchy questions the closure needs.
type Hierarchy interface {
	// ResolveSingle returns the unit a non-dispatching call to target
	// invokes.
	ResolveSingle(target callgraph.MethodRef) (callgraph.CodeUnit, bool)
	// ResolveVirtual returns every unit that may override target.
	ResolveVirtual(target callgraph.MethodRef) []callgraph.CodeUnit
	IsAbstract(u callgraph.CodeUnit) bool
	DeclaringLoader(u callgraph.CodeUnit) callgraph.Loader
	// ClassInitializer returns the static initializer of the class that
	// declares u, if it has one.
	ClassInitializer(u callgraph.CodeUnit) (callgraph.CodeUnit, bool)
}

// Interpreter enumerates the call sites of a node's code.
type Interpreter interface {
	CallSites(n *callgraph.Node) []callgraph.CallSite
	// SynthesizeWrapper returns the unit that stands for the function
	// object created at a dynamic-creation site.
	SynthesizeWrapper(n *callgraph.Node, site callgraph.CallSite) (callgraph.CodeUnit, bool)
}

const tracerName = "go-callgraph-refine/callgraph/cha"

// Options configures a Builder.
type Options struct {
	// ApplicationOnly restricts the closure to units declared by the
	// application loader.
	ApplicationOnly bool
	Logger          *slog.Logger
}

// An Option sets a Builder option.
type Option func(*Options)

func WithApplicationOnly(only bool) Option {
	return func(o *Options) { o.ApplicationOnly = only }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Builder computes the CHA closure from a set of entrypoints.
type Builder struct {
	hier   Hierarchy
	interp Interpreter
	opts   Options
}

func NewBuilder(hier Hierarchy, interp Interpreter, opts ...Option) *Builder {
	b := &Builder{hier: hier, interp: interp, opts: Options{Logger: slog.Default()}}
	for _, o := range opts {
		o(&b.opts)
	}
	return b
}

type targetKey struct {
	target callgraph.MethodRef
	kind   callgraph.Dispatch
}

type wrapperKey struct {
	node int
	site callgraph.CallSite
}

type wrapperResult struct {
	unit callgraph.CodeUnit
	ok   bool
}

// closure is the state of one Build call.
type closure struct {
	*Builder
	g        *callgraph.Explicit
	worklist []*callgraph.Node
	targets  map[targetKey][]callgraph.CodeUnit
	wrappers map[wrapperKey]wrapperResult
	clinitPC int
	pops     int
}

// Build computes the call graph reachable from entrypoints. Entrypoint i
// becomes a call site of the fake root at program counter i.
//
// If ctx is cancelled, Build stops before the next worklist item and
// returns the partial graph with an error wrapping callgraph.ErrCancelled.
func (b *Builder) Build(ctx context.Context, entrypoints []callgraph.CodeUnit) (*callgraph.Explicit, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cha.Builder.Build",
		trace.WithAttributes(attribute.Int("entrypoints", len(entrypoints))))
	defer span.End()
	start := time.Now()

	c := &closure{
		Builder:  b,
		g:        callgraph.NewExplicit(),
		targets:  make(map[targetKey][]callgraph.CodeUnit),
		wrappers: make(map[wrapperKey]wrapperResult),
	}
	err := c.run(ctx, entrypoints)

	nodes, edges := c.g.NodeCount(), c.g.EdgeCount()
	span.SetAttributes(attribute.Int("nodes", nodes), attribute.Int("edges", edges))
	buildDuration.Observe(time.Since(start).Seconds())
	edgesTotal.Add(float64(edges))

	switch {
	case err == nil:
		buildsTotal.WithLabelValues("complete").Inc()
		b.opts.Logger.Info("call graph closure complete",
			"nodes", nodes, "edges", edges, "worklist_pops", c.pops, "duration", time.Since(start))
	case ctx.Err() != nil:
		buildsTotal.WithLabelValues("cancelled").Inc()
		span.SetAttributes(attribute.Bool("cancelled", true))
		b.opts.Logger.Warn("call graph closure cancelled", "nodes", nodes, "edges", edges)
	default:
		buildsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
	}
	return c.g, err
}

func (c *closure) run(ctx context.Context, entrypoints []callgraph.CodeUnit) error {
	root := c.g.FakeRoot()
	for i, e := range entrypoints {
		site := callgraph.CallSite{PC: i, Target: e.Ref(), Kind: callgraph.DispatchSpecial}
		if err := c.g.RecordSite(root, site); err != nil {
			return err
		}
	}
	c.worklist = append(c.worklist, root)

	for len(c.worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", callgraph.ErrCancelled, err)
		}
		n := c.worklist[len(c.worklist)-1]
		c.worklist = c.worklist[:len(c.worklist)-1]
		c.pops++
		worklistPops.Inc()

		for _, site := range c.sitesOf(n) {
			if err := c.visitSite(n, site); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *closure) sitesOf(n *callgraph.Node) []callgraph.CallSite {
	if n == c.g.FakeRoot() {
		return c.g.CallSites(n)
	}
	if n.Kind != callgraph.KindOrdinary {
		return nil
	}
	return c.interp.CallSites(n)
}

func (c *closure) visitSite(n *callgraph.Node, site callgraph.CallSite) error {
	if err := c.g.RecordSite(n, site); err != nil {
		return err
	}
	if site.Kind == callgraph.DispatchDynamic {
		u, ok := c.wrapper(n, site)
		if !ok || !c.relevant(u) {
			return nil
		}
		return c.link(n, site, u)
	}
	for _, u := range c.resolve(site) {
		if !c.relevant(u) {
			continue
		}
		if err := c.link(n, site, u); err != nil {
			return err
		}
	}
	return nil
}

// resolve returns the candidate targets of site. Results are shared by all
// sites with the same declared target and dispatch kind.
func (c *closure) resolve(site callgraph.CallSite) []callgraph.CodeUnit {
	key := targetKey{site.Target, site.Kind}
	if ts, ok := c.targets[key]; ok {
		return ts
	}
	var ts []callgraph.CodeUnit
	if site.Kind.IsDispatch() {
		ts = c.hier.ResolveVirtual(site.Target)
	} else if u, ok := c.hier.ResolveSingle(site.Target); ok {
		ts = []callgraph.CodeUnit{u}
	}
	c.targets[key] = ts
	return ts
}

func (c *closure) wrapper(n *callgraph.Node, site callgraph.CallSite) (callgraph.CodeUnit, bool) {
	key := wrapperKey{n.ID, site}
	if r, ok := c.wrappers[key]; ok {
		return r.unit, r.ok
	}
	u, ok := c.interp.SynthesizeWrapper(n, site)
	c.wrappers[key] = wrapperResult{u, ok}
	return u, ok
}

func (c *closure) relevant(u callgraph.CodeUnit) bool {
	if c.hier.IsAbstract(u) {
		return false
	}
	if c.opts.ApplicationOnly && c.hier.DeclaringLoader(u) != callgraph.LoaderApplication {
		return false
	}
	return true
}

func (c *closure) link(n *callgraph.Node, site callgraph.CallSite, u callgraph.CodeUnit) error {
	callee := c.g.Lookup(u, callgraph.Everywhere)
	if callee == nil {
		var err error
		if callee, err = c.newNode(u); err != nil {
			return err
		}
	}
	if n == c.g.FakeRoot() {
		if err := c.g.RegisterEntrypoint(callee); err != nil {
			return err
		}
	}
	return c.g.AddCall(n, site, callee)
}

// newNode creates the node for u, queues it, and links the initializer of
// its declaring class from the fake world-clinit node the first time that
// class is seen.
func (c *closure) newNode(u callgraph.CodeUnit) (*callgraph.Node, error) {
	n, err := c.g.FindOrCreateNode(u, callgraph.Everywhere)
	if err != nil {
		return nil, err
	}
	nodesCreated.Inc()
	c.worklist = append(c.worklist, n)

	clinit, ok := c.hier.ClassInitializer(u)
	if !ok || c.g.Lookup(clinit, callgraph.Everywhere) != nil {
		return n, nil
	}
	in, err := c.g.FindOrCreateNode(clinit, callgraph.Everywhere)
	if err != nil {
		return nil, err
	}
	nodesCreated.Inc()
	clinitEdges.Inc()
	c.worklist = append(c.worklist, in)
	site := callgraph.CallSite{PC: c.clinitPC, Target: clinit.Ref(), Kind: callgraph.DispatchStatic}
	c.clinitPC++
	if err := c.g.AddCall(c.g.FakeWorldClinit(), site, in); err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("class initializer linked", "initializer", clinit.String())
	return n, nil
}
