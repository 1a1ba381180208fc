// Package callgraph defines the numbered call graph shared by the closure
// builder, the refinement policies and the pruned views.
//
// A call graph node is a (code unit, context) pair. Within one graph a pair
// has exactly one node, and each node carries a number assigned at creation
// time that is never handed out again, even after the node is removed.
//
// The graph has two synthetic nodes: the fake root, whose call sites are the
// program's entrypoints, and the fake world-clinit node, whose call sites
// reach every modelled static initializer.
package callgraph

import "fmt"

// MethodRef is the declared signature a call site targets.
type MethodRef struct {
	Class     string // declaring class or package
	Name      string
	Signature string
}

func (r MethodRef) String() string {
	if r.Class == "" {
		return r.Name + r.Signature
	}
	return r.Class + "." + r.Name + r.Signature
}

// A CodeUnit is a method-like piece of analyzable code.
//
// Implementations must be comparable: graphs use code units as map keys.
type CodeUnit interface {
	Ref() MethodRef
	String() string
}

// Unit is a CodeUnit identified only by its reference. It backs the
// synthetic root units and graphs reloaded from a snapshot.
type Unit struct {
	ref MethodRef
}

// NewUnit returns the unit identified by ref.
func NewUnit(ref MethodRef) Unit { return Unit{ref: ref} }

func (u Unit) Ref() MethodRef { return u.ref }
func (u Unit) String() string { return u.ref.String() }

// Synthetic units of the two root nodes.
var (
	FakeRootUnit        = NewUnit(MethodRef{Class: "$synthetic", Name: "fakeRoot", Signature: "()"})
	FakeWorldClinitUnit = NewUnit(MethodRef{Class: "$synthetic", Name: "fakeWorldClinit", Signature: "()"})
)

// A Context distinguishes several analyses of the same code unit.
// Implementations must be comparable.
type Context interface {
	String() string
}

type everywhere struct{}

func (everywhere) String() string { return "Everywhere" }

// Everywhere is the single context used by context-insensitive analyses.
var Everywhere Context = everywhere{}

// NamedContext is a context known only by its name.
type NamedContext string

func (c NamedContext) String() string { return string(c) }

// ContextByName returns Everywhere for its own name and a NamedContext
// otherwise.
func ContextByName(name string) Context {
	if name == Everywhere.String() {
		return Everywhere
	}
	return NamedContext(name)
}

// Loader identifies the loader that declared a code unit.
type Loader string

const (
	LoaderApplication Loader = "Application"
	LoaderExtension   Loader = "Extension"
	LoaderPrimordial  Loader = "Primordial"
)

// Dispatch is the dispatch kind of a call site.
type Dispatch uint8

const (
	DispatchStatic Dispatch = iota
	DispatchSpecial
	DispatchVirtual
	DispatchInterface
	// DispatchDynamic marks a site that creates a function object
	// (a closure or lambda) rather than calling one directly.
	DispatchDynamic
)

var dispatchNames = [...]string{"static", "special", "virtual", "interface", "dynamic"}

func (d Dispatch) String() string {
	if int(d) < len(dispatchNames) {
		return dispatchNames[d]
	}
	return fmt.Sprintf("Dispatch(%d)", d)
}

// IsDispatch reports whether sites of this kind resolve to a set of
// overriding units rather than at most one.
func (d Dispatch) IsDispatch() bool {
	return d == DispatchVirtual || d == DispatchInterface
}

// DispatchByName is the inverse of Dispatch.String.
func DispatchByName(name string) (Dispatch, bool) {
	for i, n := range dispatchNames {
		if n == name {
			return Dispatch(i), true
		}
	}
	return 0, false
}

// A CallSite is a program point of a unit that may invoke other units.
type CallSite struct {
	PC     int
	Target MethodRef
	Kind   Dispatch
}

func (s CallSite) String() string {
	return fmt.Sprintf("%s@%d %s", s.Kind, s.PC, s.Target)
}

// NodeKind distinguishes ordinary nodes from the synthetic roots.
type NodeKind uint8

const (
	KindOrdinary NodeKind = iota
	KindFakeRoot
	KindFakeWorldClinit
)

func (k NodeKind) String() string {
	switch k {
	case KindFakeRoot:
		return "fake_root"
	case KindFakeWorldClinit:
		return "fake_world_clinit"
	default:
		return "ordinary"
	}
}

// A Node is a (code unit, context) pair of one graph.
type Node struct {
	ID      int
	Unit    CodeUnit
	Context Context
	Kind    NodeKind
}

func (n *Node) String() string {
	return fmt.Sprintf("n%d:%s<%s>", n.ID, n.Unit, n.Context)
}

// Graph is the query contract of a call graph.
type Graph interface {
	FakeRoot() *Node
	FakeWorldClinit() *Node
	EntrypointNodes() []*Node

	// Node returns the node numbered id, or nil.
	Node(id int) *Node
	// Lookup returns the node for (unit, ctx) without creating it.
	Lookup(unit CodeUnit, ctx Context) *Node
	NodesOf(unit CodeUnit) []*Node
	// Nodes returns the live nodes in number order.
	Nodes() []*Node
	NodeCount() int
	MaxID() int
	ContainsNode(n *Node) bool

	Succs(n *Node) []*Node
	Preds(n *Node) []*Node
	SuccCount(n *Node) int
	PredCount(n *Node) int
	HasEdge(src, dst *Node) bool

	// CallSites returns the sites recorded for n, including sites that
	// resolved to nothing.
	CallSites(n *Node) []CallSite
	PossibleTargets(n *Node, site CallSite) []*Node
	PossibleSites(src, dst *Node) []CallSite
}

// MutableGraph is a Graph that supports structural edits.
type MutableGraph interface {
	Graph
	FindOrCreateNode(unit CodeUnit, ctx Context) (*Node, error)
	AddEdge(src, dst *Node) error
	RemoveNode(n *Node) error
	RemoveEdge(src, dst *Node) error
}
