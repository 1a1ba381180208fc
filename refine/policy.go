// Package refine decides which fields and call sites a demand-driven
// points-to analysis refines, and runs the pass loop that widens those
// decisions under a per-pass traversal budget.
package refine

import (
	"math"

	"go-callgraph-refine/callgraph"
)

// Field identifies an instance field by its declaring type.
type Field struct {
	DeclaringType string
	Name          string
}

func (f *Field) String() string { return f.DeclaringType + "." + f.Name }

// ArrayContents is the pseudo-field that stands for every element of an
// array, slice or map.
var ArrayContents = &Field{DeclaringType: "[]", Name: "contents"}

// IsArrayContents reports whether f denotes the array contents pseudo-field.
func (f *Field) IsArrayContents() bool {
	return f == ArrayContents || *f == *ArrayContents
}

// Opaque values of the points-to engine. Policies pass them through without
// inspecting them.
type (
	PointerKey any
	FlowLabel  any
	State      any
)

// CallerSite is a call site of a particular caller node.
type CallerSite struct {
	Caller *callgraph.Node
	Site   callgraph.CallSite
}

// Hierarchy is the part of the class hierarchy the tuned field policy uses.
type Hierarchy interface {
	IsLoaded(typeName string) bool
	// IsAssignable reports whether a value of type from may be stored in a
	// variable of type to.
	IsAssignable(from, to string) bool
}

// FieldPolicy decides whether a field access is refined precisely.
type FieldPolicy interface {
	// ShouldRefine panics if field is nil.
	ShouldRefine(field *Field, base, val PointerKey, label FlowLabel, st State) bool
	// NextPass widens the policy and reports whether anything changed.
	NextPass() bool
}

// CallGraphPolicy decides whether a call site's targets are refined.
type CallGraphPolicy interface {
	ShouldRefine(site CallerSite) bool
	NextPass() bool
}

// Policy is a complete refinement policy.
type Policy interface {
	FieldPolicy() FieldPolicy
	CallGraphPolicy() CallGraphPolicy
	NumPasses() int
	BudgetForPass(pass int) int
	// NextPass advances both sub-policies and reports whether either
	// changed.
	NextPass() bool
}

// Factory returns a fresh policy for each query.
type Factory func() Policy

// Schedule lists the traversal budget of each pass.
type Schedule []int

// BudgetForPass returns the budget of pass, or 0 outside the schedule.
func (s Schedule) BudgetForPass(pass int) int {
	if pass < 0 || pass >= len(s) {
		return 0
	}
	return s[pass]
}

var (
	// TunedSchedule is the budget schedule of the tuned and manual policies.
	TunedSchedule = Schedule{1000, 12000, 12000}
	// SinglePassSchedule runs one pass without a practical budget limit.
	SinglePassSchedule = Schedule{math.MaxInt}
)

// Composite pairs a field policy and a call graph policy with a schedule.
type Composite struct {
	fields   FieldPolicy
	calls    CallGraphPolicy
	schedule Schedule
}

var _ Policy = (*Composite)(nil)

func NewComposite(fields FieldPolicy, calls CallGraphPolicy, schedule Schedule) *Composite {
	return &Composite{fields: fields, calls: calls, schedule: schedule}
}

func (c *Composite) FieldPolicy() FieldPolicy         { return c.fields }
func (c *Composite) CallGraphPolicy() CallGraphPolicy { return c.calls }
func (c *Composite) NumPasses() int                   { return len(c.schedule) }
func (c *Composite) BudgetForPass(pass int) int       { return c.schedule.BudgetForPass(pass) }

// NextPass advances both sub-policies. Both are always advanced, even when
// the first already reports a change.
func (c *Composite) NextPass() bool {
	fieldsChanged := c.fields.NextPass()
	callsChanged := c.calls.NextPass()
	return fieldsChanged || callsChanged
}
