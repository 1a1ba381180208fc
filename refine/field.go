package refine

import (
	"regexp"
	"slices"
	"strings"
)

func mustField(field *Field) {
	if field == nil {
		panic("refine: nil field")
	}
}

// ArraysOnly refines array contents and nothing else.
type ArraysOnly struct{}

func (ArraysOnly) ShouldRefine(field *Field, _, _ PointerKey, _ FlowLabel, _ State) bool {
	mustField(field)
	return field.IsArrayContents()
}

func (ArraysOnly) NextPass() bool { return false }

// AlwaysRefineFields refines every field.
type AlwaysRefineFields struct{}

func (AlwaysRefineFields) ShouldRefine(field *Field, _, _ PointerKey, _ FlowLabel, _ State) bool {
	mustField(field)
	return true
}

func (AlwaysRefineFields) NextPass() bool { return false }

// NeverRefineFields refines nothing.
type NeverRefineFields struct{}

func (NeverRefineFields) ShouldRefine(field *Field, _, _ PointerKey, _ FlowLabel, _ State) bool {
	mustField(field)
	return false
}

func (NeverRefineFields) NextPass() bool { return false }

// Default patterns of the manual field policy.
const (
	DefaultManualInclude = `^container/`
	DefaultManualExclude = ``
)

// Decision records one answer of a manual field policy.
type Decision struct {
	Field   Field
	Refined bool
}

// Manual refines the fields whose declaring type matches include and does
// not match exclude. An empty exclude pattern excludes nothing.
type Manual struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
	history []Decision
}

// NewManual compiles the include and exclude patterns.
func NewManual(include, exclude string) (*Manual, error) {
	in, err := regexp.Compile(include)
	if err != nil {
		return nil, err
	}
	m := &Manual{include: in}
	if exclude != "" {
		if m.exclude, err = regexp.Compile(exclude); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manual) ShouldRefine(field *Field, _, _ PointerKey, _ FlowLabel, _ State) bool {
	mustField(field)
	refined := m.include.MatchString(field.DeclaringType) &&
		(m.exclude == nil || !m.exclude.MatchString(field.DeclaringType))
	m.history = append(m.history, Decision{Field: *field, Refined: refined})
	return refined
}

func (m *Manual) NextPass() bool { return false }

// History returns every decision made so far, oldest first.
func (m *Manual) History() []Decision { return slices.Clone(m.history) }

// TunedState is the refine-set of a tuned field policy together with the
// first type it declined since the last widening. Widen returns a new state;
// the receiver is never modified.
type TunedState struct {
	refine     []string
	skipped    string
	hasSkipped bool
}

// Types returns the refine-set in insertion order.
func (s TunedState) Types() []string { return slices.Clone(s.refine) }

func (s TunedState) Contains(typeName string) bool { return slices.Contains(s.refine, typeName) }

// Skipped returns the first type declined since the last widening.
func (s TunedState) Skipped() (string, bool) { return s.skipped, s.hasSkipped }

func (s TunedState) skip(typeName string) TunedState {
	if s.hasSkipped {
		return s
	}
	s.skipped, s.hasSkipped = typeName, true
	return s
}

// Widen moves the skipped type, if any, into the refine-set. It reports
// whether the refine-set grew.
func (s TunedState) Widen() (TunedState, bool) {
	if !s.hasSkipped {
		return s, false
	}
	next := TunedState{refine: slices.Clone(s.refine)}
	if slices.Contains(next.refine, s.skipped) {
		return next, false
	}
	next.refine = append(next.refine, s.skipped)
	return next, true
}

// Tuned refines array contents from the first pass and widens to one more
// type hierarchy on each later pass: the first declined type is admitted
// together with every type assignable to or from it.
type Tuned struct {
	hier  Hierarchy
	state TunedState
}

func NewTuned(hier Hierarchy) *Tuned { return &Tuned{hier: hier} }

func (t *Tuned) ShouldRefine(field *Field, _, _ PointerKey, _ FlowLabel, _ State) bool {
	mustField(field)
	if field.IsArrayContents() {
		return true
	}
	typeName := t.outermost(field.DeclaringType)
	for _, r := range t.state.refine {
		if t.hier.IsAssignable(typeName, r) || t.hier.IsAssignable(r, typeName) {
			return true
		}
	}
	t.state = t.state.skip(typeName)
	return false
}

func (t *Tuned) NextPass() bool {
	next, grew := t.state.Widen()
	t.state = next
	return grew
}

// State returns the current widening state.
func (t *Tuned) State() TunedState { return t.state }

// outermost maps an inner type name such as "pkg.Outer$Inner" to its outer
// type when the outer type is loaded.
func (t *Tuned) outermost(typeName string) string {
	i := strings.IndexByte(typeName, '$')
	if i < 0 {
		return typeName
	}
	if outer := typeName[:i]; t.hier.IsLoaded(outer) {
		return outer
	}
	return typeName
}
