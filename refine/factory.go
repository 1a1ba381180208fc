package refine

import (
	"fmt"
	"slices"
)

// Policy names accepted by ByName.
const (
	PolicyTuned  = "tuned"
	PolicyManual = "manual"
	PolicyArrays = "arrays"
	PolicyAlways = "always"
	PolicyNone   = "none"
)

var policyNames = []string{PolicyTuned, PolicyManual, PolicyArrays, PolicyAlways, PolicyNone}

// PolicyNames returns the names ByName accepts.
func PolicyNames() []string { return slices.Clone(policyNames) }

// IsPolicyName reports whether ByName accepts name.
func IsPolicyName(name string) bool { return slices.Contains(policyNames, name) }

// SinglePass returns a factory of one-pass policies sharing the given
// sub-policies.
func SinglePass(fields FieldPolicy, calls CallGraphPolicy) Factory {
	return func() Policy {
		return NewComposite(fields, calls, SinglePassSchedule)
	}
}

// TunedFactory returns a factory of tuned policies that refine every call
// site.
func TunedFactory(hier Hierarchy) Factory {
	return func() Policy {
		return NewComposite(NewTuned(hier), AlwaysRefineCG{}, TunedSchedule)
	}
}

// ManualFactory returns a factory of manual policies that refine every call
// site.
func ManualFactory(include, exclude string) (Factory, error) {
	// Fail early on bad patterns; each policy compiles its own copy.
	if _, err := NewManual(include, exclude); err != nil {
		return nil, fmt.Errorf("refine: manual policy: %w", err)
	}
	return func() Policy {
		m, _ := NewManual(include, exclude)
		return NewComposite(m, AlwaysRefineCG{}, TunedSchedule)
	}, nil
}

// ByName returns the factory registered under name. include and exclude
// are only used by the manual policy; empty include selects the default
// patterns.
func ByName(name string, hier Hierarchy, include, exclude string) (Factory, error) {
	switch name {
	case PolicyTuned:
		return TunedFactory(hier), nil
	case PolicyManual:
		if include == "" {
			include, exclude = DefaultManualInclude, DefaultManualExclude
		}
		return ManualFactory(include, exclude)
	case PolicyArrays:
		return SinglePass(ArraysOnly{}, AlwaysRefineCG{}), nil
	case PolicyAlways:
		return SinglePass(AlwaysRefineFields{}, AlwaysRefineCG{}), nil
	case PolicyNone:
		return SinglePass(NeverRefineFields{}, NeverRefineCG{}), nil
	}
	return nil, fmt.Errorf("refine: unknown policy %q (want one of %v)", name, policyNames)
}
