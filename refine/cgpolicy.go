package refine

// AlwaysRefineCG refines every call site.
type AlwaysRefineCG struct{}

func (AlwaysRefineCG) ShouldRefine(CallerSite) bool { return true }
func (AlwaysRefineCG) NextPass() bool               { return false }

// NeverRefineCG refines no call site.
type NeverRefineCG struct{}

func (NeverRefineCG) ShouldRefine(CallerSite) bool { return false }
func (NeverRefineCG) NextPass() bool               { return false }
