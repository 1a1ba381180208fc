package callgraph

import "errors"

var (
	// ErrInvalidState is returned for structural edits of a frozen graph and
	// for removal of a synthetic root.
	ErrInvalidState = errors.New("callgraph: invalid graph state")

	// ErrNodeNotFound is returned when an edit names a node the graph does
	// not contain.
	ErrNodeNotFound = errors.New("callgraph: node not in graph")

	// ErrNilUnit is returned when a node is requested for a nil unit or
	// context.
	ErrNilUnit = errors.New("callgraph: nil code unit or context")

	// ErrCancelled wraps the context error of an analysis that was
	// cancelled. The partially built structures remain valid.
	ErrCancelled = errors.New("callgraph: analysis cancelled")
)
