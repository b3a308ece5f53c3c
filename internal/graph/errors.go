package graph

import "errors"

// Graph operation failures are always returned to the caller, never
// panicked across the instance boundary.
var (
	// ErrDestroyed is returned for any operation on a handle whose
	// instance has been destroyed (or never existed).
	ErrDestroyed = errors.New("instance is destroyed")

	// ErrCycle is returned when a reparent would make an instance its own
	// ancestor.
	ErrCycle = errors.New("reparent would create a cycle")

	// ErrNotFound is returned when a named child lookup has no match.
	ErrNotFound = errors.New("no child with that name")

	// ErrWrongClass is returned when a class-specific property is
	// accessed on an instance of another class.
	ErrWrongClass = errors.New("property not defined for this class")
)
