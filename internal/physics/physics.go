// Package physics defines the stepping/raycast collaborator contract the
// engine consumes, plus a built-in rigid-body world that satisfies it.
// The engine treats the provider as a black box: bodies in, contacts and
// raycast hits out.
package physics

import "scriptworld/internal/types"

// BodyState mirrors the physical properties the engine syncs in and out
// of the provider each tick. IDs are the graph's wire ids.
type BodyState struct {
	Position types.Vector3
	Size     types.Vector3
	Velocity types.Vector3
	Anchored bool
	Collide  bool
}

// Contact reports one overlapping pair produced by a step. Pairs are
// unordered and emitted at most once per step (A < B).
type Contact struct {
	A uint64
	B uint64
}

// Hit is the nearest raycast intersection.
type Hit struct {
	ID       uint64
	Position types.Vector3
	Normal   types.Vector3
	Distance float64
}

// Provider is the stepping/raycast collaborator consumed by the tick
// scheduler. Implementations need not be safe for concurrent use; the
// owning scheduler goroutine is the only caller.
type Provider interface {
	AddBody(id uint64, state BodyState)
	RemoveBody(id uint64)
	SetBody(id uint64, state BodyState)
	Body(id uint64) (BodyState, bool)
	ApplyImpulse(id uint64, impulse types.Vector3)
	SetGravity(g float64)
	Step(dt float64) []Contact
	Raycast(origin, dir types.Vector3, maxDist float64, exclude []uint64) (Hit, bool)
}
