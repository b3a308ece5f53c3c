package services

import (
	"scriptworld/internal/graph"
	"scriptworld/internal/physics"
	"scriptworld/internal/types"
)

// Workspace is the graph-root container service: it owns the spatial
// instance tree, the gravity scalar, and raycasts against the world.
type Workspace struct {
	g       *graph.Graph
	phys    physics.Provider
	gravity float64
}

func newWorkspace(g *graph.Graph, phys physics.Provider) *Workspace {
	return &Workspace{
		g:       g,
		phys:    phys,
		gravity: physics.DefaultGravity,
	}
}

func (w *Workspace) ServiceName() string { return "Workspace" }

// Root returns the graph's workspace root container.
func (w *Workspace) Root() graph.Handle { return w.g.Root() }

// Gravity returns the current downward acceleration.
func (w *Workspace) Gravity() float64 { return w.gravity }

// SetGravity updates the gravity scalar; the scheduler syncs it to the
// physics provider at the start of the next step.
func (w *Workspace) SetGravity(g float64) { w.gravity = g }

// ApplyImpulse adds an instantaneous velocity change to a part. The
// graph's velocity is the authoritative copy the scheduler mirrors into
// the physics step, so the impulse lands there; the live body is nudged
// too for callers querying it inside the same call-in. No-op on
// anchored parts.
func (w *Workspace) ApplyImpulse(h graph.Handle, impulse types.Vector3) error {
	part, err := w.g.Part(h)
	if err != nil {
		return err
	}
	if part.Anchored {
		return nil
	}
	part.Velocity = part.Velocity.Add(impulse)
	id, err := w.g.WireID(h)
	if err != nil {
		return err
	}
	w.phys.ApplyImpulse(id, impulse)
	return nil
}

// Raycast queries the physics provider and maps the hit back to a graph
// handle. The excluded handles filter their bodies out of the query.
func (w *Workspace) Raycast(origin, dir types.Vector3, maxDist float64, exclude []graph.Handle) (graph.Handle, physics.Hit, bool) {
	ids := make([]uint64, 0, len(exclude))
	for _, h := range exclude {
		if id, err := w.g.WireID(h); err == nil {
			ids = append(ids, id)
		}
	}
	hit, ok := w.phys.Raycast(origin, dir, maxDist, ids)
	if !ok {
		return graph.Handle{}, physics.Hit{}, false
	}
	h, ok := w.g.ByWireID(hit.ID)
	if !ok {
		return graph.Handle{}, physics.Hit{}, false
	}
	return h, hit, true
}
