package physics

import (
	"math"
	"sort"

	"scriptworld/internal/types"
)

// DefaultGravity matches the familiar studs-per-second² constant.
const DefaultGravity = 196.2

// groundY is the plane every unanchored body rests on.
const groundY = 0.0

// World is the built-in provider: axis-aligned boxes under constant
// gravity over an infinite ground plane. Entity counts per game are
// small, so the pair test is a plain O(n²) sweep.
type World struct {
	gravity float64
	bodies  map[uint64]*BodyState
	order   []uint64 // deterministic iteration
}

// NewWorld creates an empty world with default gravity.
func NewWorld() *World {
	return &World{
		gravity: DefaultGravity,
		bodies:  make(map[uint64]*BodyState),
	}
}

func (w *World) AddBody(id uint64, state BodyState) {
	if _, ok := w.bodies[id]; !ok {
		w.order = append(w.order, id)
	}
	s := state
	w.bodies[id] = &s
}

func (w *World) RemoveBody(id uint64) {
	if _, ok := w.bodies[id]; !ok {
		return
	}
	delete(w.bodies, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

func (w *World) SetBody(id uint64, state BodyState) {
	if b, ok := w.bodies[id]; ok {
		*b = state
	}
}

func (w *World) Body(id uint64) (BodyState, bool) {
	if b, ok := w.bodies[id]; ok {
		return *b, true
	}
	return BodyState{}, false
}

func (w *World) ApplyImpulse(id uint64, impulse types.Vector3) {
	if b, ok := w.bodies[id]; ok && !b.Anchored {
		b.Velocity = b.Velocity.Add(impulse)
	}
}

func (w *World) SetGravity(g float64) {
	w.gravity = g
}

// Step integrates unanchored bodies and returns the overlapping pairs.
func (w *World) Step(dt float64) []Contact {
	for _, id := range w.order {
		b := w.bodies[id]
		if b.Anchored {
			continue
		}
		b.Velocity.Y -= w.gravity * dt
		b.Position = b.Position.Add(b.Velocity.Scale(dt))

		// Ground plane: the box bottom may not sink below it.
		half := b.Size.Y / 2
		if b.Position.Y-half < groundY {
			b.Position.Y = groundY + half
			if b.Velocity.Y < 0 {
				b.Velocity.Y = 0
			}
		}
	}
	return w.contacts()
}

func (w *World) contacts() []Contact {
	var out []Contact
	for i := 0; i < len(w.order); i++ {
		a := w.bodies[w.order[i]]
		if !a.Collide {
			continue
		}
		for j := i + 1; j < len(w.order); j++ {
			b := w.bodies[w.order[j]]
			if !b.Collide {
				continue
			}
			if a.Anchored && b.Anchored {
				continue
			}
			if overlap(a, b) {
				lo, hi := w.order[i], w.order[j]
				if lo > hi {
					lo, hi = hi, lo
				}
				out = append(out, Contact{A: lo, B: hi})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func overlap(a, b *BodyState) bool {
	return math.Abs(a.Position.X-b.Position.X) <= (a.Size.X+b.Size.X)/2 &&
		math.Abs(a.Position.Y-b.Position.Y) <= (a.Size.Y+b.Size.Y)/2 &&
		math.Abs(a.Position.Z-b.Position.Z) <= (a.Size.Z+b.Size.Z)/2
}

// Raycast runs a slab test against every collidable box and returns the
// nearest hit within maxDist.
func (w *World) Raycast(origin, dir types.Vector3, maxDist float64, exclude []uint64) (Hit, bool) {
	dir = dir.Unit()
	if dir == (types.Vector3{}) || maxDist <= 0 {
		return Hit{}, false
	}
	skip := make(map[uint64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	best := Hit{Distance: math.Inf(1)}
	found := false
	for _, id := range w.order {
		if _, ok := skip[id]; ok {
			continue
		}
		b := w.bodies[id]
		if !b.Collide {
			continue
		}
		if dist, normal, ok := rayBox(origin, dir, b); ok && dist <= maxDist && dist < best.Distance {
			best = Hit{
				ID:       id,
				Position: origin.Add(dir.Scale(dist)),
				Normal:   normal,
				Distance: dist,
			}
			found = true
		}
	}
	if !found {
		return Hit{}, false
	}
	return best, true
}

// rayBox intersects a ray with an AABB, returning entry distance and the
// surface normal of the entered face.
func rayBox(origin, dir types.Vector3, b *BodyState) (float64, types.Vector3, bool) {
	min := b.Position.Sub(b.Size.Scale(0.5))
	max := b.Position.Add(b.Size.Scale(0.5))

	tmin := math.Inf(-1)
	tmax := math.Inf(1)
	var normal types.Vector3

	axes := []struct {
		o, d, lo, hi float64
		n            types.Vector3
	}{
		{origin.X, dir.X, min.X, max.X, types.Vector3{X: 1}},
		{origin.Y, dir.Y, min.Y, max.Y, types.Vector3{Y: 1}},
		{origin.Z, dir.Z, min.Z, max.Z, types.Vector3{Z: 1}},
	}
	for _, ax := range axes {
		if math.Abs(ax.d) < 1e-12 {
			if ax.o < ax.lo || ax.o > ax.hi {
				return 0, types.Vector3{}, false
			}
			continue
		}
		t1 := (ax.lo - ax.o) / ax.d
		t2 := (ax.hi - ax.o) / ax.d
		sign := 1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			sign = -1.0
		}
		if t1 > tmin {
			tmin = t1
			normal = ax.n.Scale(-sign)
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, types.Vector3{}, false
		}
	}
	if tmax < 0 {
		return 0, types.Vector3{}, false
	}
	if tmin < 0 {
		// Origin inside the box.
		tmin = 0
	}
	return tmin, normal, true
}
