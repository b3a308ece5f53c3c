package engine

import (
	"scriptworld/internal/graph"
	"scriptworld/internal/physics"
)

// Advance runs one fixed simulation step. Strictly sequential per
// instance: step N+1 never starts before step N's callbacks, physics
// step, and deferred drains have fully completed.
func (gi *GameInstance) Advance(dt float64) {
	if gi.Status() == StatusFinished {
		return
	}

	// 1. Drain externally queued inputs, one call-in per input.
	for _, in := range gi.inputs.Drain() {
		gi.applyInput(in)
	}
	gi.graph.DrainDeferred()

	// 2. Pre-physics signal.
	gi.registry.RunService().Advance(dt)
	gi.registry.RunService().Stepped.Fire(dt)
	gi.host.Step(dt)

	// 3. Physics step over the mirrored part set.
	gi.syncBodiesIn()
	gi.phys.SetGravity(gi.registry.Workspace().Gravity())
	contacts := gi.phys.Step(dt)
	gi.syncBodiesOut()

	// 4. Collision call-ins, one per de-duplicated pair.
	for _, c := range contacts {
		a, okA := gi.graph.ByWireID(c.A)
		b, okB := gi.graph.ByWireID(c.B)
		if okA && okB {
			gi.host.Collision(a, b)
		}
	}

	// 5. Post-physics signal.
	gi.registry.RunService().Heartbeat.Fire(dt)

	// 6. Deferred graph events and completed async ops.
	gi.graph.DrainDeferred()
	gi.pending.Drain()

	tick := gi.tick.Add(1)
	if gi.cfg.BroadcastEvery > 0 && tick%uint64(gi.cfg.BroadcastEvery) == 0 {
		gi.publish(tick)
	}
}

func (gi *GameInstance) applyInput(in Input) {
	switch in.Op {
	case opJoin:
		name, _ := in.Payload["name"].(string)
		if name == "" {
			name = "Player"
		}
		if _, ok := gi.registry.Players().ByUserID(in.UserID); ok {
			return
		}
		gi.registry.Players().Add(in.UserID, name)
		if gi.Status() == StatusWaiting {
			gi.setStatus(StatusActive)
		}
	case opLeave:
		gi.registry.Players().Remove(in.UserID)
	default:
		player, ok := gi.registry.Players().ByUserID(in.UserID)
		if !ok {
			// The sender left between enqueue and drain; drop it.
			return
		}
		gi.host.DeliverInput(player, in.Kind, in.Payload)
	}
}

// syncBodiesIn mirrors every live part into the physics provider and
// removes bodies whose instances are gone.
func (gi *GameInstance) syncBodiesIn() {
	seen := make(map[uint64]struct{}, len(gi.bodies))
	for _, h := range gi.graph.LiveHandles() {
		class, err := gi.graph.ClassOf(h)
		if err != nil || class != graph.ClassPart {
			continue
		}
		part, err := gi.graph.Part(h)
		if err != nil {
			continue
		}
		id, _ := gi.graph.WireID(h)
		state := physics.BodyState{
			Position: part.Position,
			Size:     part.Size,
			Velocity: part.Velocity,
			Anchored: part.Anchored,
			Collide:  part.CanCollide,
		}
		if _, ok := gi.bodies[id]; ok {
			gi.phys.SetBody(id, state)
		} else {
			gi.phys.AddBody(id, state)
			gi.bodies[id] = struct{}{}
		}
		seen[id] = struct{}{}
	}
	for id := range gi.bodies {
		if _, ok := seen[id]; !ok {
			gi.phys.RemoveBody(id)
			delete(gi.bodies, id)
		}
	}
}

// syncBodiesOut writes integrated positions and velocities back to the
// graph. Anchored parts keep their script-authored transform.
func (gi *GameInstance) syncBodiesOut() {
	for id := range gi.bodies {
		state, ok := gi.phys.Body(id)
		if !ok {
			continue
		}
		h, ok := gi.graph.ByWireID(id)
		if !ok {
			continue
		}
		part, err := gi.graph.Part(h)
		if err != nil || part.Anchored {
			continue
		}
		part.Position = state.Position
		part.Velocity = state.Velocity
	}
}

// publish builds the broadcast snapshot and fans it out to spectators.
func (gi *GameInstance) publish(tick uint64) {
	snap := buildSnapshot(tick, gi.Status(), gi.graph, gi.registry)
	mapInfo := buildMap(gi.graph, gi.registry)

	gi.mu.Lock()
	gi.latest = snap
	gi.mapInfo = mapInfo
	for ch := range gi.watchers {
		select {
		case ch <- snap:
		default:
			// Slow consumer: skip the frame rather than stall the tick.
		}
	}
	gi.mu.Unlock()
}
