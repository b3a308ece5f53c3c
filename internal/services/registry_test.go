package services

import (
	"errors"
	"testing"

	"scriptworld/internal/graph"
	"scriptworld/internal/physics"
	"scriptworld/internal/types"
)

func testDeps() Deps {
	return Deps{
		Graph:   graph.New(),
		Physics: physics.NewWorld(),
		GameKey: "test",
	}
}

func TestServiceIdentityIsStable(t *testing.T) {
	r := NewRegistry(testDeps())
	a, err := r.GetOrCreate("Players")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.GetOrCreate("Players")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("repeated GetOrCreate returned a different handle")
	}
}

func TestUnknownServiceIsReported(t *testing.T) {
	r := NewRegistry(testDeps())
	if _, err := r.GetOrCreate("TeleportService"); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("lookup of undefined service = %v, want ErrUnknownService", err)
	}
}

func TestPlayersRosterAndSignals(t *testing.T) {
	deps := testDeps()
	r := NewRegistry(deps)
	players := r.Players()

	var added, removing int
	players.PlayerAdded.Connect(func(args ...any) { added++ })
	players.PlayerRemoving.Connect(func(args ...any) { removing++ })

	h := players.Add(1001, "agent-a")
	players.Add(1002, "agent-b")

	if players.Count() != 2 {
		t.Fatalf("roster size = %d, want 2", players.Count())
	}
	if added != 2 {
		t.Fatalf("PlayerAdded fired %d times, want 2", added)
	}
	got, ok := players.ByUserID(1001)
	if !ok || got != h {
		t.Fatal("ByUserID lookup failed")
	}

	if !players.Remove(1001) {
		t.Fatal("Remove returned false")
	}
	if removing != 1 {
		t.Fatalf("PlayerRemoving fired %d times, want 1", removing)
	}
	if deps.Graph.Valid(h) {
		t.Fatal("player instance survives removal")
	}
	if players.Count() != 1 {
		t.Fatalf("roster size after removal = %d, want 1", players.Count())
	}
}

func TestPlayerAddedOnceSeesOnlyFirstJoin(t *testing.T) {
	r := NewRegistry(testDeps())
	players := r.Players()

	var seen []uint64
	players.PlayerAdded.Once(func(args ...any) {
		h := args[0].(graph.Handle)
		props, err := r.deps.Graph.Player(h)
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, props.UserID)
	})

	players.Add(1, "first")
	players.Add(2, "second")

	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("once subscription saw %v, want only the first join", seen)
	}
}

func TestWorkspaceImpulseLandsInGraphVelocity(t *testing.T) {
	deps := testDeps()
	r := NewRegistry(deps)
	ws := r.Workspace()

	part := deps.Graph.Create(graph.ClassPart, "Ball")
	if err := ws.ApplyImpulse(part, types.NewVector3(10, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := ws.ApplyImpulse(part, types.NewVector3(5, 0, 0)); err != nil {
		t.Fatal(err)
	}
	props, _ := deps.Graph.Part(part)
	if props.Velocity.X != 15 {
		t.Fatalf("velocity X = %v, want impulses accumulated on the part", props.Velocity.X)
	}

	anchored := deps.Graph.Create(graph.ClassPart, "Wall")
	ap, _ := deps.Graph.Part(anchored)
	ap.Anchored = true
	if err := ws.ApplyImpulse(anchored, types.NewVector3(10, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if ap.Velocity.X != 0 {
		t.Fatalf("anchored velocity X = %v, want 0", ap.Velocity.X)
	}
}

func TestRemoteEventsQueueAndDrain(t *testing.T) {
	r := NewRegistry(testDeps())
	re := r.RemoteEvents()

	re.FireAllClients("round_start", map[string]any{"round": 1}, true)
	re.FireAllClients("", nil, true) // nameless events are dropped
	re.FireAllClients("fx", nil, false)

	if re.QueuedCount() != 2 {
		t.Fatalf("queued = %d, want 2", re.QueuedCount())
	}
	events := re.Drain()
	if len(events) != 2 || events[0].Name != "round_start" || events[1].Name != "fx" {
		t.Fatalf("events = %+v, want fire order preserved", events)
	}
	if !events[0].Reliable || events[1].Reliable {
		t.Fatalf("reliability flags = %+v", events)
	}
	if re.QueuedCount() != 0 || len(re.Drain()) != 0 {
		t.Fatal("queue not cleared by drain")
	}
}

func TestWorkspaceRaycastMapsHitToHandle(t *testing.T) {
	deps := testDeps()
	r := NewRegistry(deps)
	ws := r.Workspace()

	part := deps.Graph.Create(graph.ClassPart, "Wall")
	if err := deps.Graph.SetParent(part, deps.Graph.Root()); err != nil {
		t.Fatal(err)
	}
	id, _ := deps.Graph.WireID(part)
	deps.Physics.AddBody(id, physics.BodyState{
		Position: types.NewVector3(10, 0, 0),
		Size:     types.NewVector3(2, 4, 4),
		Anchored: true,
		Collide:  true,
	})

	hitHandle, hit, ok := ws.Raycast(types.NewVector3(0, 0, 0), types.NewVector3(1, 0, 0), 50, nil)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hitHandle != part {
		t.Fatal("hit not mapped back to graph handle")
	}
	if hit.Distance <= 0 {
		t.Fatalf("hit distance = %v", hit.Distance)
	}

	if _, _, ok := ws.Raycast(types.NewVector3(0, 0, 0), types.NewVector3(1, 0, 0), 50, []graph.Handle{part}); ok {
		t.Fatal("excluded instance still hit")
	}
}
