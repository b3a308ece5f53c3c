package engine

import (
	"encoding/json"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"scriptworld/internal/scripting"
	"scriptworld/internal/services"
)

type memStore struct {
	mu sync.Mutex
	kv map[string]string
}

func newMemStore() *memStore { return &memStore{kv: make(map[string]string)} }

func (m *memStore) GetValue(store, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[store+"|"+key]
	return v, ok, nil
}

func (m *memStore) SetValue(store, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[store+"|"+key] = value
	return nil
}

func (m *memStore) Increment(store, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _ := strconv.ParseFloat(m.kv[store+"|"+key], 64)
	next := cur + delta
	m.kv[store+"|"+key] = strconv.FormatFloat(next, 'f', -1, 64)
	return next, nil
}

func (m *memStore) SubmitScore(store, member string, score string) error { return nil }

func (m *memStore) TopScores(store string, limit int) ([]services.ScoreEntry, error) {
	return nil, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BroadcastEvery = 1
	return cfg
}

func newTestInstance(t *testing.T, source string) *GameInstance {
	t.Helper()
	inst := NewGameInstance("test", newMemStore(), testConfig())
	if err := inst.Load([]scripting.Module{{Name: "main", Source: source}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	return inst
}

const dt = 1.0 / 60

func TestFallingPartsSettle(t *testing.T) {
	inst := newTestInstance(t, `
		var ws = game.GetService("Workspace");
		function drop(name, x) {
			var p = Instance.new("Part", name);
			p.SetParent(ws.Root());
			p.Set("Position", Vector3.new(x, 20, 0));
			p.Set("Size", Vector3.new(2, 2, 2));
		}
		drop("A", 0);
		drop("B", 10);
	`)

	g := inst.graph
	a, err := g.FindChild(g.Root(), "A", false)
	if err != nil {
		t.Fatalf("find A: %v", err)
	}
	prevY := 20.0
	settledAt := -1
	for i := 0; i < 120; i++ {
		inst.Advance(dt)
		part, err := g.Part(a)
		if err != nil {
			t.Fatalf("part A: %v", err)
		}
		y := part.Position.Y
		if settledAt < 0 {
			if y >= prevY {
				// Must have reached the ground; Y never increases.
				if y != prevY {
					t.Fatalf("tick %d: y rose from %v to %v", i, prevY, y)
				}
				settledAt = i
			}
			prevY = y
		} else if y != prevY {
			t.Fatalf("tick %d: moved after settling (%v -> %v)", i, prevY, y)
		}
	}
	if settledAt < 0 {
		t.Fatal("part never reached the ground in 120 ticks")
	}
	if prevY != 1 {
		t.Fatalf("rest height = %v, want 1 (half of size 2 above ground)", prevY)
	}

	b, _ := g.FindChild(g.Root(), "B", false)
	partB, _ := g.Part(b)
	if partB.Position.Y != 1 {
		t.Fatalf("part B rest height = %v, want 1", partB.Position.Y)
	}
}

func TestAnchoredPartHolds(t *testing.T) {
	inst := newTestInstance(t, `
		var p = Instance.new("Part", "Fixed");
		p.SetParent(game.GetService("Workspace").Root());
		p.Set("Position", Vector3.new(0, 15, 0));
		p.Set("Anchored", true);
	`)
	for i := 0; i < 30; i++ {
		inst.Advance(dt)
	}
	g := inst.graph
	h, _ := g.FindChild(g.Root(), "Fixed", false)
	part, _ := g.Part(h)
	if part.Position.Y != 15 {
		t.Fatalf("anchored part moved to y=%v", part.Position.Y)
	}
}

func TestScriptImpulseMovesPart(t *testing.T) {
	inst := newTestInstance(t, `
		var ws = game.GetService("Workspace");
		var ball = Instance.new("Part", "Ball");
		ball.SetParent(ws.Root());
		ball.Set("Position", Vector3.new(0, 1, 0));
		ball.Set("Size", Vector3.new(2, 2, 2));
		var kicked = false;
		game.GetService("RunService").Heartbeat.Connect(function() {
			if (!kicked) {
				kicked = true;
				ws.ApplyImpulse(ball, Vector3.new(50, 0, 0));
			}
		});
	`)
	for i := 0; i < 10; i++ {
		inst.Advance(dt)
	}
	g := inst.graph
	h, err := g.FindChild(g.Root(), "Ball", false)
	if err != nil {
		t.Fatalf("find Ball: %v", err)
	}
	part, _ := g.Part(h)
	if part.Velocity.X != 50 {
		t.Fatalf("velocity X = %v, want the impulse to survive the body sync", part.Velocity.X)
	}
	if part.Position.X < 5 {
		t.Fatalf("position X = %v, impulse never reached the physics step", part.Position.X)
	}
}

func TestOneShotPlayerAdded(t *testing.T) {
	inst := newTestInstance(t, `
		game.GetService("Players").PlayerAdded.Once(function(p) {
			print("first", p.Get("UserId"));
		});
	`)
	inst.Join(1, "alice")
	inst.Join(2, "bob")
	inst.Advance(dt)
	inst.Advance(dt)

	logs := inst.Logs()
	if len(logs) != 1 || logs[0].Message != "first 1" {
		t.Fatalf("logs = %+v, want exactly one callback for the first join", logs)
	}
	if inst.registry.Players().Count() != 2 {
		t.Fatalf("roster = %d, want 2", inst.registry.Players().Count())
	}
}

func TestUnrecognizedInputDelivered(t *testing.T) {
	inst := newTestInstance(t, `
		game.GetService("AgentInputService").InputReceived.Connect(function(player, kind, payload) {
			print(kind, payload.x);
		});
	`)
	inst.Join(1, "alice")
	inst.Advance(dt)

	if !inst.EnqueueInput(Input{UserID: 1, Kind: "definitely_not_a_kind", Payload: map[string]any{"x": "y"}}) {
		t.Fatal("enqueue rejected")
	}
	inst.Advance(dt)

	logs := inst.Logs()
	if len(logs) != 1 || logs[0].Message != "definitely_not_a_kind y" {
		t.Fatalf("logs = %+v, want the unrecognized input delivered once", logs)
	}
	if inst.ScriptErrors() != 0 {
		t.Fatalf("script errors = %d, want 0", inst.ScriptErrors())
	}
}

func TestUnderscoreKindsAreNotEngineOps(t *testing.T) {
	inst := newTestInstance(t, `
		game.GetService("AgentInputService").InputReceived.Connect(function(player, kind) {
			print("got", kind);
		});
	`)
	inst.Join(5, "eve")
	inst.Advance(dt)

	// Kind strings that look like internal ops still belong to the
	// script's vocabulary and pass through opaquely.
	inst.EnqueueInput(Input{UserID: 5, Kind: "__join"})
	inst.EnqueueInput(Input{UserID: 5, Kind: "__leave"})
	inst.Advance(dt)

	logs := inst.Logs()
	if len(logs) != 2 || logs[0].Message != "got __join" || logs[1].Message != "got __leave" {
		t.Fatalf("logs = %+v, want both kinds delivered to the script", logs)
	}
	if inst.registry.Players().Count() != 1 {
		t.Fatalf("roster = %d, external input mutated the roster", inst.registry.Players().Count())
	}
}

func TestInputForDepartedPlayerDropped(t *testing.T) {
	inst := newTestInstance(t, `
		game.GetService("AgentInputService").InputReceived.Connect(function() { print("input"); });
	`)
	inst.EnqueueInput(Input{UserID: 99, Kind: "move", Payload: nil})
	inst.Advance(dt)
	if len(inst.Logs()) != 0 {
		t.Fatalf("input for unknown player was delivered: %+v", inst.Logs())
	}
}

func TestStatusTransitions(t *testing.T) {
	inst := newTestInstance(t, ``)
	if inst.Status() != StatusWaiting {
		t.Fatalf("status = %s, want waiting", inst.Status())
	}
	inst.Join(1, "alice")
	inst.Advance(dt)
	if inst.Status() != StatusActive {
		t.Fatalf("status = %s, want active", inst.Status())
	}
	inst.Shutdown()
	if inst.Status() != StatusFinished {
		t.Fatalf("status = %s, want finished", inst.Status())
	}
	if inst.EnqueueInput(Input{UserID: 1, Kind: "move"}) {
		t.Fatal("finished instance accepted input")
	}
}

func TestCollisionCallbackOncePerPair(t *testing.T) {
	inst := newTestInstance(t, `
		var ws = game.GetService("Workspace");
		function brick(name, y) {
			var p = Instance.new("Part", name);
			p.SetParent(ws.Root());
			p.Set("Position", Vector3.new(0, y, 0));
			p.Set("Size", Vector3.new(2, 2, 2));
			p.Set("Anchored", true);
			return p;
		}
		var a = brick("A", 1);
		var b = brick("B", 2);
		b.Set("Anchored", false);
		a.Signal("Touched").Connect(function(other) { print("A:" + other.GetName()); });
		b.Signal("Touched").Connect(function(other) { print("B:" + other.GetName()); });
	`)
	// Overlapping from the start: one contact pair per step.
	inst.Advance(dt)
	logs := inst.Logs()
	if len(logs) != 2 {
		t.Fatalf("logs = %+v, want one Touched per side for one pair", logs)
	}
	if logs[0].Message != "A:B" || logs[1].Message != "B:A" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestSnapshotOrderAndShape(t *testing.T) {
	inst := newTestInstance(t, `
		var ws = game.GetService("Workspace");
		function brick(name) {
			var p = Instance.new("Part", name);
			p.SetParent(ws.Root());
			p.Set("Anchored", true);
			return p;
		}
		var a = brick("First");
		var b = brick("Second");
		b.SetAttribute("kind", "door");
		var hidden = brick("Ghost");
		hidden.AddTag("HiddenFromObservation");
	`)
	inst.Advance(dt)

	snap := inst.Snapshot()
	if snap.Tick != 1 {
		t.Fatalf("tick = %d, want 1", snap.Tick)
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("entities = %d, want 2 (hidden excluded)", len(snap.Entities))
	}
	if snap.Entities[0].ID >= snap.Entities[1].ID {
		t.Fatalf("ids not ascending: %d, %d", snap.Entities[0].ID, snap.Entities[1].ID)
	}
	if snap.Entities[0].Name != "First" || snap.Entities[1].Name != "Second" {
		t.Fatalf("entities = %+v", snap.Entities)
	}
	if snap.Entities[0].Rotation != nil {
		t.Fatal("identity rotation must be omitted")
	}
	if snap.Entities[0].Render.Shape != "Block" || snap.Entities[0].Render.Material != "Plastic" {
		t.Fatalf("render = %+v", snap.Entities[0].Render)
	}
	if snap.Entities[1].Attributes["kind"].Str() != "door" {
		t.Fatalf("attributes = %+v", snap.Entities[1].Attributes)
	}

	// Wire shape: rotation absent, attributes present only when set.
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	entities := decoded["entities"].([]any)
	first := entities[0].(map[string]any)
	if _, ok := first["rotation"]; ok {
		t.Fatal("rotation key present for identity rotation")
	}
}

func TestSnapshotPlayers(t *testing.T) {
	inst := newTestInstance(t, `
		game.GetService("Players").PlayerAdded.Connect(function(p) {
			var char = Instance.new("Part", p.GetName() + "Body");
			char.SetParent(game.GetService("Workspace").Root());
			char.Set("Position", Vector3.new(5, 3, 5));
			char.Set("Anchored", true);
			var hum = Instance.new("Humanoid");
			hum.SetParent(char);
			hum.Set("Health", 70);
			p.Set("Character", char);
			p.SetAttribute("team", "red");
		});
	`)
	inst.Join(7, "alice")
	inst.Advance(dt)

	snap := inst.Snapshot()
	if len(snap.Players) != 1 {
		t.Fatalf("players = %+v, want 1", snap.Players)
	}
	p := snap.Players[0]
	if p.UserID != 7 || p.Name != "alice" {
		t.Fatalf("player = %+v", p)
	}
	if p.Position != [3]float64{5, 3, 5} {
		t.Fatalf("position = %v", p.Position)
	}
	if p.Health != 70 {
		t.Fatalf("health = %v, want 70", p.Health)
	}
	if p.Attributes["team"].Str() != "red" {
		t.Fatalf("attributes = %+v", p.Attributes)
	}
}

func TestStaticMapSplit(t *testing.T) {
	inst := newTestInstance(t, `
		var ws = game.GetService("Workspace");
		var floor = Instance.new("Part", "Floor");
		floor.SetParent(ws.Root());
		floor.Set("Anchored", true);
		floor.AddTag("Static");
		var crate = Instance.new("Part", "Crate");
		crate.SetParent(ws.Root());
		crate.Set("Anchored", true);
	`)
	inst.Advance(dt)

	snap := inst.Snapshot()
	if len(snap.Entities) != 1 || snap.Entities[0].Name != "Crate" {
		t.Fatalf("dynamic entities = %+v, want only Crate", snap.Entities)
	}
	m := inst.Map()
	if len(m.Entities) != 1 || m.Entities[0].Name != "Floor" {
		t.Fatalf("map entities = %+v, want only Floor", m.Entities)
	}
	if m.Gravity != 196.2 {
		t.Fatalf("map gravity = %v", m.Gravity)
	}
}

func TestRenderAttributeOverrides(t *testing.T) {
	inst := newTestInstance(t, `
		var p = Instance.new("Part", "Orb");
		p.SetParent(game.GetService("Workspace").Root());
		p.Set("Anchored", true);
		p.SetAttribute("RenderPrimitive", "Sphere");
		p.SetAttribute("RenderMaterial", "Neon");
		p.SetAttribute("RenderColor", Vector3.new(1, 0, 0));
		p.SetAttribute("score", 5);
	`)
	inst.Advance(dt)

	snap := inst.Snapshot()
	if len(snap.Entities) != 1 {
		t.Fatalf("entities = %+v", snap.Entities)
	}
	e := snap.Entities[0]
	if e.Render.Shape != "Sphere" || e.Render.Material != "Neon" {
		t.Fatalf("render = %+v", e.Render)
	}
	if e.Render.Color != [3]float64{1, 0, 0} {
		t.Fatalf("color = %v", e.Render.Color)
	}
	if _, ok := e.Attributes["RenderPrimitive"]; ok {
		t.Fatal("reserved render key leaked into attributes")
	}
	if e.Attributes["score"].Num() != 5 {
		t.Fatalf("attributes = %+v", e.Attributes)
	}
}

func TestInitialSnapshotPublishedAtLoad(t *testing.T) {
	inst := NewGameInstance("test", newMemStore(), DefaultConfig())
	err := inst.Load([]scripting.Module{{Name: "main", Source: `
		var p = Instance.new("Part", "Spawn");
		p.SetParent(game.GetService("Workspace").Root());
		p.Set("Anchored", true);
	`}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// With BroadcastEvery=3 the first tick-driven publish is at tick 3;
	// polling before then must still see the boot world.
	snap := inst.Snapshot()
	if snap.Status != StatusWaiting {
		t.Fatalf("status = %q, want waiting", snap.Status)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].Name != "Spawn" {
		t.Fatalf("entities = %+v, want the boot part", snap.Entities)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"players":[]`) {
		t.Fatalf("players must encode as an empty array, got %s", raw)
	}
}

func TestRemoteEventsRideNextBroadcastOnly(t *testing.T) {
	inst := newTestInstance(t, `
		var re = game.GetService("RemoteEventService");
		var n = 0;
		game.GetService("RunService").Heartbeat.Connect(function() {
			n++;
			if (n === 1) {
				re.FireAllClients("round_start", {round: 1});
				re.FireAllClientsUnreliable("fx", null);
				re.FireAllClients("", {ignored: true});
			}
		});
	`)
	inst.Advance(dt)

	snap := inst.Snapshot()
	if len(snap.Events) != 2 {
		t.Fatalf("events = %+v, want the two named fires", snap.Events)
	}
	if snap.Events[0].Name != "round_start" || !snap.Events[0].Reliable {
		t.Fatalf("events[0] = %+v", snap.Events[0])
	}
	payload, ok := snap.Events[0].Payload.(map[string]any)
	if !ok || payload["round"] != int64(1) {
		t.Fatalf("payload = %+v", snap.Events[0].Payload)
	}
	if snap.Events[1].Name != "fx" || snap.Events[1].Reliable {
		t.Fatalf("events[1] = %+v", snap.Events[1])
	}

	// Drained on publish: the next boundary carries no stale events.
	inst.Advance(dt)
	if got := inst.Snapshot().Events; len(got) != 0 {
		t.Fatalf("events = %+v on the following broadcast, want none", got)
	}
}

func TestDataStoreCompletionOnLaterTick(t *testing.T) {
	inst := newTestInstance(t, `
		var ds = game.GetService("DataStoreService");
		ds.SetAsync("save", "visits", "1", function(err) {
			print("saved", err === null);
		});
	`)
	// The write runs off-tick; its callback lands on a tick boundary.
	deadline := 200
	for len(inst.Logs()) == 0 && deadline > 0 {
		inst.Advance(dt)
		runtime.Gosched()
		deadline--
	}
	logs := inst.Logs()
	if len(logs) != 1 || logs[0].Message != "saved true" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestScriptErrorKeepsInstanceRunning(t *testing.T) {
	inst := newTestInstance(t, `
		var n = 0;
		game.GetService("RunService").Heartbeat.Connect(function() {
			n++;
			if (n === 1) { throw new Error("first tick boom"); }
			if (n === 2) { print("still running"); }
		});
	`)
	inst.Advance(dt)
	inst.Advance(dt)
	if inst.ScriptErrors() != 1 {
		t.Fatalf("script errors = %d, want 1", inst.ScriptErrors())
	}
	logs := inst.Logs()
	if len(logs) != 1 || logs[0].Message != "still running" {
		t.Fatalf("logs = %+v, want the second tick's callback delivered", logs)
	}
}

func TestInputQueueOverflowDrops(t *testing.T) {
	q := NewInputQueue(2)
	if !q.Push(Input{Kind: "a"}) || !q.Push(Input{Kind: "b"}) {
		t.Fatal("push within capacity failed")
	}
	if q.Push(Input{Kind: "c"}) {
		t.Fatal("push beyond capacity succeeded")
	}
	drained := q.Drain()
	if len(drained) != 2 || drained[0].Kind != "a" || drained[1].Kind != "b" {
		t.Fatalf("drained = %+v", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d after drain", q.Len())
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(newMemStore(), testConfig())
	inst, err := m.CreateGame("arena", []scripting.Module{{Name: "main", Source: `var ok = true;`}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, err := m.Get(inst.ID); err != nil || got != inst {
		t.Fatalf("get = %v, %v", got, err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("list = %d, want 1", len(m.List()))
	}
	if err := m.DestroyGame(inst.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if inst.Status() != StatusFinished {
		t.Fatalf("status = %s, want finished", inst.Status())
	}
	if _, err := m.Get(inst.ID); err != ErrGameNotFound {
		t.Fatalf("get after destroy = %v, want ErrGameNotFound", err)
	}
	if err := m.DestroyGame(inst.ID); err != ErrGameNotFound {
		t.Fatalf("double destroy = %v, want ErrGameNotFound", err)
	}
}

func TestManagerRejectsBrokenScript(t *testing.T) {
	m := NewManager(newMemStore(), testConfig())
	_, err := m.CreateGame("broken", []scripting.Module{{Name: "main", Source: `throw new Error("no");`}})
	if err == nil {
		t.Fatal("expected load failure")
	}
	if len(m.List()) != 0 {
		t.Fatal("broken game left in run set")
	}
}

func TestWatcherReceivesFrames(t *testing.T) {
	inst := newTestInstance(t, ``)
	ch := inst.Watch()
	inst.Advance(dt)

	select {
	case snap := <-ch:
		if snap.Tick != 1 {
			t.Fatalf("tick = %d, want 1", snap.Tick)
		}
	default:
		t.Fatal("no frame published to watcher")
	}

	inst.Unwatch(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unwatch")
	}
}
