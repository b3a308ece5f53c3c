package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"scriptworld/internal/graph"
	"scriptworld/internal/physics"
	"scriptworld/internal/scripting"
	"scriptworld/internal/services"
)

// Config tunes a game instance's simulation loop.
type Config struct {
	TickRate       int // physics steps per second
	BroadcastEvery int // snapshot every N ticks
	InputCapacity  int
	Budgets        scripting.Budgets
}

// DefaultConfig matches the 60 Hz step / 20 Hz broadcast split.
func DefaultConfig() Config {
	return Config{
		TickRate:       60,
		BroadcastEvery: 3,
		InputCapacity:  256,
		Budgets:        scripting.DefaultBudgets(),
	}
}

// GameInstance owns one isolated simulation: graph, services, script
// host, physics world, and input queue. All mutation happens on the
// scheduler goroutine; the concurrent surfaces are the input queue, the
// pending-op list, and the published snapshot.
type GameInstance struct {
	ID   string
	Name string

	cfg      Config
	graph    *graph.Graph
	registry *services.Registry
	phys     physics.Provider
	host     *scripting.Host
	inputs   *InputQueue
	pending  *PendingOps

	tick   atomic.Uint64
	bodies map[uint64]struct{} // wire ids mirrored into the physics provider

	mu       sync.Mutex
	status   Status
	latest   Snapshot
	mapInfo  MapInfo
	watchers map[chan Snapshot]struct{}
}

// NewGameInstance assembles a fresh simulation. Scripts are not loaded
// yet; call Load before the first tick.
func NewGameInstance(name string, store services.KVStore, cfg Config) *GameInstance {
	id := uuid.NewString()
	g := graph.New()
	pending := NewPendingOps()
	phys := physics.NewWorld()
	registry := services.NewRegistry(services.Deps{
		Graph:    g,
		Physics:  phys,
		Store:    store,
		Deferrer: pending,
		GameKey:  id,
	})
	inst := &GameInstance{
		ID:       id,
		Name:     name,
		cfg:      cfg,
		graph:    g,
		registry: registry,
		phys:     phys,
		inputs:   NewInputQueue(cfg.InputCapacity),
		pending:  pending,
		bodies:   make(map[uint64]struct{}),
		status:   StatusWaiting,
		watchers: make(map[chan Snapshot]struct{}),
	}
	inst.host = scripting.NewHost(id, g, registry, cfg.Budgets)

	// Handler failures in native-fired signals count as script errors;
	// they never stop the simulation.
	sink := func(signalName string, err error) {
		inst.host.ReportError("signal:"+signalName, err)
	}
	g.SetErrorSink(sink)
	registry.Players().SetErrorSink(sink)
	registry.RunService().SetErrorSink(sink)
	registry.AgentInput().SetErrorSink(sink)

	return inst
}

// Load compiles and runs the game's script modules. Failure leaves the
// instance unable to start. On success the boot world is published so
// observers polling before the first broadcast boundary see a real
// record, not a zero value.
func (gi *GameInstance) Load(modules []scripting.Module) error {
	if err := gi.host.Load(modules); err != nil {
		return err
	}
	gi.publish(0)
	return nil
}

// Status returns the observer-facing lifecycle state.
func (gi *GameInstance) Status() Status {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return gi.status
}

func (gi *GameInstance) setStatus(s Status) {
	gi.mu.Lock()
	gi.status = s
	gi.mu.Unlock()
}

// Tick reports the number of completed steps.
func (gi *GameInstance) Tick() uint64 { return gi.tick.Load() }

// ScriptErrors reports accumulated script error count.
func (gi *GameInstance) ScriptErrors() int64 { return gi.host.ErrorCount() }

// Logs returns the captured script print output.
func (gi *GameInstance) Logs() []scripting.LogEntry { return gi.host.Logs() }

// EnqueueInput stages one agent command for the next tick. Safe from any
// goroutine; false means the queue is saturated and the input dropped.
func (gi *GameInstance) EnqueueInput(in Input) bool {
	if gi.Status() == StatusFinished {
		return false
	}
	return gi.inputs.Push(in)
}

// Join adds a player to the roster from the scheduler goroutine via the
// input queue, so roster mutation never races the tick.
func (gi *GameInstance) Join(userID uint64, name string) bool {
	return gi.inputs.Push(Input{Op: opJoin, UserID: userID, Payload: map[string]any{"name": name}})
}

// Leave removes a player at the next tick boundary.
func (gi *GameInstance) Leave(userID uint64) bool {
	return gi.inputs.Push(Input{Op: opLeave, UserID: userID})
}

// Snapshot returns the latest published observation record.
func (gi *GameInstance) Snapshot() Snapshot {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return gi.latest
}

// Map returns the static geometry record, building it on first request.
// Callers get the world as of the last completed tick.
func (gi *GameInstance) Map() MapInfo {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return gi.mapInfo
}

// Watch registers a spectate subscriber. Each published snapshot is sent
// non-blocking; slow consumers miss frames rather than stall the loop.
func (gi *GameInstance) Watch() chan Snapshot {
	ch := make(chan Snapshot, 8)
	gi.mu.Lock()
	gi.watchers[ch] = struct{}{}
	gi.mu.Unlock()
	return ch
}

// Unwatch removes a spectate subscriber and closes its channel.
func (gi *GameInstance) Unwatch(ch chan Snapshot) {
	gi.mu.Lock()
	if _, ok := gi.watchers[ch]; ok {
		delete(gi.watchers, ch)
		close(ch)
	}
	gi.mu.Unlock()
}

// Shutdown tears the instance down: host first so no script callback can
// observe a dying graph, then pending ops, then subscribers.
func (gi *GameInstance) Shutdown() {
	gi.host.Stop()
	gi.pending.Close()
	gi.setStatus(StatusFinished)
	gi.mu.Lock()
	for ch := range gi.watchers {
		close(ch)
	}
	gi.watchers = make(map[chan Snapshot]struct{})
	gi.mu.Unlock()
}
