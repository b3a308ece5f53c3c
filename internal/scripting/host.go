package scripting

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"scriptworld/internal/graph"
	"scriptworld/internal/services"
	"scriptworld/pkg/logger"
)

// State is the script host lifecycle state.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// Module is one script source unit; modules load in declared order.
type Module struct {
	Name   string
	Source string
}

// Budgets bound script execution wall-clock time. Exceeding the load
// budget stops the host; exceeding a call-in budget aborts that call-in
// and counts as a script error.
type Budgets struct {
	Load   time.Duration
	CallIn time.Duration
}

// DefaultBudgets mirror the init/call split used for interactive hosts.
func DefaultBudgets() Budgets {
	return Budgets{Load: 2 * time.Second, CallIn: 50 * time.Millisecond}
}

type pendingWait struct {
	parent   graph.Handle
	name     string
	deadline float64 // session seconds
	done     func(graph.Handle, bool)
}

// Host is the sandboxed interpreter session of one game instance. All
// methods except the read-only accessors must be called from the owning
// scheduler goroutine.
type Host struct {
	vm       *VM
	graph    *graph.Graph
	registry *services.Registry
	budgets  Budgets
	gameID   string

	mu       sync.Mutex
	state    State
	loadErr  error
	errCount atomic.Int64

	waits    []pendingWait
	svcCache map[string]goja.Value
}

// NewHost wires a fresh VM to the game's graph and services. Bindings
// are installed immediately; no script source runs until Load.
func NewHost(gameID string, g *graph.Graph, registry *services.Registry, budgets Budgets) *Host {
	h := &Host{
		vm:       NewVM(),
		graph:    g,
		registry: registry,
		budgets:  budgets,
		gameID:   gameID,
		state:    StateUnloaded,
		svcCache: make(map[string]goja.Value),
	}
	installBindings(h)
	return h
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LoadError returns the error that stopped the host during Load, if any.
func (h *Host) LoadError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadErr
}

// ErrorCount reports script errors recorded since load.
func (h *Host) ErrorCount() int64 { return h.errCount.Load() }

// Logs returns the script's captured print output.
func (h *Host) Logs() []LogEntry { return h.vm.Logs() }

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Load compiles and executes the module top-level bodies in declared
// order. A module that errors or exceeds the load budget transitions the
// host straight to Stopped; the game instance must not start.
func (h *Host) Load(modules []Module) error {
	if h.State() != StateUnloaded {
		return fmt.Errorf("host already loaded (state %s)", h.State())
	}
	h.setState(StateLoading)

	for _, m := range modules {
		if err := h.vm.RunModule(m.Name, m.Source, h.budgets.Load); err != nil {
			h.mu.Lock()
			h.state = StateStopped
			h.loadErr = err
			h.mu.Unlock()
			logger.Log.WithFields(logrus.Fields{
				"game_id": h.gameID,
				"module":  m.Name,
			}).WithError(err).Error("script load failed")
			return err
		}
	}
	h.setState(StateRunning)
	return nil
}

// Stop transitions the host to Stopped. Further call-ins are ignored.
func (h *Host) Stop() {
	h.setState(StateStopped)
}

// ReportError records a failed script callback. The host stays Running:
// one misbehaving handler never stops the simulation.
func (h *Host) ReportError(callin string, err error) {
	h.errCount.Add(1)
	logger.Log.WithFields(logrus.Fields{
		"game_id": h.gameID,
		"callin":  callin,
	}).WithError(err).Warn("script error")
}

// Step is the per-physics-step call-in: it resolves deferred waits whose
// child appeared or whose timeout elapsed. The scheduler fires the
// Stepped/Heartbeat signals around it.
func (h *Host) Step(dt float64) {
	if h.State() != StateRunning {
		return
	}
	h.resolveWaits()
}

// DeliverInput is the per-input call-in: it hands one queued external
// input to the script through the InputReceived signal. The kind tag is
// opaque to the core; unrecognized kinds are the script's business.
func (h *Host) DeliverInput(player graph.Handle, kind string, payload map[string]any) {
	if h.State() != StateRunning {
		return
	}
	h.registry.AgentInput().Deliver(player, kind, payload)
}

// Collision is the per-contact call-in: it fires Touched on both parts
// of one de-duplicated unordered pair.
func (h *Host) Collision(a, b graph.Handle) {
	if h.State() != StateRunning {
		return
	}
	if sig, err := h.graph.SignalOf(a, "Touched"); err == nil {
		sig.Fire(b)
	}
	if sig, err := h.graph.SignalOf(b, "Touched"); err == nil {
		sig.Fire(a)
	}
}

// WaitForChild registers a deferred lookup resolved at a later tick
// boundary; call-ins always return promptly, so there is no blocking
// wait primitive.
func (h *Host) WaitForChild(parent graph.Handle, name string, timeout float64, done func(graph.Handle, bool)) {
	now := h.registry.RunService().Elapsed()
	h.waits = append(h.waits, pendingWait{
		parent:   parent,
		name:     name,
		deadline: now + timeout,
		done:     done,
	})
}

func (h *Host) resolveWaits() {
	if len(h.waits) == 0 {
		return
	}
	now := h.registry.RunService().Elapsed()
	remaining := h.waits[:0]
	for _, w := range h.waits {
		if child, err := h.graph.FindChild(w.parent, w.name, false); err == nil {
			w.done(child, true)
			continue
		}
		if now >= w.deadline || !h.graph.Valid(w.parent) {
			w.done(graph.Handle{}, false)
			continue
		}
		remaining = append(remaining, w)
	}
	h.waits = remaining
}
