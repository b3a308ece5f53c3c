// Package graph implements the live instance tree for one game
// instance: a generational arena of nodes with exclusive parent
// ownership, script-defined attributes, and structural signals.
//
// Handles are generational, so a script holding a handle to a destroyed
// instance resolves to ErrDestroyed rather than dangling. The graph is
// owned by exactly one scheduler goroutine; it is not safe for
// concurrent use.
package graph

import (
	"fmt"

	"scriptworld/internal/signal"
	"scriptworld/internal/types"
)

// Handle identifies a live instance by arena slot and generation. The
// zero Handle is never valid and doubles as "no parent".
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether the handle is the null handle.
func (h Handle) IsZero() bool { return h == Handle{} }

type slot struct {
	gen  uint32
	node *node
}

type deferredFire struct {
	sig  *signal.Signal
	args []any
}

// Graph is the instance tree of a single game instance.
type Graph struct {
	slots   []slot
	free    []uint32
	nextID  uint64
	byWire  map[uint64]Handle
	pending []deferredFire
	errSink signal.ErrorSink
	root    Handle
}

// New creates a graph containing only the workspace root container.
func New() *Graph {
	g := &Graph{
		nextID: 1,
		byWire: make(map[uint64]Handle),
		// Slot 0 is reserved so the zero Handle stays invalid.
		slots: make([]slot, 1),
	}
	g.root = g.Create(ClassWorkspace, "Workspace")
	return g
}

// Root returns the workspace root container.
func (g *Graph) Root() Handle { return g.root }

// SetErrorSink routes structural-signal handler errors to the engine's
// script error accounting. Applies to signals created afterwards as well.
func (g *Graph) SetErrorSink(sink signal.ErrorSink) {
	g.errSink = sink
	for i := range g.slots {
		if n := g.slots[i].node; n != nil {
			g.applySink(n)
		}
	}
}

func (g *Graph) applySink(n *node) {
	n.destroying.SetErrorSink(g.errSink)
	n.childAdded.SetErrorSink(g.errSink)
	n.childRemoved.SetErrorSink(g.errSink)
	n.attributeChanged.SetErrorSink(g.errSink)
	if n.died != nil {
		n.died.SetErrorSink(g.errSink)
	}
	if n.touched != nil {
		n.touched.SetErrorSink(g.errSink)
	}
}

// Create allocates a new parentless instance.
func (g *Graph) Create(class Class, name string) Handle {
	n := newNode(class, name)
	n.wireID = g.nextID
	g.nextID++

	var idx uint32
	if len(g.free) > 0 {
		idx = g.free[len(g.free)-1]
		g.free = g.free[:len(g.free)-1]
		g.slots[idx].node = n
	} else {
		idx = uint32(len(g.slots))
		g.slots = append(g.slots, slot{node: n})
	}

	h := Handle{index: idx, gen: g.slots[idx].gen}
	n.handle = h
	g.byWire[n.wireID] = h
	if g.errSink != nil {
		g.applySink(n)
	}
	return h
}

func (g *Graph) get(h Handle) (*node, error) {
	if h.IsZero() || int(h.index) >= len(g.slots) {
		return nil, ErrDestroyed
	}
	s := g.slots[h.index]
	if s.node == nil || s.gen != h.gen {
		return nil, ErrDestroyed
	}
	return s.node, nil
}

// Valid reports whether the handle refers to a live instance.
func (g *Graph) Valid(h Handle) bool {
	_, err := g.get(h)
	return err == nil
}

// WireID returns the stable numeric identity used in snapshots.
func (g *Graph) WireID(h Handle) (uint64, error) {
	n, err := g.get(h)
	if err != nil {
		return 0, err
	}
	return n.wireID, nil
}

// ByWireID resolves a wire id back to a live handle. Used to map physics
// contact events onto instances.
func (g *Graph) ByWireID(id uint64) (Handle, bool) {
	h, ok := g.byWire[id]
	return h, ok
}

// Name returns the instance's (mutable, non-unique) name.
func (g *Graph) Name(h Handle) (string, error) {
	n, err := g.get(h)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

// SetName renames the instance.
func (g *Graph) SetName(h Handle, name string) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	n.name = name
	return nil
}

// ClassOf returns the instance's class tag.
func (g *Graph) ClassOf(h Handle) (Class, error) {
	n, err := g.get(h)
	if err != nil {
		return 0, err
	}
	return n.class, nil
}

// Parent returns the owning parent, or the zero handle for roots.
func (g *Graph) Parent(h Handle) (Handle, error) {
	n, err := g.get(h)
	if err != nil {
		return Handle{}, err
	}
	return n.parent, nil
}

// Children returns the ordered child list.
func (g *Graph) Children(h Handle) ([]Handle, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, len(n.children))
	copy(out, n.children)
	return out, nil
}

// SetParent moves the instance under newParent (zero handle detaches).
// Fails with ErrCycle when newParent is h itself or a descendant of h.
// ChildRemoved/ChildAdded fire at the next dispatch point, not here.
func (g *Graph) SetParent(h, newParent Handle) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	if !newParent.IsZero() {
		if _, err := g.get(newParent); err != nil {
			return fmt.Errorf("new parent: %w", err)
		}
		for cur := newParent; !cur.IsZero(); {
			if cur == h {
				return ErrCycle
			}
			p, err := g.Parent(cur)
			if err != nil {
				return err
			}
			cur = p
		}
	}
	if n.parent == newParent {
		return nil
	}

	if !n.parent.IsZero() {
		if old, err := g.get(n.parent); err == nil {
			old.removeChild(h)
			g.enqueue(old.childRemoved, h)
		}
	}
	n.parent = newParent
	if !newParent.IsZero() {
		np, _ := g.get(newParent)
		np.children = append(np.children, h)
		g.enqueue(np.childAdded, h)
	}
	return nil
}

// FindChild looks up a child by name. With recursive set, the search is
// breadth-first and ties break by child insertion order.
func (g *Graph) FindChild(parent Handle, name string, recursive bool) (Handle, error) {
	n, err := g.get(parent)
	if err != nil {
		return Handle{}, err
	}
	queue := append([]Handle(nil), n.children...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		c, err := g.get(h)
		if err != nil {
			continue
		}
		if c.name == name {
			return h, nil
		}
		if recursive {
			queue = append(queue, c.children...)
		}
	}
	return Handle{}, ErrNotFound
}

// Descendants returns every live instance below h in depth-first order.
func (g *Graph) Descendants(h Handle) ([]Handle, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	var out []Handle
	var walk func(*node)
	walk = func(cur *node) {
		for _, ch := range cur.children {
			c, err := g.get(ch)
			if err != nil {
				continue
			}
			out = append(out, ch)
			walk(c)
		}
	}
	walk(n)
	return out, nil
}

// Destroy removes the instance and its whole subtree. Destroying fires
// synchronously on every member, deepest-last, while all ids are still
// valid for lookup; afterwards every handle in the subtree resolves to
// ErrDestroyed. Destroying an already-destroyed handle is a reported
// error, not a crash.
func (g *Graph) Destroy(h Handle) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}

	doomed := []Handle{h}
	desc, _ := g.Descendants(h)
	doomed = append(doomed, desc...)

	for _, d := range doomed {
		if dn, err := g.get(d); err == nil {
			dn.destroying.Fire()
		}
	}

	if !n.parent.IsZero() {
		if parent, err := g.get(n.parent); err == nil {
			parent.removeChild(h)
			g.enqueue(parent.childRemoved, h)
		}
	}

	for _, d := range doomed {
		dn, err := g.get(d)
		if err != nil {
			continue
		}
		delete(g.byWire, dn.wireID)
		g.slots[d.index].node = nil
		g.slots[d.index].gen++
		g.free = append(g.free, d.index)
	}
	return nil
}

// CloneSubtree deep-copies the instance and its descendants. The copy is
// parentless, gets fresh identities, and carries no signal subscriptions.
func (g *Graph) CloneSubtree(h Handle) (Handle, error) {
	n, err := g.get(h)
	if err != nil {
		return Handle{}, err
	}
	return g.cloneNode(n), nil
}

func (g *Graph) cloneNode(src *node) Handle {
	h := g.Create(src.class, src.name)
	dst, _ := g.get(h)

	for k, v := range src.attributes {
		dst.attributes[k] = v
	}
	for t := range src.tags {
		dst.tags[t] = struct{}{}
	}
	if src.part != nil {
		p := *src.part
		dst.part = &p
	}
	if src.humanoid != nil {
		hu := *src.humanoid
		dst.humanoid = &hu
	}
	if src.player != nil {
		pl := *src.player
		dst.player = &pl
	}

	for _, ch := range src.children {
		c, err := g.get(ch)
		if err != nil {
			continue
		}
		childCopy := g.cloneNode(c)
		cc, _ := g.get(childCopy)
		cc.parent = h
		dst.children = append(dst.children, childCopy)
	}
	return h
}

// SetAttribute stores a value under key and queues AttributeChanged for
// the next dispatch point.
func (g *Graph) SetAttribute(h Handle, key string, v types.Value) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	if v.IsNil() {
		delete(n.attributes, key)
	} else {
		n.attributes[key] = v
	}
	g.enqueue(n.attributeChanged, key)
	return nil
}

// Attribute reads one attribute; the nil Value means unset.
func (g *Graph) Attribute(h Handle, key string) (types.Value, error) {
	n, err := g.get(h)
	if err != nil {
		return types.Value{}, err
	}
	return n.attributes[key], nil
}

// Attributes returns a copy of the full attribute map.
func (g *Graph) Attributes(h Handle) (map[string]types.Value, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Value, len(n.attributes))
	for k, v := range n.attributes {
		out[k] = v
	}
	return out, nil
}

// AddTag marks the instance with a tag.
func (g *Graph) AddTag(h Handle, tag string) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	n.tags[tag] = struct{}{}
	return nil
}

// HasTag reports whether the instance carries the tag.
func (g *Graph) HasTag(h Handle, tag string) bool {
	n, err := g.get(h)
	if err != nil {
		return false
	}
	_, ok := n.tags[tag]
	return ok
}

// Part returns the physical properties of a Part instance.
func (g *Graph) Part(h Handle) (*PartProps, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	if n.part == nil {
		return nil, ErrWrongClass
	}
	return n.part, nil
}

// Humanoid returns the humanoid properties of a Humanoid instance.
func (g *Graph) Humanoid(h Handle) (*HumanoidProps, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	if n.humanoid == nil {
		return nil, ErrWrongClass
	}
	return n.humanoid, nil
}

// Player returns the player properties of a Player instance.
func (g *Graph) Player(h Handle) (*PlayerProps, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	if n.player == nil {
		return nil, ErrWrongClass
	}
	return n.player, nil
}

// SetHealth clamps health into [0, MaxHealth] and queues Died when the
// humanoid drops to zero from above.
func (g *Graph) SetHealth(h Handle, health float64) error {
	n, err := g.get(h)
	if err != nil {
		return err
	}
	if n.humanoid == nil {
		return ErrWrongClass
	}
	if health < 0 {
		health = 0
	}
	if health > n.humanoid.MaxHealth {
		health = n.humanoid.MaxHealth
	}
	wasAlive := n.humanoid.Health > 0
	n.humanoid.Health = health
	if wasAlive && health == 0 {
		g.enqueue(n.died)
	}
	return nil
}

// SignalOf exposes a named per-instance signal to the binding layer.
func (g *Graph) SignalOf(h Handle, name string) (*signal.Signal, error) {
	n, err := g.get(h)
	if err != nil {
		return nil, err
	}
	switch name {
	case "Destroying":
		return n.destroying, nil
	case "ChildAdded":
		return n.childAdded, nil
	case "ChildRemoved":
		return n.childRemoved, nil
	case "AttributeChanged":
		return n.attributeChanged, nil
	case "Died":
		if n.died == nil {
			return nil, ErrWrongClass
		}
		return n.died, nil
	case "Touched":
		if n.touched == nil {
			return nil, ErrWrongClass
		}
		return n.touched, nil
	default:
		return nil, fmt.Errorf("unknown signal %q: %w", name, ErrNotFound)
	}
}

func (g *Graph) enqueue(sig *signal.Signal, args ...any) {
	g.pending = append(g.pending, deferredFire{sig: sig, args: args})
}

// DrainDeferred fires every queued structural signal in order. Called by
// the scheduler at its dispatch points, never mid-mutation. Signals
// enqueued by handlers during the drain are delivered in the same drain.
func (g *Graph) DrainDeferred() {
	for len(g.pending) > 0 {
		batch := g.pending
		g.pending = nil
		for _, f := range batch {
			f.sig.Fire(f.args...)
		}
	}
}

// LiveHandles returns every live instance except the reserved slot, in
// unspecified order.
func (g *Graph) LiveHandles() []Handle {
	out := make([]Handle, 0, len(g.byWire))
	for _, h := range g.byWire {
		out = append(out, h)
	}
	return out
}
