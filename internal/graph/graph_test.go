package graph

import (
	"errors"
	"testing"

	"scriptworld/internal/types"
)

func TestCycleRejectedAndGraphUnchanged(t *testing.T) {
	g := New()
	a := g.Create(ClassFolder, "A")
	b := g.Create(ClassFolder, "B")
	c := g.Create(ClassFolder, "C")

	mustParent(t, g, a, g.Root())
	mustParent(t, g, b, a)
	mustParent(t, g, c, b)

	if err := g.SetParent(a, c); !errors.Is(err, ErrCycle) {
		t.Fatalf("SetParent(a, descendant) = %v, want ErrCycle", err)
	}
	if err := g.SetParent(a, a); !errors.Is(err, ErrCycle) {
		t.Fatalf("SetParent(a, a) = %v, want ErrCycle", err)
	}

	// The failed reparent must leave the tree untouched.
	p, err := g.Parent(a)
	if err != nil || p != g.Root() {
		t.Fatalf("parent of a changed after rejected reparent: %v %v", p, err)
	}
	kids, _ := g.Children(b)
	if len(kids) != 1 || kids[0] != c {
		t.Fatalf("children of b changed after rejected reparent: %v", kids)
	}
}

func TestDestroyFiresDestroyingForWholeSubtreeBeforeInvalidation(t *testing.T) {
	g := New()
	root := g.Create(ClassModel, "Rig")
	mid := g.Create(ClassFolder, "Mid")
	leaf := g.Create(ClassPart, "Leaf")
	mustParent(t, g, mid, root)
	mustParent(t, g, leaf, mid)

	fired := 0
	for _, h := range []Handle{root, mid, leaf} {
		h := h
		sig, err := g.SignalOf(h, "Destroying")
		if err != nil {
			t.Fatal(err)
		}
		sig.Connect(func(args ...any) {
			fired++
			// Every member of the subtree must still be valid for lookup
			// while Destroying handlers run.
			for _, other := range []Handle{root, mid, leaf} {
				if !g.Valid(other) {
					t.Errorf("handle invalidated before all Destroying signals fired")
				}
			}
		})
	}

	if err := g.Destroy(root); err != nil {
		t.Fatal(err)
	}
	if fired != 3 {
		t.Fatalf("Destroying fired %d times, want 3 (self + 2 descendants)", fired)
	}
	for _, h := range []Handle{root, mid, leaf} {
		if g.Valid(h) {
			t.Fatal("handle still valid after Destroy")
		}
	}
}

func TestDestroyTwiceIsReportedError(t *testing.T) {
	g := New()
	p := g.Create(ClassPart, "P")
	if err := g.Destroy(p); err != nil {
		t.Fatal(err)
	}
	if err := g.Destroy(p); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("second Destroy = %v, want ErrDestroyed", err)
	}
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	g := New()
	old := g.Create(ClassPart, "Old")
	if err := g.Destroy(old); err != nil {
		t.Fatal(err)
	}
	// Allocate again: the slot is reused with a bumped generation.
	fresh := g.Create(ClassPart, "Fresh")
	if !g.Valid(fresh) {
		t.Fatal("fresh handle invalid")
	}
	if g.Valid(old) {
		t.Fatal("stale handle resolves after slot reuse")
	}
	if _, err := g.Part(old); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("stale Part access = %v, want ErrDestroyed", err)
	}
}

func TestFindChildBreadthFirstTieBreak(t *testing.T) {
	g := New()
	root := g.Create(ClassFolder, "Root")
	a := g.Create(ClassFolder, "A")
	b := g.Create(ClassFolder, "B")
	mustParent(t, g, a, root)
	mustParent(t, g, b, root)

	// Deep match under the first child, shallow match under the second:
	// breadth-first search must find the shallow one.
	deep := g.Create(ClassPart, "Target")
	mustParent(t, g, deep, a)
	shallow := g.Create(ClassPart, "Target")
	mustParent(t, g, shallow, b)

	// Both at depth 2: insertion order of their parents breaks the tie.
	got, err := g.FindChild(root, "Target", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != deep {
		t.Fatalf("BFS tie-break: got %v, want first-inserted branch match", got)
	}

	if _, err := g.FindChild(root, "Missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing child = %v, want ErrNotFound", err)
	}

	// Non-recursive search must not descend.
	if _, err := g.FindChild(root, "Target", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-recursive found nested child: %v", err)
	}
}

func TestAttributeRoundTripAllKinds(t *testing.T) {
	g := New()
	p := g.Create(ClassPart, "P")

	cases := []struct {
		key string
		val types.Value
	}{
		{"num", types.Number(42.5)},
		{"flag", types.Bool(true)},
		{"label", types.String("hello")},
		{"offset", types.Vector(types.NewVector3(1, 2, 3))},
	}
	for _, tc := range cases {
		if err := g.SetAttribute(p, tc.key, tc.val); err != nil {
			t.Fatal(err)
		}
		got, err := g.Attribute(p, tc.key)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(tc.val) {
			t.Fatalf("attribute %q round-trip: got %v want %v", tc.key, got.Export(), tc.val.Export())
		}
	}
}

func TestAttributeChangedIsDeferredUntilDrain(t *testing.T) {
	g := New()
	p := g.Create(ClassPart, "P")
	sig, err := g.SignalOf(p, "AttributeChanged")
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	sig.Connect(func(args ...any) {
		if len(args) > 0 {
			if k, ok := args[0].(string); ok {
				keys = append(keys, k)
			}
		}
	})

	if err := g.SetAttribute(p, "Score", types.Number(1)); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatal("AttributeChanged fired synchronously, want deferred")
	}
	g.DrainDeferred()
	if len(keys) != 1 || keys[0] != "Score" {
		t.Fatalf("after drain keys=%v, want [Score]", keys)
	}
}

func TestCloneSubtreeCopiesStateNotSubscriptions(t *testing.T) {
	g := New()
	model := g.Create(ClassModel, "Rig")
	part := g.Create(ClassPart, "Torso")
	mustParent(t, g, part, model)
	pp, _ := g.Part(part)
	pp.Position = types.NewVector3(5, 6, 7)
	if err := g.SetAttribute(model, "Team", types.String("red")); err != nil {
		t.Fatal(err)
	}
	g.DrainDeferred()

	sig, _ := g.SignalOf(model, "Destroying")
	sig.Connect(func(args ...any) {})

	cp, err := g.CloneSubtree(model)
	if err != nil {
		t.Fatal(err)
	}
	if parent, _ := g.Parent(cp); !parent.IsZero() {
		t.Fatal("clone should be parentless")
	}
	attr, _ := g.Attribute(cp, "Team")
	if attr.Str() != "red" {
		t.Fatalf("clone attribute = %v, want red", attr.Export())
	}
	kids, _ := g.Children(cp)
	if len(kids) != 1 {
		t.Fatalf("clone has %d children, want 1", len(kids))
	}
	cpp, err := g.Part(kids[0])
	if err != nil {
		t.Fatal(err)
	}
	if cpp.Position != (types.Vector3{X: 5, Y: 6, Z: 7}) {
		t.Fatalf("clone child position = %v", cpp.Position)
	}
	// Mutating the clone must not leak into the source.
	cpp.Position = types.NewVector3(0, 0, 0)
	if pp.Position != (types.Vector3{X: 5, Y: 6, Z: 7}) {
		t.Fatal("clone shares part props with source")
	}

	csig, _ := g.SignalOf(cp, "Destroying")
	if csig.SubscriberCount() != 0 {
		t.Fatal("clone carried signal subscriptions")
	}

	ids := map[uint64]bool{}
	for _, h := range []Handle{model, part, cp, kids[0]} {
		id, err := g.WireID(h)
		if err != nil {
			t.Fatal(err)
		}
		if ids[id] {
			t.Fatal("clone reused a wire id")
		}
		ids[id] = true
	}
}

func TestHealthClampAndDiedSignal(t *testing.T) {
	g := New()
	h := g.Create(ClassHumanoid, "Humanoid")

	died := 0
	sig, _ := g.SignalOf(h, "Died")
	sig.Connect(func(args ...any) { died++ })

	if err := g.SetHealth(h, 150); err != nil {
		t.Fatal(err)
	}
	hu, _ := g.Humanoid(h)
	if hu.Health != hu.MaxHealth {
		t.Fatalf("health not clamped to max: %v", hu.Health)
	}

	if err := g.SetHealth(h, -20); err != nil {
		t.Fatal(err)
	}
	if hu.Health != 0 {
		t.Fatalf("health not clamped to zero: %v", hu.Health)
	}
	g.DrainDeferred()
	if died != 1 {
		t.Fatalf("Died fired %d times, want 1", died)
	}

	// Already dead: setting zero again must not refire.
	_ = g.SetHealth(h, 0)
	g.DrainDeferred()
	if died != 1 {
		t.Fatalf("Died refired while already dead")
	}
}

func mustParent(t *testing.T, g *Graph, child, parent Handle) {
	t.Helper()
	if err := g.SetParent(child, parent); err != nil {
		t.Fatalf("SetParent: %v", err)
	}
}
