package graph

import (
	"scriptworld/internal/signal"
	"scriptworld/internal/types"
)

// PartProps are the physical properties of a Part instance.
type PartProps struct {
	Position     types.Vector3
	Size         types.Vector3
	Rotation     types.Rotation
	Velocity     types.Vector3
	Anchored     bool
	CanCollide   bool
	Color        types.Color3
	Material     string
	Shape        string
	Transparency float64
}

func defaultPartProps() PartProps {
	return PartProps{
		Size:       types.NewVector3(4, 1, 2),
		Rotation:   types.IdentityRotation,
		Anchored:   false,
		CanCollide: true,
		Color:      types.NewColor3(0.64, 0.64, 0.64),
		Material:   "Plastic",
		Shape:      "Block",
	}
}

// DefaultMaxHealth is the spawn health of a fresh Humanoid.
const DefaultMaxHealth = 100

// HumanoidProps carry health and locomotion state for Humanoid instances.
type HumanoidProps struct {
	Health    float64
	MaxHealth float64
	WalkSpeed float64
}

func defaultHumanoidProps() HumanoidProps {
	return HumanoidProps{Health: DefaultMaxHealth, MaxHealth: DefaultMaxHealth, WalkSpeed: 16}
}

// PlayerProps link a Player instance to its session identity and
// character root.
type PlayerProps struct {
	UserID    uint64
	Character Handle
}

// node is the arena-resident state of one live instance.
type node struct {
	wireID   uint64
	handle   Handle
	class    Class
	name     string
	parent   Handle
	children []Handle

	attributes map[string]types.Value
	tags       map[string]struct{}

	part     *PartProps
	humanoid *HumanoidProps
	player   *PlayerProps

	destroying       *signal.Signal
	childAdded       *signal.Signal
	childRemoved     *signal.Signal
	attributeChanged *signal.Signal
	died             *signal.Signal // Humanoid only
	touched          *signal.Signal // Part only
}

func newNode(class Class, name string) *node {
	n := &node{
		class:            class,
		name:             name,
		attributes:       make(map[string]types.Value),
		tags:             make(map[string]struct{}),
		destroying:       signal.New("Destroying"),
		childAdded:       signal.New("ChildAdded"),
		childRemoved:     signal.New("ChildRemoved"),
		attributeChanged: signal.New("AttributeChanged"),
	}
	switch class {
	case ClassPart:
		p := defaultPartProps()
		n.part = &p
		n.touched = signal.New("Touched")
	case ClassHumanoid:
		h := defaultHumanoidProps()
		n.humanoid = &h
		n.died = signal.New("Died")
	case ClassPlayer:
		n.player = &PlayerProps{}
	}
	return n
}

func (n *node) removeChild(h Handle) {
	for i, c := range n.children {
		if c == h {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}
