package graph

// Class tags an instance with its closed-set role in the graph.
type Class int

const (
	ClassFolder Class = iota
	ClassPart
	ClassModel
	ClassHumanoid
	ClassPlayer
	ClassWorkspace
)

var classNames = map[Class]string{
	ClassFolder:    "Folder",
	ClassPart:      "Part",
	ClassModel:     "Model",
	ClassHumanoid:  "Humanoid",
	ClassPlayer:    "Player",
	ClassWorkspace: "Workspace",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "Unknown"
}

// ParseClass resolves a class name as scripts spell it.
func ParseClass(name string) (Class, bool) {
	for c, s := range classNames {
		if s == name {
			return c, true
		}
	}
	return 0, false
}

// IsA reports class subsumption: every class is an "Instance", and Part
// is also a "BasePart". Mirrors the hierarchy scripts test against.
func (c Class) IsA(className string) bool {
	switch className {
	case "Instance":
		return true
	case "BasePart":
		return c == ClassPart
	default:
		return c.String() == className
	}
}
