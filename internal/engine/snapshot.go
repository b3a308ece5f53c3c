package engine

import (
	"sort"

	"scriptworld/internal/graph"
	"scriptworld/internal/services"
	"scriptworld/internal/types"
)

// Status is the game instance lifecycle as observers see it.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Tags and reserved attribute keys the snapshot builder honors.
const (
	TagHidden = "HiddenFromObservation"
	TagStatic = "Static"

	attrRenderColor     = "RenderColor"
	attrRenderMaterial  = "RenderMaterial"
	attrRenderPrimitive = "RenderPrimitive"
	attrRenderStatic    = "RenderStatic"
	attrRenderVisible   = "RenderVisible"
)

// Render is the per-entity render descriptor: static per instance unless
// a script changes part properties or overrides via attributes.
type Render struct {
	Shape        string     `json:"shape"`
	Material     string     `json:"material"`
	Color        [3]float64 `json:"color"`
	Transparency float64    `json:"transparency,omitempty"`
}

// PlayerRecord is one roster entry in a snapshot; attributes carry the
// full attribute store of the Player instance.
type PlayerRecord struct {
	ID         uint64                 `json:"id"`
	UserID     uint64                 `json:"user_id"`
	Name       string                 `json:"name"`
	Position   [3]float64             `json:"position"`
	Health     float64                `json:"health"`
	Attributes map[string]types.Value `json:"attributes"`
}

// EntityRecord is one spatial instance in a snapshot. Identity rotations
// are omitted from the wire record; observers treat absence as identity.
type EntityRecord struct {
	ID         uint64                 `json:"id"`
	Name       string                 `json:"name"`
	Position   [3]float64             `json:"position"`
	Rotation   *[3][3]float64         `json:"rotation,omitempty"`
	Size       [3]float64             `json:"size"`
	Velocity   [3]float64             `json:"velocity"`
	Anchored   bool                   `json:"anchored,omitempty"`
	Render     Render                 `json:"render"`
	Attributes map[string]types.Value `json:"attributes,omitempty"`
}

// EventRecord is one script-fired client event riding this snapshot.
type EventRecord struct {
	Name     string `json:"name"`
	Payload  any    `json:"payload,omitempty"`
	Reliable bool   `json:"reliable"`
}

// Snapshot is the observation record for one broadcast boundary. Order
// is stable (ids ascending) so observers can match entities across
// ticks for interpolation.
type Snapshot struct {
	Tick     uint64         `json:"tick"`
	Status   Status         `json:"status"`
	Players  []PlayerRecord `json:"players"`
	Entities []EntityRecord `json:"entities"`
	Events   []EventRecord  `json:"events,omitempty"`
}

// MapInfo carries the Static-tagged geometry observers fetch once
// instead of receiving in every snapshot.
type MapInfo struct {
	Gravity  float64        `json:"gravity"`
	Entities []EntityRecord `json:"entities"`
}

// buildSnapshot walks the live graph once and serializes the dynamic
// world: players plus every visible non-static part.
func buildSnapshot(tick uint64, status Status, g *graph.Graph, registry *services.Registry) Snapshot {
	snap := Snapshot{
		Tick:     tick,
		Status:   status,
		Players:  []PlayerRecord{},
		Entities: []EntityRecord{},
	}

	for _, h := range sortedByWireID(g) {
		class, err := g.ClassOf(h)
		if err != nil {
			continue
		}
		switch class {
		case graph.ClassPlayer:
			snap.Players = append(snap.Players, playerRecord(g, h))
		case graph.ClassPart:
			rec, ok := entityRecord(g, h, false)
			if ok {
				snap.Entities = append(snap.Entities, rec)
			}
		}
	}

	// Script-fired client events accumulated since the last broadcast.
	for _, ev := range registry.RemoteEvents().Drain() {
		snap.Events = append(snap.Events, EventRecord{
			Name:     ev.Name,
			Payload:  ev.Payload,
			Reliable: ev.Reliable,
		})
	}
	return snap
}

// buildMap serializes the Static-tagged parts plus world constants.
func buildMap(g *graph.Graph, registry *services.Registry) MapInfo {
	info := MapInfo{
		Gravity:  registry.Workspace().Gravity(),
		Entities: []EntityRecord{},
	}
	for _, h := range sortedByWireID(g) {
		if class, err := g.ClassOf(h); err != nil || class != graph.ClassPart {
			continue
		}
		rec, ok := entityRecord(g, h, true)
		if ok {
			info.Entities = append(info.Entities, rec)
		}
	}
	return info
}

func sortedByWireID(g *graph.Graph) []graph.Handle {
	handles := g.LiveHandles()
	sort.Slice(handles, func(i, j int) bool {
		a, _ := g.WireID(handles[i])
		b, _ := g.WireID(handles[j])
		return a < b
	})
	return handles
}

func playerRecord(g *graph.Graph, h graph.Handle) PlayerRecord {
	id, _ := g.WireID(h)
	name, _ := g.Name(h)
	attrs, _ := g.Attributes(h)
	if attrs == nil {
		attrs = map[string]types.Value{}
	}
	rec := PlayerRecord{
		ID:         id,
		Name:       name,
		Health:     graph.DefaultMaxHealth,
		Attributes: attrs,
	}
	props, err := g.Player(h)
	if err != nil {
		return rec
	}
	rec.UserID = props.UserID
	if props.Character.IsZero() || !g.Valid(props.Character) {
		return rec
	}
	if part, err := g.Part(props.Character); err == nil {
		rec.Position = part.Position.Array()
	}
	if hum := findHumanoid(g, props.Character); !hum.IsZero() {
		if props, err := g.Humanoid(hum); err == nil {
			rec.Health = props.Health
		}
	}
	return rec
}

// findHumanoid locates the humanoid on a character: the character itself
// or a direct child.
func findHumanoid(g *graph.Graph, character graph.Handle) graph.Handle {
	if class, err := g.ClassOf(character); err == nil && class == graph.ClassHumanoid {
		return character
	}
	kids, err := g.Children(character)
	if err != nil {
		return graph.Handle{}
	}
	for _, k := range kids {
		if class, err := g.ClassOf(k); err == nil && class == graph.ClassHumanoid {
			return k
		}
	}
	return graph.Handle{}
}

// entityRecord serializes one part, applying render-attribute overrides.
// Returns ok=false for parts excluded from this record stream: hidden
// ones always, static ones from snapshots, dynamic ones from the map.
func entityRecord(g *graph.Graph, h graph.Handle, wantStatic bool) (EntityRecord, bool) {
	if g.HasTag(h, TagHidden) {
		return EntityRecord{}, false
	}
	part, err := g.Part(h)
	if err != nil {
		return EntityRecord{}, false
	}
	attrs, _ := g.Attributes(h)

	if v, ok := attrs[attrRenderVisible]; ok && v.Kind() == types.KindBool && !v.Bool() {
		return EntityRecord{}, false
	}
	static := g.HasTag(h, TagStatic)
	if v, ok := attrs[attrRenderStatic]; ok && v.Kind() == types.KindBool {
		static = v.Bool()
	}
	if static != wantStatic {
		return EntityRecord{}, false
	}

	id, _ := g.WireID(h)
	name, _ := g.Name(h)
	rec := EntityRecord{
		ID:       id,
		Name:     name,
		Position: part.Position.Array(),
		Size:     part.Size.Array(),
		Velocity: part.Velocity.Array(),
		Anchored: part.Anchored,
		Render: Render{
			Shape:        part.Shape,
			Material:     part.Material,
			Color:        part.Color.Array(),
			Transparency: part.Transparency,
		},
	}
	if !part.Rotation.IsIdentity() {
		rot := [3][3]float64(part.Rotation)
		rec.Rotation = &rot
	}

	if v, ok := attrs[attrRenderPrimitive]; ok && v.Kind() == types.KindString {
		rec.Render.Shape = v.Str()
	}
	if v, ok := attrs[attrRenderMaterial]; ok && v.Kind() == types.KindString {
		rec.Render.Material = v.Str()
	}
	if v, ok := attrs[attrRenderColor]; ok && v.Kind() == types.KindVector3 {
		c := v.Vec3()
		rec.Render.Color = [3]float64{c.X, c.Y, c.Z}
	}

	// Reserved render keys stay out of the generic attribute map.
	filtered := make(map[string]types.Value)
	for k, v := range attrs {
		switch k {
		case attrRenderColor, attrRenderMaterial, attrRenderPrimitive, attrRenderStatic, attrRenderVisible:
			continue
		}
		filtered[k] = v
	}
	if len(filtered) > 0 {
		rec.Attributes = filtered
	}
	return rec, true
}
