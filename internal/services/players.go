package services

import (
	"scriptworld/internal/graph"
	"scriptworld/internal/signal"
)

// Players is the connected-player roster service. Player instances are
// parented under a dedicated container so they appear in the graph walk
// and in snapshots.
type Players struct {
	g         *graph.Graph
	container graph.Handle

	PlayerAdded    *signal.Signal
	PlayerRemoving *signal.Signal
}

func newPlayers(g *graph.Graph) *Players {
	container := g.Create(graph.ClassFolder, "Players")
	_ = g.SetParent(container, g.Root())
	return &Players{
		g:              g,
		container:      container,
		PlayerAdded:    signal.New("PlayerAdded"),
		PlayerRemoving: signal.New("PlayerRemoving"),
	}
}

func (p *Players) ServiceName() string { return "Players" }

// SetErrorSink routes roster-signal handler errors into the engine's
// script error accounting.
func (p *Players) SetErrorSink(sink signal.ErrorSink) {
	p.PlayerAdded.SetErrorSink(sink)
	p.PlayerRemoving.SetErrorSink(sink)
}

// Add creates a Player instance for the session and fires PlayerAdded.
// The caller provides the stable numeric user id and display name.
func (p *Players) Add(userID uint64, name string) graph.Handle {
	h := p.g.Create(graph.ClassPlayer, name)
	if props, err := p.g.Player(h); err == nil {
		props.UserID = userID
	}
	_ = p.g.SetParent(h, p.container)
	p.PlayerAdded.Fire(h)
	return h
}

// Remove fires PlayerRemoving, then destroys the player instance and its
// character (if any).
func (p *Players) Remove(userID uint64) bool {
	h, ok := p.ByUserID(userID)
	if !ok {
		return false
	}
	p.PlayerRemoving.Fire(h)
	if props, err := p.g.Player(h); err == nil && !props.Character.IsZero() {
		_ = p.g.Destroy(props.Character)
	}
	_ = p.g.Destroy(h)
	return true
}

// All returns the live player instances in join order.
func (p *Players) All() []graph.Handle {
	kids, err := p.g.Children(p.container)
	if err != nil {
		return nil
	}
	return kids
}

// ByUserID finds the player instance for a user id.
func (p *Players) ByUserID(userID uint64) (graph.Handle, bool) {
	for _, h := range p.All() {
		if props, err := p.g.Player(h); err == nil && props.UserID == userID {
			return h, true
		}
	}
	return graph.Handle{}, false
}

// Count reports the roster size.
func (p *Players) Count() int { return len(p.All()) }
