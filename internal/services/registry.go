// Package services implements the per-game-instance service registry and
// the built-in singleton services scripts resolve by name.
package services

import (
	"errors"
	"fmt"

	"scriptworld/internal/graph"
	"scriptworld/internal/physics"
)

// ErrUnknownService is returned for a lookup of an undefined service
// name. The registry never silently returns a placeholder.
var ErrUnknownService = errors.New("unknown service")

// Service is the common surface of registry entries.
type Service interface {
	ServiceName() string
}

// Deferrer schedules work that must not run inside the tick loop. The do
// func runs on a background worker; done is delivered back on a later
// tick boundary by the scheduler.
type Deferrer interface {
	Defer(do func() (any, error), done func(any, error))
}

// KVStore is the durable key/value + leaderboard collaborator consumed
// by DataStoreService. Implemented by internal/store.
type KVStore interface {
	GetValue(store, key string) (string, bool, error)
	SetValue(store, key, value string) error
	Increment(store, key string, delta float64) (float64, error)
	SubmitScore(store, member string, score string) error
	TopScores(store string, limit int) ([]ScoreEntry, error)
}

// ScoreEntry is one leaderboard row, best first.
type ScoreEntry struct {
	Member string `json:"member"`
	Score  string `json:"score"`
}

// Deps carries the per-game collaborators the built-in services bind to.
type Deps struct {
	Graph    *graph.Graph
	Physics  physics.Provider
	Store    KVStore
	Deferrer Deferrer
	GameKey  string // namespaces datastore rows per game
}

// Registry is the per-game-instance singleton table. Services are
// created lazily on first lookup and live until the game instance dies.
type Registry struct {
	deps     Deps
	services map[string]Service
}

// NewRegistry creates an empty registry bound to the game's deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		services: make(map[string]Service),
	}
}

// GetOrCreate resolves a service by name. Repeated calls with the same
// name return the identical handle.
func (r *Registry) GetOrCreate(name string) (Service, error) {
	if svc, ok := r.services[name]; ok {
		return svc, nil
	}
	var svc Service
	switch name {
	case "Workspace":
		svc = newWorkspace(r.deps.Graph, r.deps.Physics)
	case "Players":
		svc = newPlayers(r.deps.Graph)
	case "RunService":
		svc = newRunService()
	case "AgentInputService":
		svc = newAgentInput()
	case "DataStoreService":
		svc = newDataStore(r.deps.Store, r.deps.Deferrer, r.deps.GameKey)
	case "RemoteEventService":
		svc = newRemoteEvents()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	r.services[name] = svc
	return svc, nil
}

// Workspace returns the workspace service, creating it if needed.
func (r *Registry) Workspace() *Workspace {
	svc, _ := r.GetOrCreate("Workspace")
	return svc.(*Workspace)
}

// Players returns the player roster service, creating it if needed.
func (r *Registry) Players() *Players {
	svc, _ := r.GetOrCreate("Players")
	return svc.(*Players)
}

// RunService returns the tick-timing service, creating it if needed.
func (r *Registry) RunService() *RunService {
	svc, _ := r.GetOrCreate("RunService")
	return svc.(*RunService)
}

// AgentInput returns the input-delivery service, creating it if needed.
func (r *Registry) AgentInput() *AgentInput {
	svc, _ := r.GetOrCreate("AgentInputService")
	return svc.(*AgentInput)
}

// DataStore returns the persistence service, creating it if needed.
func (r *Registry) DataStore() *DataStore {
	svc, _ := r.GetOrCreate("DataStoreService")
	return svc.(*DataStore)
}

// RemoteEvents returns the client-broadcast service, creating it if
// needed.
func (r *Registry) RemoteEvents() *RemoteEvents {
	svc, _ := r.GetOrCreate("RemoteEventService")
	return svc.(*RemoteEvents)
}
