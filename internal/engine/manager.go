package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"scriptworld/internal/scripting"
	"scriptworld/internal/services"
	"scriptworld/pkg/logger"
)

// ErrGameNotFound is returned for lookups of unknown game ids.
var ErrGameNotFound = errors.New("game not found")

type runningGame struct {
	inst *GameInstance
	stop chan struct{}
	done chan struct{}
}

// Manager owns the run set: every live game instance and the goroutine
// driving its tick loop. One goroutine per instance; instances share no
// mutable state, so the manager's lock only guards the run-set map.
type Manager struct {
	cfg   Config
	store services.KVStore

	mu    sync.RWMutex
	games map[string]*runningGame
}

// NewManager creates an empty run set. The store may be nil; games then
// run without a datastore backend.
func NewManager(store services.KVStore, cfg Config) *Manager {
	return &Manager{
		cfg:   cfg,
		store: store,
		games: make(map[string]*runningGame),
	}
}

// CreateGame assembles an instance, loads its scripts, and starts its
// tick loop. A script load failure aborts creation; nothing is kept.
func (m *Manager) CreateGame(name string, modules []scripting.Module) (*GameInstance, error) {
	inst := NewGameInstance(name, m.store, m.cfg)
	if err := inst.Load(modules); err != nil {
		inst.Shutdown()
		return nil, err
	}

	rg := &runningGame{
		inst: inst,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.games[inst.ID] = rg
	m.mu.Unlock()

	go m.run(rg)

	logger.Log.WithFields(logrus.Fields{
		"game_id": inst.ID,
		"name":    name,
		"modules": len(modules),
	}).Info("game created")
	return inst, nil
}

// run drives one instance at the configured tick rate until stopped.
// The instance is never torn down mid-tick.
func (m *Manager) run(rg *runningGame) {
	defer close(rg.done)

	dt := 1.0 / float64(rg.inst.cfg.TickRate)
	ticker := time.NewTicker(time.Duration(float64(time.Second) * dt))
	defer ticker.Stop()

	for {
		select {
		case <-rg.stop:
			rg.inst.Shutdown()
			return
		case <-ticker.C:
			rg.inst.Advance(dt)
		}
	}
}

// Get returns a live instance by id.
func (m *Manager) Get(id string) (*GameInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg, ok := m.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return rg.inst, nil
}

// List returns the current run set.
func (m *Manager) List() []*GameInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*GameInstance, 0, len(m.games))
	for _, rg := range m.games {
		out = append(out, rg.inst)
	}
	return out
}

// DestroyGame stops an instance's loop, waits for the current tick to
// complete, and removes it from the run set.
func (m *Manager) DestroyGame(id string) error {
	m.mu.Lock()
	rg, ok := m.games[id]
	if ok {
		delete(m.games, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrGameNotFound
	}

	close(rg.stop)
	<-rg.done

	logger.Log.WithFields(logrus.Fields{"game_id": id}).Info("game destroyed")
	return nil
}

// Shutdown stops every instance. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	games := m.games
	m.games = make(map[string]*runningGame)
	m.mu.Unlock()

	for _, rg := range games {
		close(rg.stop)
	}
	for _, rg := range games {
		<-rg.done
	}
}
