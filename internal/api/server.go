// Package api exposes the game manager over HTTP: game lifecycle,
// player input, snapshot polling, and a websocket spectate feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"scriptworld/internal/engine"
	"scriptworld/internal/scripting"
	"scriptworld/pkg/logger"
)

const maxBodyBytes = 1 << 20 // script sources included

// Server handles HTTP requests against the manager's run set.
type Server struct {
	manager   *engine.Manager
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewServer creates an API server over the given manager.
func NewServer(manager *engine.Manager) *Server {
	return &Server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
}

// Routes sets up the HTTP routes with proper middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/games", func(r chi.Router) {
		r.Post("/", s.handleCreateGame)
		r.Get("/", s.handleListGames)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDestroyGame)
			r.Post("/input", s.handleInput)
			r.Post("/join", s.handleJoin)
			r.Post("/leave", s.handleLeave)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/map", s.handleMap)
			r.Get("/logs", s.handleLogs)
			r.Get("/spectate", s.handleSpectate)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
		"games":  len(s.manager.List()),
	})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Modules) == 0 {
		s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeValidation, "at least one script module is required", nil)
		return
	}
	if req.Name == "" {
		req.Name = "game"
	}
	modules := make([]scripting.Module, 0, len(req.Modules))
	for _, m := range req.Modules {
		if m.Source == "" {
			s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeValidation, "module source is required", map[string]any{"module": m.Name})
			return
		}
		modules = append(modules, scripting.Module{Name: m.Name, Source: m.Source})
	}

	inst, err := s.manager.CreateGame(req.Name, modules)
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeScriptLoad, err.Error(), nil)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, gameInfo(inst))
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games := s.manager.List()
	out := make([]GameInfo, 0, len(games))
	for _, inst := range games {
		out = append(out, gameInfo(inst))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleDestroyGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.DestroyGame(id); err != nil {
		s.gameError(w, r, id, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	var req InputRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeValidation, "input type is required", nil)
		return
	}
	if !inst.EnqueueInput(engine.Input{UserID: req.UserID, Kind: req.Type, Payload: req.Data}) {
		s.writeError(w, r, http.StatusTooManyRequests, ErrTypeQueueFull, "input queue is full", map[string]any{"game_id": inst.ID})
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	var req JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeValidation, "user_id is required", nil)
		return
	}
	if !inst.Join(req.UserID, req.Name) {
		s.writeError(w, r, http.StatusTooManyRequests, ErrTypeQueueFull, "input queue is full", map[string]any{"game_id": inst.ID})
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	var req JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !inst.Leave(req.UserID) {
		s.writeError(w, r, http.StatusTooManyRequests, ErrTypeQueueFull, "input queue is full", map[string]any{"game_id": inst.ID})
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, inst.Snapshot())
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, inst.Map())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"game_id":       inst.ID,
		"script_errors": inst.ScriptErrors(),
		"logs":          inst.Logs(),
	})
}

// handleSpectate upgrades to a websocket and forwards one frame per
// broadcast boundary until the client disconnects or the game ends.
func (s *Server) handleSpectate(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.game(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("spectate upgrade failed")
		return
	}
	defer conn.Close()

	frames := inst.Watch()
	defer inst.Unwatch(frames)

	// Reader goroutine: its only job is noticing the disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial frame so spectators render before the next boundary.
	if err := conn.WriteJSON(inst.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case snap, open := <-frames:
			if !open {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "game finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// --- helpers -----------------------------------------------------------

func gameInfo(inst *engine.GameInstance) GameInfo {
	return GameInfo{
		ID:           inst.ID,
		Name:         inst.Name,
		Status:       string(inst.Status()),
		Tick:         inst.Tick(),
		ScriptErrors: inst.ScriptErrors(),
	}
}

func (s *Server) game(w http.ResponseWriter, r *http.Request) (*engine.GameInstance, bool) {
	id := chi.URLParam(r, "id")
	inst, err := s.manager.Get(id)
	if err != nil {
		s.gameError(w, r, id, err)
		return nil, false
	}
	return inst, true
}

func (s *Server) gameError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, engine.ErrGameNotFound) {
		s.writeError(w, r, http.StatusNotFound, ErrTypeGameNotFound, "no such game", map[string]any{"game_id": id})
		return
	}
	s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, err.Error(), map[string]any{"game_id": id})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, ErrTypeValidation, "invalid JSON body", map[string]any{"cause": err.Error()})
		return false
	}
	return true
}

// writeJSON writes a JSON response with proper headers.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("response encoding failed")
	}
}

// writeError writes a structured error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string, context map[string]any) {
	s.writeJSON(w, r, status, EngineError{
		Type:      errType,
		Message:   message,
		Context:   context,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
