package api

// EngineError represents a structured error response with context.
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e EngineError) Error() string {
	return e.Message
}

// Error types.
const (
	ErrTypeValidation   = "validation_error"
	ErrTypeGameNotFound = "game_not_found"
	ErrTypeScriptLoad   = "script_load_error"
	ErrTypeQueueFull    = "queue_full"
	ErrTypeInternal     = "internal_error"
)

// CreateGameRequest is the POST /games body: named script modules that
// load in declared order.
type CreateGameRequest struct {
	Name    string          `json:"name"`
	Modules []ModulePayload `json:"modules"`
}

type ModulePayload struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// GameInfo summarizes one running instance.
type GameInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Tick         uint64 `json:"tick"`
	ScriptErrors int64  `json:"script_errors"`
}

// InputRequest is the POST /games/{id}/input body. Type is an opaque
// tag interpreted by the game's script.
type InputRequest struct {
	UserID uint64         `json:"user_id"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
}

// JoinRequest adds a player to a game's roster.
type JoinRequest struct {
	UserID uint64 `json:"user_id"`
	Name   string `json:"name"`
}
