package event

import "github.com/parley-ai/parley/pkg/types"

// SessionData is the payload for session.created, session.updated and
// session.deleted events.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// MessageData is the payload for message.created and message.updated events.
type MessageData struct {
	Info *types.Message `json:"info"`
}

// TodoData is the payload for todo.updated events.
type TodoData struct {
	SessionID string           `json:"sessionID"`
	Todos     []types.TodoItem `json:"todos"`
}
