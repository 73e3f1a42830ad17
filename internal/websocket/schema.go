package websocket

import (
	"github.com/google/uuid"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action of a client message.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventTick     Event = "tick"
	EventTerminal Event = "terminal"
	EventPong     Event = "pong"
)

// TimerMessage carries the remaining time of one session, or its final
// state once it closes.
type TimerMessage struct {
	Event            Event     `json:"event"`
	SessionID        uuid.UUID `json:"session_id"`
	State            string    `json:"state"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Score            *float64  `json:"score,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
