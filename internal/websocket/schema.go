package websocket

import "github.com/paperdesk/paperdesk-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect    Action = "select"
	ActionSubmit    Action = "submit"
	ActionFocusLoss Action = "focus_loss"
	ActionEvent     Action = "event"
	ActionPing      Action = "ping"
)

// RequestPayload carries every client action; unused fields stay zero.
type RequestPayload struct {
	Action Action `json:"action"`
	Number int    `json:"number,omitempty"` // select
	Answer string `json:"ans,omitempty"`    // select
	Kind   string `json:"kind,omitempty"`   // event
	Detail string `json:"detail,omitempty"` // event
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSession   Event = "session"
	EventState     Event = "state"
	EventWarning   Event = "warning"
	EventCompleted Event = "completed"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// SessionResponse is sent once after connect with the full restored state.
type SessionResponse struct {
	Event           Event               `json:"event"`
	State           string              `json:"state"`
	Title           string              `json:"title"`
	DurationMinutes int                 `json:"duration_minutes"`
	Questions       []model.MCQQuestion `json:"questions"`
	Answers         map[int]string      `json:"answers"`
	TimeRemaining   int                 `json:"time_remaining"`
	TabSwitchCount  int                 `json:"tab_switch_count"`
}

// StateResponse is the 1 Hz heartbeat carrying the countdown.
type StateResponse struct {
	Event          Event  `json:"event"`
	State          string `json:"state"`
	TimeRemaining  int    `json:"time_remaining"`
	TabSwitchCount int    `json:"tab_switch_count"`
}

// WarningResponse is pushed when a focus-loss strike is recorded.
type WarningResponse struct {
	Event          Event  `json:"event"`
	TabSwitchCount int    `json:"tab_switch_count"`
	Remaining      int    `json:"strikes_remaining"`
	Message        string `json:"message"`
}

// CompletedResponse carries the final result once the attempt is terminal.
type CompletedResponse struct {
	Event  Event             `json:"event"`
	State  string            `json:"state"`
	Result *model.ExamResult `json:"result,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
