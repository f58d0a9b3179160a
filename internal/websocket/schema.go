package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionFlag      Action = "flag"
	ActionTabSwitch Action = "tab_switch"
	ActionPing      Action = "ping"
	ActionSubmit    Action = "submit"
)

// Request is every client message. Only the fields relevant to Action are
// read.
type Request struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
	TimeSpent  int    `json:"time_spent_seconds,omitempty"`
	Flagged    *bool  `json:"flagged,omitempty"`
	// Trigger is "manual" (default) or "auto" when the client countdown hit zero.
	Trigger string `json:"trigger,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventFlagged   Event = "flagged"
	EventTabSwitch Event = "tab_switch"
	EventPong      Event = "pong"
	EventSubmitted Event = "submitted"
)

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type FlaggedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
	Flagged    bool   `json:"flagged"`
}

type TabSwitchResponse struct {
	Event Event `json:"event"`
	Count int   `json:"count"`
}

type PongResponse struct {
	Event         Event   `json:"event"`
	Status        string  `json:"status"`
	RemainingTime float64 `json:"remaining_time"`
	TabSwitches   int     `json:"tab_switches"`
}

// SubmittedResponse carries the score only when the exam releases results
// immediately.
type SubmittedResponse struct {
	Event      Event    `json:"event"`
	Status     string   `json:"status"`
	TotalScore *float64 `json:"total_score,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
}
