package domain

import (
	"strings"
	"time"
)

// Direction tells whether a message came from or went to the user.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// User is a contact known to the engine, keyed by its normalized identity
// (usually a national phone number).
type User struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

// AppState is free-form application data carried between steps.
type AppState map[string]any

// Clone returns a shallow copy so callers cannot mutate persisted state.
func (s AppState) Clone() AppState {
	if s == nil {
		return nil
	}
	out := make(AppState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Visit is one persisted step of dialogue for a user.
// The latest visit (highest Seq) is the user's current state.
type Visit struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Seq                int64      `json:"seq"`
	CurrentNode        string     `json:"current_node"`
	NextNode           string     `json:"next_node,omitempty"`
	MessageIDs         []string   `json:"message_ids,omitempty"`
	State              AppState   `json:"state,omitempty"`
	SleepUntil         *time.Time `json:"sleep_until,omitempty"`
	TransitionExecuted bool       `json:"transition_executed"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Gated reports whether the visit's next step is still waiting on its timer.
func (v *Visit) Gated(now time.Time) bool {
	return v.SleepUntil != nil && v.SleepUntil.After(now)
}

// Due reports whether a wake sweep should drive this visit.
func (v *Visit) Due(now time.Time) bool {
	return v.SleepUntil != nil && !v.SleepUntil.After(now) && !v.TransitionExecuted
}

// Message is one line of text exchanged with a user.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	VisitID   string    `json:"visit_id"`
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// DueVisit identifies a visit whose delayed step is ready to run.
type DueVisit struct {
	VisitID  string
	Identity string
}

// History is the full log of a user, oldest first.
type History struct {
	User     User      `json:"user"`
	Visits   []Visit   `json:"visits"`
	Messages []Message `json:"messages"`
}

// Session is the result of one top-level run: everything that should be
// sent back to the user in reply to a single inbound event.
type Session struct {
	Identity string    `json:"identity"`
	Messages []Message `json:"messages"`
	// NextNode is where the user is suspended after the run.
	NextNode string `json:"next_node,omitempty"`
	// Gated is set when the run hit an unexpired timer and did nothing.
	Gated bool `json:"gated,omitempty"`
	// Aborted is set when the automatic chain exceeded the depth bound.
	Aborted bool `json:"aborted,omitempty"`
}

// Texts returns the outbound message bodies in order.
func (s Session) Texts() []string {
	texts := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		texts = append(texts, m.Body)
	}
	return texts
}

// Reply joins the outbound texts the way a single SMS reply carries them.
func (s Session) Reply() string {
	return strings.Join(s.Texts(), "\n")
}
