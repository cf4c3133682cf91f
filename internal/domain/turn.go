// Package domain contains core domain types for the Kaya assistant.
package domain

import (
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks text typed by the human operator.
	RoleUser Role = "user"
	// RoleAssistant marks text produced by the agent (or an error reply standing in for it).
	RoleAssistant Role = "assistant"
)

// Turn is one message in a transcript. Turns are never mutated after creation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsUser returns true if the turn was authored by the user.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

// Exchange is a ledger entry describing one completed request to the agent.
// It never carries message text.
type Exchange struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Model          ModelTier     `json:"model"`
	PromptLength   int           `json:"prompt_length"`
	ResponseLength int           `json:"response_length"`
	EventCount     int           `json:"event_count"`
	Duration       time.Duration `json:"duration"`
	Failed         bool          `json:"failed"`
	ErrorMessage   string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
