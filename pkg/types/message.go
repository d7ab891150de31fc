package types

import "time"

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session-control command tokens. A query equal to one of these resets
// the session instead of being routed to retrieval.
const (
	CommandNew   = "/new"
	CommandReset = "/reset"
	CommandClear = "/clear"
)

// IsSessionCommand reports whether text is a session-control command.
func IsSessionCommand(text string) bool {
	switch text {
	case CommandNew, CommandReset, CommandClear:
		return true
	}
	return false
}

// EstimateTokens is the rough character-based token estimate used for
// history and context budgeting. Four characters per token tracks the
// common BPE vocabularies closely enough for budget enforcement.
func EstimateTokens(text string) int {
	return len(text) / 4
}
