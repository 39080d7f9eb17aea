// Package history stores per-session conversation history.
//
// History is an append-only list of role-tagged messages in call order. The
// relay never evicts stored messages; Window trims only the view sent to the
// language model.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/nadzzz/voicerelay/internal/llm"
)

// Common errors for history store operations.
var (
	ErrInvalidConfig  = errors.New("invalid history configuration")
	ErrInvalidBackend = errors.New("invalid history backend")
)

// Message is one stored history entry.
type Message struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(role llm.Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// Store defines the interface for conversation history storage.
type Store interface {
	// Load returns the session's messages in the order they were appended.
	// An unknown session has an empty history, not an error.
	Load(ctx context.Context, session string) ([]Message, error)

	// Append adds messages to the end of the session's history.
	Append(ctx context.Context, session string, msgs ...Message) error

	// Reset deletes the session's history.
	Reset(ctx context.Context, session string) error

	// Close closes the store and releases any resources.
	Close() error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Window returns the last maxMessages entries of msgs. A non-positive
// maxMessages returns msgs unchanged. A trimmed window never starts with an
// assistant reply whose question was cut off.
func Window(msgs []Message, maxMessages int) []Message {
	if maxMessages <= 0 || len(msgs) <= maxMessages {
		return msgs
	}
	w := msgs[len(msgs)-maxMessages:]
	for len(w) > 0 && w[0].Role == llm.RoleAssistant {
		w = w[1:]
	}
	return w
}

// ToLLM converts stored messages to prompt messages.
func ToLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
