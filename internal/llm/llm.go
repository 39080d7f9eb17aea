// Package llm defines the interface for streamed chat completions.
//
// A completer sends the persona prompt, the conversation history and the
// latest transcript to a remote language model and returns the reply as a
// stream of text fragments. The relay coalesces those fragments into
// sentence-like chunks (see Coalescer) before handing them to synthesis.
package llm

import (
	"context"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a chat prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion request.
type Request struct {
	// Messages is the full prompt, system persona first.
	Messages []Message

	// Model overrides the backend's configured model.
	Model string
}

// Stream yields reply fragments in order. Recv returns io.EOF once the
// reply is complete.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Completer is the interface for streamed chat completion backends.
type Completer interface {
	// Name returns the backend identifier (e.g., "together").
	Name() string

	// Stream starts a streamed completion for the request.
	Stream(ctx context.Context, req Request) (Stream, error)

	// Close releases any resources held by the completer.
	Close() error
}
