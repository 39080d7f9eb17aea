// Package transport defines the interface for pluggable ingress transports.
//
// Each transport (HTTP/WebSocket, gRPC) accepts audio from callers, hands it
// to the relay as a Turn and translates the relay's events back into its own
// framing. The relay doesn't care how turns arrive; it only works with the
// Handler contract.
package transport

import (
	"context"

	"github.com/nadzzz/voicerelay/internal/message"
)

// Handler processes one turn, emitting events to sink while it runs.
// The relay provides this handler to each transport.
type Handler func(ctx context.Context, turn *message.Turn, sink message.Sink) (*message.TurnResult, error)

// ResetFunc clears the conversation history of a session.
type ResetFunc func(ctx context.Context, session string) error

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts accepting turns and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight turns.
	Close() error
}
