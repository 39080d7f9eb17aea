// Package stt defines the interface for speech-to-text backends.
//
// A transcriber takes an opaque audio blob exactly as the caller uploaded it
// and returns the recognized text. voicerelay ships with two backends:
// Deepgram (REST, the default) and Google Cloud Speech-to-Text (gRPC).
package stt

import "context"

// Transcriber converts audio to text.
type Transcriber interface {
	// Name returns the backend identifier (e.g., "deepgram", "google").
	Name() string

	// Transcribe sends the audio to the remote service and returns the
	// transcript. An empty transcript with a nil error means nothing was
	// recognized.
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)

	// Close releases any resources held by the transcriber.
	Close() error
}
