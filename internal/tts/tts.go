// Package tts defines the interface for text-to-speech synthesis.
//
// voicerelay synthesizes every coalesced sentence of the assistant reply as
// soon as it is complete, so synthesizers are called many times per turn with
// short inputs and return their audio as a stream.
package tts

import (
	"context"
	"io"
)

// SynthesizeOpts controls synthesis behavior.
type SynthesizeOpts struct {
	// Voice overrides the configured voice model (e.g., "aura-luna-en").
	Voice string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Name returns the backend identifier (e.g., "deepgram").
	Name() string

	// Synthesize generates audio for the given text. The caller must close
	// the returned result's Audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio streams the encoded audio as it arrives from the provider.
	Audio io.ReadCloser

	// ContentType is the MIME type of the audio (e.g., "audio/mpeg").
	ContentType string
}
