// Package message defines the core data types flowing through the voicerelay pipeline.
package message

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSession is the conversation used when a caller does not name one.
const DefaultSession = "default"

// Turn is one audio-in / audio-out round trip received from any transport.
type Turn struct {
	// ID is a unique identifier for this turn (UUID).
	ID string `json:"id"`

	// SessionID selects the conversation history this turn belongs to.
	SessionID string `json:"session_id"`

	// Audio is the raw uploaded audio. It is never interpreted locally.
	Audio []byte `json:"audio"`

	// ContentType is the MIME type of the audio (e.g., "audio/wav", "audio/webm").
	ContentType string `json:"content_type,omitempty"`

	// Timestamp is when the turn was received.
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn builds a Turn with a fresh ID. An empty session falls back to DefaultSession.
func NewTurn(sessionID string, audio []byte, contentType string) *Turn {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return &Turn{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Audio:       audio,
		ContentType: contentType,
		Timestamp:   time.Now().UTC(),
	}
}

// HasAudio returns true if the turn carries an audio payload.
func (t *Turn) HasAudio() bool {
	return len(t.Audio) > 0
}

// Stage names the pipeline step a failure happened in.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageCompletion    Stage = "completion"
	StageSynthesis     Stage = "synthesis"
)

// TurnResult is the outcome of running a turn through the pipeline.
type TurnResult struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`

	// Transcript is the text recognized from the uploaded audio.
	Transcript string `json:"transcript"`

	// Response is the full assistant reply, including any trailing text
	// that never reached terminal punctuation.
	Response string `json:"response"`

	// Sentences is the number of coalesced chunks sent to synthesis.
	Sentences int `json:"sentences"`

	// AudioBytes is the total number of synthesized bytes emitted.
	AudioBytes int64 `json:"audio_bytes"`

	// ContentType is the MIME type of the emitted audio.
	ContentType string `json:"content_type,omitempty"`

	// Stage and Error are set if processing failed.
	Stage Stage  `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Failed reports whether a pipeline stage failed.
func (r *TurnResult) Failed() bool {
	return r.Error != ""
}

// EventType identifies what an Event carries.
type EventType string

const (
	EventTranscript EventType = "transcript"
	EventSentence   EventType = "sentence"
	EventAudio      EventType = "audio"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is emitted by the relay while a turn runs. Transports translate
// events into their own framing.
type Event struct {
	Type   EventType `json:"type"`
	TurnID string    `json:"turn_id"`

	// Text carries the transcript, a sentence, or an error message.
	Text string `json:"text,omitempty"`

	// Audio is a chunk of synthesized audio.
	Audio []byte `json:"audio,omitempty"`

	// ContentType is the MIME type of Audio.
	ContentType string `json:"content_type,omitempty"`

	// Result is attached to EventDone.
	Result *TurnResult `json:"result,omitempty"`
}

// Sink receives the events of one turn. Returning an error aborts the turn,
// e.g. when the caller has gone away.
type Sink interface {
	Emit(ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event) error

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })
