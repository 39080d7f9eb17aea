// Package relay implements the voice conversation pipeline.
//
// A turn runs strictly in order: the uploaded audio is transcribed, the
// transcript is appended to the session history, the language model reply
// is streamed and coalesced into sentence-like chunks, and every chunk is
// synthesized and emitted as soon as it is complete. Turns of one session
// are serialized so history is always appended in call order.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nadzzz/voicerelay/internal/archive"
	"github.com/nadzzz/voicerelay/internal/history"
	"github.com/nadzzz/voicerelay/internal/llm"
	"github.com/nadzzz/voicerelay/internal/message"
	"github.com/nadzzz/voicerelay/internal/stt"
	"github.com/nadzzz/voicerelay/internal/tts"
)

// Stage errors. Handle wraps one of these when a turn produces no reply.
var (
	ErrTranscription   = errors.New("transcription failed")
	ErrCompletion      = errors.New("completion failed")
	ErrSynthesis       = errors.New("synthesis failed")
	ErrEmptyTranscript = errors.New("empty transcript")
)

// audioChunkSize bounds the size of each emitted audio event.
const audioChunkSize = 32 << 10

// Relay runs turns through transcription, completion and synthesis.
type Relay struct {
	transcriber  stt.Transcriber
	completer    llm.Completer
	synthesizer  tts.Synthesizer
	history      history.Store
	archiver     archive.Archiver // nil if archiving is disabled
	systemPrompt string
	maxHistory   int
	turnTimeout  time.Duration
	voice        string

	locks sessionLocks
}

// Option configures a Relay.
type Option func(*Relay)

// WithSystemPrompt sets the persona prompt sent ahead of the history.
func WithSystemPrompt(prompt string) Option {
	return func(r *Relay) { r.systemPrompt = prompt }
}

// WithHistoryWindow limits how many history messages are sent to the model.
// Zero sends the whole history.
func WithHistoryWindow(n int) Option {
	return func(r *Relay) { r.maxHistory = n }
}

// WithTurnTimeout bounds the duration of a single turn, including the wait
// for an earlier turn of the same session.
func WithTurnTimeout(d time.Duration) Option {
	return func(r *Relay) { r.turnTimeout = d }
}

// WithArchiver uploads every finished turn to a.
func WithArchiver(a archive.Archiver) Option {
	return func(r *Relay) { r.archiver = a }
}

// WithVoice overrides the synthesizer's configured voice.
func WithVoice(voice string) Option {
	return func(r *Relay) { r.voice = voice }
}

// New creates a Relay over the given backends.
func New(transcriber stt.Transcriber, completer llm.Completer, synthesizer tts.Synthesizer, store history.Store, opts ...Option) *Relay {
	r := &Relay{
		transcriber: transcriber,
		completer:   completer,
		synthesizer: synthesizer,
		history:     store,
		locks:       sessionLocks{m: make(map[string]*sessionLock)},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes a single turn, emitting events to sink as they happen.
// It is passed as the transport.Handler to each transport.
//
// The returned result is never nil. The error is nil when the turn produced
// a reply; otherwise it wraps one of the stage errors, ErrEmptyTranscript,
// the context error, or the sink's error when the caller went away.
func (r *Relay) Handle(ctx context.Context, turn *message.Turn, sink message.Sink) (*message.TurnResult, error) {
	if sink == nil {
		sink = message.Discard
	}
	if r.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.turnTimeout)
		defer cancel()
	}

	t := &turnRun{
		relay:  r,
		turn:   turn,
		sink:   sink,
		start:  time.Now(),
		logger: slog.With("turn_id", turn.ID, "session_id", turn.SessionID),
		result: &message.TurnResult{
			TurnID:    turn.ID,
			SessionID: turn.SessionID,
		},
	}

	release, err := r.locks.acquire(ctx, turn.SessionID)
	if err != nil {
		t.result.Duration = time.Since(t.start)
		return t.result, fmt.Errorf("waiting for session: %w", err)
	}
	defer release()

	t.logger.Info("turn started", "content_type", turn.ContentType, "bytes", len(turn.Audio))
	return t.run(ctx)
}

// Reset clears a session's history. It waits for any running turn of the
// session to finish first.
func (r *Relay) Reset(ctx context.Context, session string) error {
	if session == "" {
		session = message.DefaultSession
	}
	release, err := r.locks.acquire(ctx, session)
	if err != nil {
		return fmt.Errorf("waiting for session: %w", err)
	}
	defer release()

	if err := r.history.Reset(ctx, session); err != nil {
		return fmt.Errorf("resetting history: %w", err)
	}
	slog.Info("session reset", "session_id", session)
	return nil
}

// turnRun holds the state of one turn.
type turnRun struct {
	relay  *Relay
	turn   *message.Turn
	sink   message.Sink
	start  time.Time
	logger *slog.Logger
	result *message.TurnResult
	output bytes.Buffer // synthesized audio, kept only when archiving
}

func (t *turnRun) run(ctx context.Context) (*message.TurnResult, error) {
	r := t.relay

	// Step 1: Transcribe audio.
	if !t.turn.HasAudio() {
		return t.fail(message.StageTranscription, fmt.Errorf("%w: no audio", ErrTranscription))
	}
	transcript, err := r.transcriber.Transcribe(ctx, t.turn.Audio, t.turn.ContentType)
	if err != nil {
		return t.fail(message.StageTranscription, fmt.Errorf("%w: %w", ErrTranscription, err))
	}
	transcript = strings.TrimSpace(transcript)
	t.result.Transcript = transcript
	t.logger.Info("transcription complete", "backend", r.transcriber.Name(), "text_length", len(transcript))

	if transcript == "" {
		t.logger.Info("empty transcript, skipping completion")
		if err := t.finish(ctx); err != nil {
			return t.result, err
		}
		return t.result, ErrEmptyTranscript
	}

	if err := t.emit(message.Event{Type: message.EventTranscript, Text: transcript}); err != nil {
		return t.result, err
	}

	// Step 2: Record the user's words and build the prompt.
	if err := r.history.Append(ctx, t.turn.SessionID, history.NewMessage(llm.RoleUser, transcript)); err != nil {
		return t.fail(message.StageCompletion, fmt.Errorf("%w: %w", ErrCompletion, err))
	}
	past, err := r.history.Load(ctx, t.turn.SessionID)
	if err != nil {
		return t.fail(message.StageCompletion, fmt.Errorf("%w: %w", ErrCompletion, err))
	}

	prompt := make([]llm.Message, 0, len(past)+1)
	if r.systemPrompt != "" {
		prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	prompt = append(prompt, history.ToLLM(history.Window(past, r.maxHistory))...)

	// Step 3: Stream the reply, synthesizing each sentence as it completes.
	stream, err := r.completer.Stream(ctx, llm.Request{Messages: prompt})
	if err != nil {
		return t.fail(message.StageCompletion, fmt.Errorf("%w: %w", ErrCompletion, err))
	}
	t.logger.Debug("completion stream opened", "backend", r.completer.Name(), "messages", len(prompt))

	var (
		response  strings.Builder
		coalescer llm.Coalescer
		sinkErr   error
	)
	for sinkErr == nil {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.logger.Warn("completion stream ended early", "error", err)
			break
		}
		response.WriteString(fragment)
		if chunk, ok := coalescer.Push(fragment); ok {
			sinkErr = t.speak(ctx, chunk)
		}
	}
	_ = stream.Close()

	if sinkErr == nil && ctx.Err() == nil {
		if rest, ok := coalescer.Flush(); ok {
			sinkErr = t.speak(ctx, rest)
		}
	}

	// Step 4: Record the whole reply, including text that was never spoken.
	t.result.Response = response.String()
	if t.result.Response != "" {
		if err := r.history.Append(context.WithoutCancel(ctx), t.turn.SessionID, history.NewMessage(llm.RoleAssistant, t.result.Response)); err != nil {
			t.logger.Error("failed to append reply to history", "error", err)
		}
	}

	if sinkErr != nil {
		t.result.Duration = time.Since(t.start)
		t.logger.Warn("turn aborted by caller", "error", sinkErr)
		return t.result, sinkErr
	}
	if err := ctx.Err(); err != nil {
		t.result.Duration = time.Since(t.start)
		t.logger.Warn("turn cancelled", "error", err)
		return t.result, err
	}
	if t.result.Sentences > 0 && t.result.AudioBytes == 0 {
		return t.fail(message.StageSynthesis, fmt.Errorf("%w: no sentence could be synthesized", ErrSynthesis))
	}

	if err := t.finish(ctx); err != nil {
		return t.result, err
	}
	return t.result, nil
}

// speak synthesizes one chunk and emits its audio. Synthesis failures are
// logged and the chunk is skipped; only sink errors are returned.
func (t *turnRun) speak(ctx context.Context, chunk string) error {
	text := tts.Normalize(chunk)
	if text == "" {
		return nil
	}
	t.result.Sentences++

	if err := t.emit(message.Event{Type: message.EventSentence, Text: strings.TrimSpace(chunk)}); err != nil {
		return err
	}

	res, err := t.relay.synthesizer.Synthesize(ctx, text, tts.SynthesizeOpts{Voice: t.relay.voice})
	if err != nil {
		t.logger.Warn("synthesis failed, skipping sentence", "error", err, "text_length", len(text))
		return nil
	}
	defer res.Audio.Close()

	if t.result.ContentType == "" {
		t.result.ContentType = res.ContentType
	}

	buf := make([]byte, audioChunkSize)
	for {
		n, err := res.Audio.Read(buf)
		if n > 0 {
			audio := bytes.Clone(buf[:n])
			t.result.AudioBytes += int64(n)
			if t.relay.archiver != nil {
				t.output.Write(audio)
			}
			if emitErr := t.emit(message.Event{Type: message.EventAudio, Audio: audio, ContentType: res.ContentType}); emitErr != nil {
				return emitErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			t.logger.Warn("synthesis stream interrupted", "error", err)
			return nil
		}
	}
}

// finish archives the turn and emits the done event.
func (t *turnRun) finish(ctx context.Context) error {
	t.result.Duration = time.Since(t.start)

	if a := t.relay.archiver; a != nil {
		if err := archive.SaveTurn(context.WithoutCancel(ctx), a, t.turn, t.result, t.output.Bytes()); err != nil {
			t.logger.Error("failed to archive turn", "error", err)
		}
	}

	t.logger.Info("turn complete",
		"duration", t.result.Duration,
		"sentences", t.result.Sentences,
		"audio_bytes", t.result.AudioBytes,
	)
	return t.emit(message.Event{Type: message.EventDone, Result: t.result})
}

// fail records a stage failure on the result and notifies the caller.
func (t *turnRun) fail(stage message.Stage, err error) (*message.TurnResult, error) {
	t.result.Stage = stage
	t.result.Error = err.Error()
	t.result.Duration = time.Since(t.start)
	t.logger.Error("turn failed", "stage", stage, "error", err)

	if emitErr := t.emit(message.Event{Type: message.EventError, Text: t.result.Error, Result: t.result}); emitErr != nil {
		t.logger.Debug("could not deliver error event", "error", emitErr)
	}
	return t.result, err
}

func (t *turnRun) emit(ev message.Event) error {
	ev.TurnID = t.turn.ID
	if err := t.sink.Emit(ev); err != nil {
		return fmt.Errorf("emitting %s event: %w", ev.Type, err)
	}
	return nil
}
