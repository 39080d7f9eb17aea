package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/nadzzz/voicerelay/internal/message"
	"github.com/nadzzz/voicerelay/internal/relay"
	"github.com/nadzzz/voicerelay/internal/transport"
)

const (
	headerSessionID  = "X-Session-ID"
	headerTurnID     = "X-Turn-ID"
	headerTranscript = "X-Transcript"

	// formFieldAudio is the multipart field carrying the recording.
	formFieldAudio = "audio_file"
)

// handleProcessAudio processes a POST /process_audio request.
//
// @Summary     Speak to the assistant
// @Description Accepts one recorded utterance, either as the multipart field "audio_file" or as the raw request body.
// @Description The audio is transcribed, the assistant's reply is generated and synthesized sentence by sentence,
// @Description and the synthesized audio is streamed back as it is produced.
// @Tags        conversation
// @Accept      multipart/form-data
// @Accept      audio/wav
// @Accept      audio/webm
// @Produce     audio/mpeg
// @Param       audio_file    formData  file    false  "Recorded utterance (multipart uploads)"
// @Param       X-Session-ID  header    string  false  "Conversation to continue (defaults to \"default\")"
// @Success     200  {file}    binary         "Synthesized reply; headers X-Turn-ID and X-Transcript (percent-encoded) describe the turn"
// @Success     204  {string}  string         "Nothing was recognized in the audio"
// @Failure     400  {object}  errorResponse  "Missing or unreadable audio"
// @Failure     413  {object}  errorResponse  "Upload too large"
// @Failure     502  {object}  errorResponse  "A speech or language provider failed"
// @Router      /process_audio [post]
func (t *Transport) handleProcessAudio(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	r.Body = http.MaxBytesReader(w, r.Body, t.maxUploadBytes)

	audio, contentType, err := t.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("upload exceeds %d bytes", t.maxUploadBytes)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	turn := message.NewTurn(sessionFromRequest(r), audio, contentType)
	sink := &responseSink{w: w, rc: http.NewResponseController(w), turn: turn}

	result, err := handler(r.Context(), turn, sink)
	if sink.started {
		if err != nil {
			// Headers are gone; the client sees a truncated stream.
			slog.Warn("turn ended after audio was sent", "turn_id", turn.ID, "error", err)
		}
		return
	}

	w.Header().Set(headerTurnID, turn.ID)
	switch {
	case errors.Is(err, relay.ErrEmptyTranscript):
		w.WriteHeader(http.StatusNoContent)
	case result != nil && result.Failed():
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:  result.Error,
			Stage:  string(result.Stage),
			TurnID: turn.ID,
		})
	case err != nil:
		slog.Error("turn failed", "turn_id", turn.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), TurnID: turn.ID})
	default:
		// The model replied with nothing speakable.
		if result != nil && result.Transcript != "" {
			w.Header().Set(headerTranscript, url.PathEscape(result.Transcript))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// readUpload extracts the audio and its MIME type from a multipart form or
// the raw request body.
func (t *Transport) readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(t.maxUploadBytes); err != nil {
			return nil, "", fmt.Errorf("parsing multipart form: %w", err)
		}
		file, hdr, err := r.FormFile(formFieldAudio)
		if err != nil {
			return nil, "", fmt.Errorf("missing form field %q: %w", formFieldAudio, err)
		}
		defer file.Close()

		audio, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("reading audio: %w", err)
		}
		if len(audio) == 0 {
			return nil, "", errors.New("audio file is empty")
		}
		return audio, hdr.Header.Get("Content-Type"), nil
	}

	audio, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", errors.New("request body is empty")
	}
	return audio, r.Header.Get("Content-Type"), nil
}

func sessionFromRequest(r *http.Request) string {
	if s := r.Header.Get(headerSessionID); s != "" {
		return s
	}
	return r.URL.Query().Get("session_id")
}

// responseSink streams audio events into the HTTP response. Headers are
// written with the first audio chunk so failures before that point can still
// produce a proper error status.
type responseSink struct {
	w          http.ResponseWriter
	rc         *http.ResponseController
	turn       *message.Turn
	transcript string
	started    bool
}

func (s *responseSink) Emit(ev message.Event) error {
	switch ev.Type {
	case message.EventTranscript:
		s.transcript = ev.Text
	case message.EventAudio:
		if !s.started {
			h := s.w.Header()
			h.Set("Content-Type", ev.ContentType)
			h.Set(headerTurnID, s.turn.ID)
			h.Set(headerTranscript, url.PathEscape(s.transcript))
			h.Set("Cache-Control", "no-store")
			s.w.WriteHeader(http.StatusOK)
			s.started = true
		}
		if _, err := s.w.Write(ev.Audio); err != nil {
			return fmt.Errorf("writing audio: %w", err)
		}
		if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("flushing audio: %w", err)
		}
	}
	return nil
}
