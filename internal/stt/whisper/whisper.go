// Package whisper implements stt.Transcriber against any OpenAI-compatible
// transcription endpoint: OpenAI itself, whisper.cpp server or
// faster-whisper.
package whisper

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/voicerelay/internal/config"
)

// Transcriber sends audio to /audio/transcriptions.
type Transcriber struct {
	client   *openai.Client
	model    string
	language string
}

// New creates a new Whisper transcriber from config.
func New(cfg config.WhisperSTT) *Transcriber {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		language: cfg.Language,
	}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "whisper" }

// Transcribe uploads the audio as a multipart file and returns the text.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio" + extFromContentType(contentType),
		Reader:   bytes.NewReader(audio),
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Close is a no-op.
func (t *Transcriber) Close() error { return nil }

// extFromContentType picks the file extension the endpoint uses to sniff
// the container format.
func extFromContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(ct)
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".wav"
	}
}
