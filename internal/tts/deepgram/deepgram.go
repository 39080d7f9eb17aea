// Package deepgram implements the tts.Synthesizer interface using Deepgram's
// Aura REST API (POST /v1/speak).
//
// The response body is handed to the caller unread so that audio can be
// forwarded to the client while Deepgram is still producing it.
package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/tts"
)

const defaultBaseURL = "https://api.deepgram.com"

// Synthesizer implements tts.Synthesizer against Deepgram Aura.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	model      string
	encoding   string
	sampleRate int
	container  string
	client     *http.Client
}

// New creates a new Deepgram synthesizer from config.
func New(cfg config.DeepgramTTS) *Synthesizer {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Synthesizer{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		model:      cfg.Model,
		encoding:   cfg.Encoding,
		sampleRate: cfg.SampleRate,
		container:  cfg.Container,
		client:     &http.Client{},
	}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "deepgram" }

type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize requests speech for text and returns the streaming body.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	model := s.model
	if opts.Voice != "" {
		model = opts.Voice
	}

	q := make(url.Values)
	q.Set("model", model)
	if s.encoding != "" {
		q.Set("encoding", s.encoding)
		if s.sampleRate > 0 {
			q.Set("sample_rate", strconv.Itoa(s.sampleRate))
		}
		if s.container != "" {
			q.Set("container", s.container)
		}
	}

	payload, err := sonic.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encoding speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/speak?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram speak request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("deepgram speak failed (status %d): %s", resp.StatusCode, body)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "audio/") {
		ct = ContentType(s.encoding, s.container)
	}

	slog.Debug("deepgram synthesis started", "model", model, "text_length", len(text), "content_type", ct)
	return &tts.SynthesizeResult{Audio: resp.Body, ContentType: ct}, nil
}

// Close is a no-op for the Deepgram synthesizer.
func (s *Synthesizer) Close() error { return nil }

// ContentType returns the MIME type Deepgram produces for an encoding and
// container pair. An empty encoding is Deepgram's default, MP3.
func ContentType(encoding, container string) string {
	switch strings.ToLower(encoding) {
	case "", "mp3":
		return "audio/mpeg"
	case "linear16":
		if container == "none" {
			return "audio/l16"
		}
		return "audio/wav"
	case "mulaw", "alaw":
		if container == "wav" {
			return "audio/wav"
		}
		return "audio/basic"
	case "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
