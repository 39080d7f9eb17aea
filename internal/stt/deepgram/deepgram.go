// Package deepgram implements the stt.Transcriber interface using Deepgram's
// pre-recorded audio API (POST /v1/listen).
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
)

const defaultBaseURL = "https://api.deepgram.com"

// Transcriber sends whole audio blobs to Deepgram for recognition.
type Transcriber struct {
	apiKey      string
	baseURL     string
	model       string
	language    string
	smartFormat bool
	client      *http.Client
}

// New creates a new Deepgram transcriber from config.
func New(cfg config.DeepgramSTT) *Transcriber {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Transcriber{
		apiKey:      cfg.APIKey,
		baseURL:     base,
		model:       cfg.Model,
		language:    cfg.Language,
		smartFormat: cfg.SmartFormat,
		client:      &http.Client{},
	}
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "deepgram" }

// listenResponse is the subset of the /v1/listen response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe posts the raw audio bytes and returns the first alternative of
// the first channel.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	q := make(url.Values)
	q.Set("model", t.model)
	q.Set("smart_format", strconv.FormatBool(t.smartFormat))
	if t.language != "" {
		q.Set("language", t.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "audio/*"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram listen request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading deepgram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram listen failed (status %d): %.2048s", resp.StatusCode, body)
	}

	var parsed listenResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding deepgram response: %w", err)
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("deepgram response has no transcript alternatives")
	}

	alt := parsed.Results.Channels[0].Alternatives[0]
	slog.Debug("deepgram transcription complete", "text_length", len(alt.Transcript), "confidence", alt.Confidence)
	return strings.TrimSpace(alt.Transcript), nil
}

// Close is a no-op for the Deepgram transcriber.
func (t *Transcriber) Close() error { return nil }
