// Package together implements the llm.Completer interface against the
// Together AI chat completions API.
//
// Together speaks the OpenAI wire protocol, so the go-openai client is used
// with its base URL pointed at https://api.together.xyz/v1. Any other
// OpenAI-compatible endpoint (vLLM, llama.cpp server, OpenAI itself) can be
// reached by changing llm.base_url.
package together

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/llm"
)

// Completer streams chat completions from an OpenAI-compatible endpoint.
type Completer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	topP        float32
	stop        []string
}

// New creates a new Together completer from config.
func New(cfg config.LLMConfig) *Completer {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	// top_k and repetition_penalty are Together extensions that the
	// OpenAI request type has no fields for.
	extra := make(map[string]any, 2)
	if cfg.TopK > 0 {
		extra["top_k"] = cfg.TopK
	}
	if cfg.RepetitionPenalty > 0 {
		extra["repetition_penalty"] = cfg.RepetitionPenalty
	}
	oc.HTTPClient = &http.Client{
		Transport: &extraParamsTransport{base: http.DefaultTransport, params: extra},
	}

	return &Completer{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		stop:        cfg.Stop,
	}
}

// Name returns the backend identifier.
func (c *Completer) Name() string { return "together" }

// Stream opens a streamed chat completion.
func (c *Completer) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		Stop:        c.stop,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat stream request: %w", err)
	}

	slog.Debug("chat stream opened", "model", model, "messages", len(messages))
	return &fragmentStream{stream: stream}, nil
}

// Close is a no-op; the HTTP client holds no per-completer state.
func (c *Completer) Close() error { return nil }

// fragmentStream adapts a go-openai stream to llm.Stream.
type fragmentStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns the next non-empty content delta. Chunks that carry only a
// role or a finish reason are skipped.
func (s *fragmentStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("receiving chat fragment: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *fragmentStream) Close() error {
	return s.stream.Close()
}

// extraParamsTransport merges provider-specific fields into outgoing JSON
// request bodies. Fields already present in the body are left untouched.
type extraParamsTransport struct {
	base   http.RoundTripper
	params map[string]any
}

func (t *extraParamsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.params) == 0 || req.Body == nil || req.Method != http.MethodPost ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	var payload map[string]any
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}
	for k, v := range t.params {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}
	merged, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(merged))
	out.ContentLength = int64(len(merged))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(merged)), nil
	}
	return t.base.RoundTrip(out)
}
