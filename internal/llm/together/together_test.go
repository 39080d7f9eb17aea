package together

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/llm"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:            "tg-key",
		BaseURL:           baseURL,
		Model:             "meta-llama/Llama-3-8b-chat-hf",
		Temperature:       1,
		MaxTokens:         1024,
		TopP:              0.9,
		TopK:              75,
		RepetitionPenalty: 1,
		Stop:              []string{"<|eot_id|>", "[/INST]", "</s>", "<|im_end|>"},
	}
}

func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, d := range deltas {
		chunk := map[string]any{
			"id":     "chunk",
			"object": "chat.completion.chunk",
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]any{"content": d}},
			},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStream_SendsPayloadAndYieldsFragments(t *testing.T) {
	var got map[string]any
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeSSE(w, "", "Hey", " there", ".", " How are you?")
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	stream, err := c.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "persona"},
			{Role: llm.RoleUser, Content: "hello"},
		},
	})
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, f)
	}

	assert.Equal(t, []string{"Hey", " there", ".", " How are you?"}, fragments)
	assert.Equal(t, "Bearer tg-key", auth)

	assert.Equal(t, "meta-llama/Llama-3-8b-chat-hf", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.EqualValues(t, 1024, got["max_tokens"])
	assert.EqualValues(t, 75, got["top_k"])
	assert.EqualValues(t, 1, got["repetition_penalty"])
	assert.InDelta(t, 0.9, got["top_p"], 1e-6)
	assert.Len(t, got["stop"], 4)

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestStream_ModelOverride(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		writeSSE(w)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	stream, err := c.Stream(context.Background(), llm.Request{
		Model:    "mistralai/Mistral-7B-Instruct-v0.2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.2", model)
}

func TestStream_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestExtraParamsTransport_KeepsExistingFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	client := &http.Client{Transport: &extraParamsTransport{
		base:   http.DefaultTransport,
		params: map[string]any{"top_k": 75, "model": "ignored"},
	}}

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"model":"kept"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "kept", got["model"])
	assert.EqualValues(t, 75, got["top_k"])
}
