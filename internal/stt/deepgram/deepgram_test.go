package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/voicerelay/internal/config"
)

func newTestTranscriber(url string) *Transcriber {
	return New(config.DeepgramSTT{
		APIKey:  "dg-key",
		BaseURL: url,
		Model:   "nova-2",
	})
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "false", r.URL.Query().Get("smart_format"))
		assert.Empty(t, r.URL.Query().Get("language"))
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/webm", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte("RIFFfake"), body)

		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":" hello there ","confidence":0.98}]}]}}`)
	}))
	defer srv.Close()

	text, err := newTestTranscriber(srv.URL).Transcribe(context.Background(), []byte("RIFFfake"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestTranscribe_DefaultContentTypeAndLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "audio/*", r.Header.Get("Content-Type"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":""}]}]}}`)
	}))
	defer srv.Close()

	tr := New(config.DeepgramSTT{APIKey: "k", BaseURL: srv.URL + "/", Model: "nova-2", Language: "en", SmartFormat: true})
	text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3}, "")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscribe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusUnauthorized, `{"err_code":"INVALID_AUTH"}`},
		{"bad json", http.StatusOK, `not json`},
		{"no channels", http.StatusOK, `{"results":{"channels":[]}}`},
		{"no alternatives", http.StatusOK, `{"results":{"channels":[{"alternatives":[]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestTranscriber(srv.URL).Transcribe(context.Background(), []byte("x"), "audio/wav")
			assert.Error(t, err)
		})
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestTranscriber(srv.URL).Transcribe(ctx, []byte("x"), "audio/wav")
	assert.ErrorIs(t, err, context.Canceled)
}
