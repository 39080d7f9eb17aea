package whisper

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

type captured struct {
	auth, model, language, filename string
	audio                            []byte
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, <-chan captured) {
	t.Helper()
	reqs := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		c := captured{
			auth:     r.Header.Get("Authorization"),
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			c.filename = hdr.Filename
			c.audio, _ = io.ReadAll(f)
			f.Close()
		}
		reqs <- c

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func TestTranscribe(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK, `{"text":"  hello world  "}`)

	tr := New(config.WhisperSTT{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Language: "en"})
	text, err := tr.Transcribe(context.Background(), []byte("RIFFdata"), "audio/webm;codecs=opus")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	got := <-reqs
	assert.Equal(t, "Bearer sk-test", got.auth)
	assert.Equal(t, "whisper-1", got.model)
	assert.Equal(t, "en", got.language)
	assert.Equal(t, "audio.webm", got.filename)
	assert.Equal(t, []byte("RIFFdata"), got.audio)
}

func TestTranscribe_ProviderError(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)

	_, err := New(config.WhisperSTT{BaseURL: srv.URL + "/v1", Model: "large-v3"}).
		Transcribe(context.Background(), []byte("x"), "audio/wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestExtFromContentType(t *testing.T) {
	tests := map[string]string{
		"audio/wav":                ".wav",
		"audio/mpeg":               ".mp3",
		"audio/ogg; codecs=opus":   ".ogg",
		"audio/webm":               ".webm",
		"audio/x-flac":             ".flac",
		"audio/m4a":                ".m4a",
		"":                         ".wav",
		"application/octet-stream": ".wav",
	}
	for ct, want := range tests {
		assert.Equal(t, want, extFromContentType(ct), ct)
	}
}
