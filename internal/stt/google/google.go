// Package google implements the stt.Transcriber interface using Google Cloud
// Speech-to-Text (synchronous Recognize).
package google

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/nadzzz/voicerelay/internal/config"
)

// Transcriber sends whole audio blobs to Google Cloud Speech-to-Text.
type Transcriber struct {
	client       *speech.Client
	languageCode string
	model        string
	sampleRate   int32
}

// New creates a Google Speech client. It uses the configured credentials
// file, or Application Default Credentials when none is set.
func New(ctx context.Context, cfg config.GoogleSTT) (*Transcriber, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating speech client: %w", err)
	}

	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}

	return &Transcriber{
		client:       client,
		languageCode: lang,
		model:        cfg.Model,
		sampleRate:   cfg.SampleRateHertz,
	}, nil
}

// Name returns the backend identifier.
func (t *Transcriber) Name() string { return "google" }

// Transcribe runs a synchronous recognition and joins the top alternative of
// every result.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	resp, err := t.client.Recognize(ctx, buildRequest(audio, contentType, t.languageCode, t.model, t.sampleRate))
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
				parts = append(parts, s)
			}
		}
	}

	text := strings.Join(parts, " ")
	slog.Debug("google transcription complete", "results", len(parts), "text_length", len(text))
	return text, nil
}

// Close releases the underlying gRPC connection.
func (t *Transcriber) Close() error {
	return t.client.Close()
}

func buildRequest(audio []byte, contentType, lang, model string, sampleRate int32) *speechpb.RecognizeRequest {
	enc := encodingFor(contentType)

	cfg := &speechpb.RecognitionConfig{
		Encoding:     enc,
		LanguageCode: lang,
		Model:        model,
	}
	// WAV and FLAC carry their own sample rate in the header.
	if sampleRate > 0 && enc != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED && enc != speechpb.RecognitionConfig_FLAC {
		cfg.SampleRateHertz = sampleRate
	}

	return &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
}

// encodingFor maps an upload MIME type to a Speech encoding. Containers
// whose header describes the audio (WAV) map to ENCODING_UNSPECIFIED.
func encodingFor(contentType string) speechpb.RecognitionConfig_AudioEncoding {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch mt {
	case "audio/flac", "audio/x-flac":
		return speechpb.RecognitionConfig_FLAC
	case "audio/ogg", "audio/opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "audio/webm", "video/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "audio/mpeg", "audio/mp3":
		return speechpb.RecognitionConfig_MP3
	case "audio/basic", "audio/mulaw":
		return speechpb.RecognitionConfig_MULAW
	case "audio/l16":
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
