// Voicerelay is a voice conversation daemon: it transcribes an uploaded
// utterance, streams a language model reply sentence by sentence, and
// streams the synthesized speech back to the caller.
//
// Usage:
//
//	voicerelay [flags]
//	voicerelay --config /path/to/voicerelay.yaml
//
// @title       voicerelay API
// @version     1.0
// @description Voice conversation relay: upload speech, receive the assistant's spoken reply.
// @BasePath    /
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nadzzz/voicerelay/internal/archive"
	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/health"
	"github.com/nadzzz/voicerelay/internal/history"
	"github.com/nadzzz/voicerelay/internal/history/drivers"
	"github.com/nadzzz/voicerelay/internal/llm/together"
	"github.com/nadzzz/voicerelay/internal/relay"
	"github.com/nadzzz/voicerelay/internal/stt"
	deepgramstt "github.com/nadzzz/voicerelay/internal/stt/deepgram"
	googlestt "github.com/nadzzz/voicerelay/internal/stt/google"
	"github.com/nadzzz/voicerelay/internal/stt/whisper"
	"github.com/nadzzz/voicerelay/internal/transport"
	grpctransport "github.com/nadzzz/voicerelay/internal/transport/grpc"
	httptransport "github.com/nadzzz/voicerelay/internal/transport/http"
	"github.com/nadzzz/voicerelay/internal/tts"
	deepgramtts "github.com/nadzzz/voicerelay/internal/tts/deepgram"
	"github.com/nadzzz/voicerelay/internal/tts/piper"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/voicerelay.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("voicerelay %s\n", version)
		os.Exit(0)
	}

	if err := run(*configFile); err != nil {
		slog.Error("voicerelay failed", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	// Load configuration.
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("voicerelay starting", "version", version)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transcriber, err := newTranscriber(ctx, cfg.STT)
	if err != nil {
		return err
	}
	defer transcriber.Close()

	completer := together.New(cfg.LLM)
	defer completer.Close()
	slog.Info("using language model", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)

	synthesizer, err := newSynthesizer(cfg.TTS)
	if err != nil {
		return err
	}
	defer synthesizer.Close()

	store, err := drivers.Open(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()
	slog.Info("using history store", "backend", cfg.History.Backend, "max_messages", cfg.History.MaxMessages)

	healthServer := health.New(cfg.Server.HealthPort)
	if p, ok := store.(history.Pinger); ok {
		healthServer.AddCheck("history", p.Ping)
	}

	opts := []relay.Option{
		relay.WithSystemPrompt(cfg.LLM.SystemPrompt),
		relay.WithHistoryWindow(cfg.History.MaxMessages),
		relay.WithTurnTimeout(cfg.Relay.TurnTimeout),
	}
	if cfg.Archive.Enabled {
		bucket, err := archive.NewS3(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		opts = append(opts, relay.WithArchiver(bucket))
		healthServer.AddCheck("archive", bucket.Ping)
		slog.Info("archiving turns", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	r := relay.New(transcriber, completer, synthesizer, store, opts...)

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP, httptransport.WithResetFunc(r.Reset)))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}

	// Start health check server.
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, r.Handle); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
				cancel()
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("voicerelay ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	healthServer.SetReady(false)
	slog.Info("shutdown signal received, draining...")

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("voicerelay stopped")
	return nil
}

func newTranscriber(ctx context.Context, cfg config.STTConfig) (stt.Transcriber, error) {
	switch cfg.Backend {
	case "deepgram":
		slog.Info("using deepgram transcriber", "model", cfg.Deepgram.Model)
		return deepgramstt.New(cfg.Deepgram), nil
	case "google":
		t, err := googlestt.New(ctx, cfg.Google)
		if err != nil {
			return nil, fmt.Errorf("creating google transcriber: %w", err)
		}
		slog.Info("using google transcriber", "language", cfg.Google.LanguageCode)
		return t, nil
	case "whisper":
		slog.Info("using whisper transcriber", "base_url", cfg.Whisper.BaseURL, "model", cfg.Whisper.Model)
		return whisper.New(cfg.Whisper), nil
	default:
		return nil, fmt.Errorf("unknown stt backend %q", cfg.Backend)
	}
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Backend {
	case "deepgram":
		slog.Info("using deepgram synthesizer", "model", cfg.Deepgram.Model)
		return deepgramtts.New(cfg.Deepgram), nil
	case "piper":
		slog.Info("using piper synthesizer", "endpoint", cfg.Piper.Endpoint, "voice", cfg.Piper.Voice)
		return piper.New(cfg.Piper), nil
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}
}
