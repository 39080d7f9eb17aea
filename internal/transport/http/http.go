// Package http implements the HTTP/WebSocket transport for voicerelay.
//
// This transport exposes POST /process_audio, which takes one recorded
// utterance and streams the spoken reply back in the response body, and a
// WebSocket endpoint for clients that keep a connection open across turns.
// It is best suited for browsers and mobile apps.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/voicerelay/docs" // registers the OpenAPI spec
	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/transport"
)

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port           int
	maxUploadBytes int64
	allowedOrigins []string
	rateLimit      int
	reset          transport.ResetFunc
	upgrader       websocket.Upgrader
	server         *http.Server
}

// Option configures a Transport.
type Option func(*Transport)

// WithResetFunc enables DELETE /sessions/{id}.
func WithResetFunc(fn transport.ResetFunc) Option {
	return func(t *Transport) { t.reset = fn }
}

// New creates a new HTTP transport from config.
func New(cfg config.HTTPConfig, opts ...Option) *Transport {
	t := &Transport{
		port:           cfg.Port,
		maxUploadBytes: cfg.MaxUploadBytes,
		allowedOrigins: cfg.AllowedOrigins,
		rateLimit:      cfg.RateLimit,
	}
	if t.maxUploadBytes <= 0 {
		t.maxUploadBytes = 25 << 20
	}
	if len(t.allowedOrigins) == 0 {
		t.allowedOrigins = []string{"*"}
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     t.checkOrigin,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Router builds the HTTP handler serving every route of the transport.
func (t *Transport) Router(handler transport.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: t.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerSessionID},
		ExposedHeaders: []string{headerTurnID, headerTranscript},
	}))

	r.Group(func(r chi.Router) {
		if t.rateLimit > 0 {
			r.Use(httprate.LimitByIP(t.rateLimit, time.Minute))
		}

		// POST /process_audio: one utterance in, streamed speech out.
		r.Post("/process_audio", func(w http.ResponseWriter, r *http.Request) {
			t.handleProcessAudio(w, r, handler)
		})

		// GET /ws: multi-turn WebSocket session.
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			t.handleWebSocket(w, r, handler)
		})

		// DELETE /sessions/{id}: forget a conversation.
		r.Delete("/sessions/{id}", t.handleResetSession)
	})

	// Swagger UI: serves the OpenAPI docs.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Router(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

// handleResetSession processes DELETE /sessions/{id}.
//
// @Summary     Reset a conversation
// @Description Deletes the stored history of a session. The next turn in that session starts a fresh conversation.
// @Tags        sessions
// @Produce     json
// @Param       id   path      string  true  "Session ID"
// @Success     200  {object}  statusResponse
// @Failure     501  {object}  errorResponse  "Session reset not available"
// @Failure     500  {object}  errorResponse
// @Router      /sessions/{id} [delete]
func (t *Transport) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if t.reset == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "session reset not available"})
		return
	}

	id := chi.URLParam(r, "id")
	if err := t.reset(r.Context(), id); err != nil {
		slog.Error("session reset failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "reset", SessionID: id})
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(t.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(t.allowedOrigins, origin)
}

// statusResponse is returned by administrative endpoints.
type statusResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
