package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/nadzzz/voicerelay/internal/message"
	"github.com/nadzzz/voicerelay/internal/relay"
	"github.com/nadzzz/voicerelay/internal/transport"
)

// Control messages a WebSocket client sends as text frames.
const (
	wsEnd   = "end"   // the buffered binary frames form one utterance
	wsReset = "reset" // forget the session's history
)

// wsControl is a client text frame.
type wsControl struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// wsEvent is a server text frame. Audio travels in binary frames.
type wsEvent struct {
	Type        message.EventType   `json:"type"`
	TurnID      string              `json:"turn_id,omitempty"`
	Text        string              `json:"text,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	Result      *message.TurnResult `json:"result,omitempty"`
}

// handleWebSocket serves GET /ws.
//
// The client streams one utterance as binary frames and then sends
// {"type":"end"}. The server answers with JSON text frames (transcript,
// sentence, done, error) interleaved with binary frames of synthesized
// audio. A connection carries any number of turns, processed one at a time.
//
// @Summary     Multi-turn voice conversation
// @Description Upgrades to a WebSocket. Send binary audio frames followed by a text frame {"type":"end","session_id":"...","content_type":"audio/webm"}.
// @Description The server replies with JSON events and binary audio frames. {"type":"reset"} clears the session history.
// @Tags        conversation
// @Param       session_id  query  string  false  "Default session for turns on this connection"
// @Success     101  {string}  string  "Switching Protocols"
// @Router      /ws [get]
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(t.maxUploadBytes)
	ctx := r.Context()
	defaultSession := sessionFromRequest(r)
	logger := slog.With("remote", r.RemoteAddr)
	logger.Info("websocket connected")

	var audio bytes.Buffer
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("websocket disconnected")
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if int64(audio.Len()+len(data)) > t.maxUploadBytes {
				_ = writeWSError(conn, fmt.Sprintf("utterance exceeds %d bytes", t.maxUploadBytes))
				audio.Reset()
				continue
			}
			audio.Write(data)

		case websocket.TextMessage:
			var ctrl wsControl
			if err := sonic.Unmarshal(data, &ctrl); err != nil {
				_ = writeWSError(conn, "invalid control message: "+err.Error())
				continue
			}
			session := ctrl.SessionID
			if session == "" {
				session = defaultSession
			}

			switch ctrl.Type {
			case wsEnd:
				if audio.Len() == 0 {
					_ = writeWSError(conn, "no audio received before end")
					continue
				}
				turn := message.NewTurn(session, bytes.Clone(audio.Bytes()), ctrl.ContentType)
				audio.Reset()

				_, err := handler(ctx, turn, &wsSink{conn: conn})
				if err != nil && !errors.Is(err, relay.ErrEmptyTranscript) {
					logger.Warn("websocket turn failed", "turn_id", turn.ID, "error", err)
					if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
						return
					}
				}

			case wsReset:
				if t.reset == nil {
					_ = writeWSError(conn, "session reset not available")
					continue
				}
				if err := t.reset(ctx, session); err != nil {
					_ = writeWSError(conn, err.Error())
					continue
				}
				_ = conn.WriteJSON(statusResponse{Status: "reset", SessionID: session})

			default:
				_ = writeWSError(conn, fmt.Sprintf("unknown control message type %q", ctrl.Type))
			}
		}
	}
}

// wsSink writes relay events to a WebSocket connection.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Emit(ev message.Event) error {
	if ev.Type == message.EventAudio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, ev.Audio); err != nil {
			return fmt.Errorf("writing audio frame: %w", err)
		}
		return nil
	}

	body, err := sonic.Marshal(wsEvent{
		Type:        ev.Type,
		TurnID:      ev.TurnID,
		Text:        ev.Text,
		ContentType: ev.ContentType,
		Result:      ev.Result,
	})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("writing event frame: %w", err)
	}
	return nil
}

func writeWSError(conn *websocket.Conn, msg string) error {
	return (&wsSink{conn: conn}).Emit(message.Event{Type: message.EventError, Text: msg})
}
