// Package piper implements tts.Synthesizer against a Piper server speaking
// the Wyoming protocol, for deployments that keep speech synthesis local.
//
// Every event on the wire is framed as:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/tts"
)

const (
	defaultVoice   = "en_US-lessac-medium"
	dialTimeout    = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// Synthesizer implements tts.Synthesizer using the Wyoming protocol.
type Synthesizer struct {
	endpoint string
	voice    string
}

// New creates a new Piper synthesizer from config.
func New(cfg config.PiperTTS) *Synthesizer {
	endpoint := strings.TrimPrefix(cfg.Endpoint, "tcp://")
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	return &Synthesizer{endpoint: endpoint, voice: voice}
}

// Name returns the backend identifier.
func (s *Synthesizer) Name() string { return "piper" }

// audioFormat is announced by the server's audio-start event.
type audioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Synthesize renders text and returns it as a WAV file.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text for synthesis")
	}
	voice := opts.Voice
	if voice == "" {
		voice = s.voice
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := event{
		Type: "synthesize",
		Data: map[string]any{"text": text, "voice": map[string]any{"name": voice}},
	}
	if err := writeEvent(conn, req, nil); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	format := audioFormat{Rate: 22050, Width: 2, Channels: 1}
	var pcm bytes.Buffer
	r := bufio.NewReader(conn)
	for {
		ev, payload, err := readEvent(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch ev.Type {
		case "audio-start":
			if err := sonic.Unmarshal(ev.Raw, &format); err != nil {
				return nil, fmt.Errorf("decoding audio format: %w", err)
			}
		case "audio-chunk":
			pcm.Write(payload)
		case "audio-stop":
			slog.Debug("piper synthesized", "voice", voice, "pcm_bytes", pcm.Len(), "rate", format.Rate)
			wav := pcmToWAV(pcm.Bytes(), format)
			return &tts.SynthesizeResult{
				Audio:       io.NopCloser(bytes.NewReader(wav)),
				ContentType: "audio/wav",
			}, nil
		case "error":
			var body struct {
				Text string `json:"text"`
			}
			_ = sonic.Unmarshal(ev.Raw, &body)
			if body.Text == "" {
				body.Text = "unknown error"
			}
			return nil, fmt.Errorf("piper error: %s", body.Text)
		}
	}
}

// Close is a no-op; connections are per request.
func (s *Synthesizer) Close() error { return nil }

// event is one Wyoming message. Raw holds the undecoded data object.
type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Raw  []byte         `json:"-"`
}

func writeEvent(w io.Writer, ev event, payload []byte) error {
	body, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(body), len(payload))
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r *bufio.Reader) (*event, []byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header %q", strings.TrimSpace(header))
	}
	jsonLen, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json length: %w", err)
	}
	payloadLen, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload length: %w", err)
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}

	var wire struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(body[:jsonLen], &wire); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}

	ev := &event{Type: wire.Type, Raw: wire.Data}
	if len(ev.Raw) == 0 {
		ev.Raw = []byte("{}")
	}
	return ev, payload, nil
}

// pcmToWAV wraps little-endian PCM in a 44-byte RIFF header.
func pcmToWAV(pcm []byte, f audioFormat) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	le(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le(uint32(16))
	le(uint16(1)) // PCM
	le(uint16(f.Channels))
	le(uint32(f.Rate))
	le(uint32(f.Rate * f.Channels * f.Width))
	le(uint16(f.Channels * f.Width))
	le(uint16(f.Width * 8))

	buf.WriteString("data")
	le(uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
