package piper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/voicerelay/internal/config"
	"github.com/nadzzz/voicerelay/internal/tts"
)

// fakePiper serves one connection with the given handler.
func fakePiper(t *testing.T, serve func(r *bufio.Reader, w io.Writer)) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(bufio.NewReader(conn), conn)
	}()
	return lis.Addr().String()
}

func TestSynthesize(t *testing.T) {
	requests := make(chan *event, 1)
	addr := fakePiper(t, func(r *bufio.Reader, w io.Writer) {
		ev, _, err := readEvent(r)
		if err != nil {
			return
		}
		requests <- ev
		_ = writeEvent(w, event{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
		_ = writeEvent(w, event{Type: "audio-chunk"}, []byte{1, 2, 3, 4})
		_ = writeEvent(w, event{Type: "audio-chunk"}, []byte{5, 6})
		_ = writeEvent(w, event{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperTTS{Endpoint: "tcp://" + addr})
	res, err := s.Synthesize(context.Background(), "Hello there.", tts.SynthesizeOpts{})
	require.NoError(t, err)
	defer res.Audio.Close()

	assert.Equal(t, "audio/wav", res.ContentType)
	wav, err := io.ReadAll(res.Audio)
	require.NoError(t, err)
	require.Len(t, wav, 44+6)
	assert.Equal(t, "RIFF", string(wav[:4]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, wav[44:])

	req := <-requests
	assert.Equal(t, "synthesize", req.Type)
	var data struct {
		Text  string `json:"text"`
		Voice struct {
			Name string `json:"name"`
		} `json:"voice"`
	}
	require.NoError(t, sonic.Unmarshal(req.Raw, &data))
	assert.Equal(t, "Hello there.", data.Text)
	assert.Equal(t, defaultVoice, data.Voice.Name)
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	requests := make(chan *event, 1)
	addr := fakePiper(t, func(r *bufio.Reader, w io.Writer) {
		ev, _, err := readEvent(r)
		if err != nil {
			return
		}
		requests <- ev
		_ = writeEvent(w, event{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperTTS{Endpoint: addr, Voice: "en_GB-alan-low"})
	res, err := s.Synthesize(context.Background(), "Hi.", tts.SynthesizeOpts{Voice: "fr_FR-siwis-medium"})
	require.NoError(t, err)
	res.Audio.Close()

	assert.Contains(t, string((<-requests).Raw), "fr_FR-siwis-medium")
}

func TestSynthesize_ServerError(t *testing.T) {
	addr := fakePiper(t, func(r *bufio.Reader, w io.Writer) {
		if _, _, err := readEvent(r); err != nil {
			return
		}
		_ = writeEvent(w, event{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
	})

	_, err := New(config.PiperTTS{Endpoint: addr}).Synthesize(context.Background(), "Hi.", tts.SynthesizeOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestSynthesize_EmptyText(t *testing.T) {
	_, err := New(config.PiperTTS{Endpoint: "127.0.0.1:1"}).Synthesize(context.Background(), "", tts.SynthesizeOpts{})
	assert.Error(t, err)
}

func TestSynthesize_Cancelled(t *testing.T) {
	addr := fakePiper(t, func(r *bufio.Reader, w io.Writer) {
		_, _, _ = readEvent(r)
		time.Sleep(time.Second)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := New(config.PiperTTS{Endpoint: addr}).Synthesize(ctx, "Hi.", tts.SynthesizeOpts{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEvent(&buf, event{Type: "audio-chunk", Data: map[string]any{"rate": 22050}}, []byte("pcm")))

	ev, payload, err := readEvent(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "audio-chunk", ev.Type)
	assert.JSONEq(t, `{"rate":22050}`, string(ev.Raw))
	assert.Equal(t, []byte("pcm"), payload)

	_, _, err = readEvent(bufio.NewReader(bytes.NewBufferString("garbage\n")))
	assert.Error(t, err)
}
