// Package archive uploads finished turns to object storage.
//
// Each turn is stored under <session>/<yyyy-mm-dd>/<turn_id>/ as three
// objects: the uploaded audio ("input"), the synthesized reply ("output")
// and a JSON record of the turn result ("turn.json").
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/bytedance/sonic"

	"github.com/nadzzz/voicerelay/internal/message"
)

// Archiver stores opaque objects under a key.
type Archiver interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Object names within a turn's prefix.
const (
	ObjectInput  = "input"
	ObjectOutput = "output"
	ObjectRecord = "turn.json"
)

// Record is the JSON document stored alongside a turn's audio.
type Record struct {
	Turn              *message.TurnResult `json:"turn"`
	ReceivedAt        time.Time           `json:"received_at"`
	InputContentType  string              `json:"input_content_type,omitempty"`
	InputBytes        int                 `json:"input_bytes"`
	OutputContentType string              `json:"output_content_type,omitempty"`
}

// Key returns the object key for name within a turn's prefix. The session
// ID is path-escaped so it always occupies a single segment.
func Key(sessionID, turnID string, at time.Time, name string) string {
	return path.Join(url.PathEscape(sessionID), at.UTC().Format("2006-01-02"), turnID, name)
}

// SaveTurn uploads the input audio, the output audio (when any) and the turn
// record.
func SaveTurn(ctx context.Context, a Archiver, turn *message.Turn, result *message.TurnResult, output []byte) error {
	key := func(name string) string { return Key(turn.SessionID, turn.ID, turn.Timestamp, name) }

	inputType := turn.ContentType
	if inputType == "" {
		inputType = "application/octet-stream"
	}
	if err := a.Put(ctx, key(ObjectInput), inputType, turn.Audio); err != nil {
		return fmt.Errorf("archiving input audio: %w", err)
	}

	if len(output) > 0 {
		if err := a.Put(ctx, key(ObjectOutput), result.ContentType, output); err != nil {
			return fmt.Errorf("archiving output audio: %w", err)
		}
	}

	rec, err := sonic.Marshal(Record{
		Turn:              result,
		ReceivedAt:        turn.Timestamp,
		InputContentType:  turn.ContentType,
		InputBytes:        len(turn.Audio),
		OutputContentType: result.ContentType,
	})
	if err != nil {
		return fmt.Errorf("encoding turn record: %w", err)
	}
	if err := a.Put(ctx, key(ObjectRecord), "application/json", rec); err != nil {
		return fmt.Errorf("archiving turn record: %w", err)
	}
	return nil
}
