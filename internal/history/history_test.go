package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/voicerelay/internal/llm"
)

func conversation(n int) []Message {
	msgs := make([]Message, 0, n)
	for i := range n {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: string(rune('a' + i))})
	}
	return msgs
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name string
		n    int
		max  int
		want []string
	}{
		{"unbounded", 5, 0, []string{"a", "b", "c", "d", "e"}},
		{"negative is unbounded", 3, -1, []string{"a", "b", "c"}},
		{"shorter than window", 3, 10, []string{"a", "b", "c"}},
		{"trims to user start", 5, 3, []string{"c", "d", "e"}},
		{"drops leading assistant", 6, 3, []string{"e", "f"}},
		{"empty", 0, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, m := range Window(conversation(tt.n), tt.max) {
				got = append(got, m.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindow_DoesNotModifyInput(t *testing.T) {
	msgs := conversation(6)
	_ = Window(msgs, 2)
	assert.Len(t, msgs, 6)
	assert.Equal(t, "a", msgs[0].Content)
}

func TestToLLM(t *testing.T) {
	msgs := []Message{
		NewMessage(llm.RoleUser, "hi"),
		NewMessage(llm.RoleAssistant, "hello."),
	}
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello."},
	}, ToLLM(msgs))
}
