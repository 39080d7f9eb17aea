package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there.", "Hello there."},
		{"bold and italic", "This is **really** *nice*.", "This is really nice."},
		{"inline code", "Run `ls` now!", "Run ls now!"},
		{"link keeps label", "See [the docs](https://example.com).", "See the docs."},
		{"emoji removed", "Great job 🎉!", "Great job !"},
		{"whitespace collapsed", "  one\n\ntwo\tthree  ", "one two three"},
		{"punctuation kept", "Wait, what? Yes!", "Wait, what? Yes!"},
		{"only formatting", "** __ ~~", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
