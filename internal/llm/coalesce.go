package llm

import "strings"

// terminators are the characters that close a sentence-like chunk.
const terminators = ".?!"

// Coalescer buffers streamed fragments and releases them as sentence-like
// chunks. A chunk is released as soon as the accumulated text contains any
// terminator; the whole buffer is released, including text that follows the
// terminator inside the same fragment, and the buffer is then reset.
//
// The zero value is ready to use. A Coalescer is not safe for concurrent use.
type Coalescer struct {
	buf strings.Builder
}

// Push appends a fragment and returns the buffered chunk if it is now complete.
func (c *Coalescer) Push(fragment string) (string, bool) {
	c.buf.WriteString(fragment)
	if !strings.ContainsAny(c.buf.String(), terminators) {
		return "", false
	}
	chunk := c.buf.String()
	c.buf.Reset()
	return chunk, true
}

// Flush returns whatever is still buffered and resets the buffer.
// It reports false when nothing but whitespace is pending.
func (c *Coalescer) Flush() (string, bool) {
	rest := c.buf.String()
	c.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Pending returns the buffered text without consuming it.
func (c *Coalescer) Pending() string {
	return c.buf.String()
}
