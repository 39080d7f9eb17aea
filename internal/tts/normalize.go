package tts

import (
	"regexp"
	"strings"
)

var (
	markdownReplacer = strings.NewReplacer(
		"**", "", // bold
		"__", "", // underline
		"~~", "", // strikethrough
		"`", "", // inline code
		"*", "", // italic / list bullets
		"#", "", // headings
	)
	linkRegex           = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emojiRegex          = regexp.MustCompile(`[\p{So}\p{Cs}\x{FE0F}\x{200D}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)

// Normalize strips formatting that a voice should not read aloud: markdown
// markers, link targets and emoji. Whitespace runs collapse to one space.
func Normalize(text string) string {
	text = linkRegex.ReplaceAllString(text, "$1")
	text = markdownReplacer.Replace(text)
	text = emojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
