package policy

import (
	"regexp"
	"strings"
)

// MaxMessageRunes caps the length of a sanitized user message.
const MaxMessageRunes = 1000

var unsafeChars = regexp.MustCompile(`[<>"']`)

// Sanitize trims input, removes markup and quote characters and truncates
// the result to MaxMessageRunes characters.
func Sanitize(input string) string {
	out := unsafeChars.ReplaceAllString(strings.TrimSpace(input), "")
	return truncateRunes(out, MaxMessageRunes)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
