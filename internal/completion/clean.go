package completion

import (
	"strings"
	"unicode/utf8"
)

// PersonaName is the self-identification the model tends to prefix replies with.
const PersonaName = "daddy john"

const emptyReply = "I'm sorry, I couldn't generate a response right now."

// Clean strips a short "<persona>:" prefix and a single leading colon from a
// model reply. An empty reply becomes a fixed apology.
func Clean(text, personaName string) string {
	if text == "" {
		return emptyReply
	}

	if head, tail, ok := strings.Cut(text, ":"); ok {
		if utf8.RuneCountInString(head) < 20 && strings.Contains(strings.ToLower(head), strings.ToLower(personaName)) {
			text = strings.TrimSpace(tail)
		}
	}

	if strings.HasPrefix(text, ":") {
		text = strings.TrimSpace(text[1:])
	}
	return text
}
