package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestLogExcerptTruncatesAndRedacts(t *testing.T) {
	msg := "write to kid@example.com " + strings.Repeat("a", 300)
	got := LogExcerpt(msg)
	if strings.Contains(got, "kid@example.com") {
		t.Fatalf("LogExcerpt() leaked email: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("LogExcerpt() = %q, want ellipsis suffix", got)
	}
	if n := len([]rune(got)); n != logExcerptRunes+1 {
		t.Fatalf("LogExcerpt() rune length = %d, want %d", n, logExcerptRunes+1)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"kid@example.com": "k***@example.com",
		"no-at-sign":      "[REDACTED_EMAIL]",
		"@example.com":    "[REDACTED_EMAIL]",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
