package phone

import (
	"strings"
	"unicode"
)

// injectionFragments are substrings stripped from message bodies as a
// defence against script payloads smuggled into downstream dashboards.
var injectionFragments = []string{
	"<script", "</script>", "javascript:", "vbscript:", "onerror=", "onload=",
}

// CleanBody trims the body, collapses runs of whitespace to a single space
// (preserving newlines), strips control characters, and removes common
// script-injection fragments. It never fails; the worst input yields "".
func CleanBody(body string) string {
	for _, frag := range injectionFragments {
		for {
			idx := foldIndex(body, frag)
			if idx < 0 {
				break
			}
			body = body[:idx] + body[idx+len(frag):]
		}
	}

	var b strings.Builder
	b.Grow(len(body))
	lastSpace := false
	for _, r := range body {
		switch {
		case r == '\n':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsControl(r):
			// drop
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// foldIndex finds an ASCII-lowercase fragment in s, comparing bytes
// case-insensitively. Byte offsets stay valid for slicing s.
func foldIndex(s, frag string) int {
	if len(frag) == 0 || len(s) < len(frag) {
		return -1
	}
	for i := 0; i+len(frag) <= len(s); i++ {
		match := true
		for j := 0; j < len(frag); j++ {
			c := s[i+j]
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != frag[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// CleanSenderID keeps only characters valid in an alphanumeric sender id or
// an E.164 number: letters, digits, a leading '+', and single spaces.
func CleanSenderID(from string) string {
	from = strings.TrimSpace(from)
	var b strings.Builder
	for i, r := range from {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
