// Package phone provides pure helpers for phone number normalization and
// SMS segment estimation. Nothing here touches the network or shared state.
package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
)

// ErrInvalidNumber is returned when a value cannot be normalized to E.164.
var ErrInvalidNumber = errors.New("invalid e164 phone number")

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{0,14}$`)

// Encoding identifies the SMS alphabet a body will be sent with.
type Encoding string

const (
	EncodingGSM7 Encoding = "gsm-7"
	EncodingUCS2 Encoding = "ucs-2"
)

// Segment limits per encoding. Multipart segments lose 7 (GSM-7) or 3
// (UCS-2) characters to the UDH concatenation header.
const (
	GSM7SingleSegment = 160
	GSM7MultiSegment  = 153
	UCS2SingleSegment = 70
	UCS2MultiSegment  = 67
)

// NormalizeE164 strips common formatting (spaces, dashes, dots, parens),
// rewrites a leading international "00" prefix to "+", and validates the
// result against E.164: "+" followed by 1-15 digits, first digit 1-9.
func NormalizeE164(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidNumber)
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// formatting noise, drop it
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidNumber, r, raw)
		}
	}

	candidate := b.String()
	if strings.HasPrefix(candidate, "00") {
		candidate = "+" + candidate[2:]
	}
	if !e164Pattern.MatchString(candidate) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return candidate, nil
}

// IsE164 reports whether the value is already a valid E.164 number.
func IsE164(value string) bool {
	return e164Pattern.MatchString(value)
}

// gsm7 holds the GSM 03.38 basic character set plus the extension table
// characters that cost an escape but remain GSM-7 encodable.
var gsm7 = func() map[rune]struct{} {
	const basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	const extension = "^{}\\[~]|€"
	set := make(map[rune]struct{}, len(basic)+len(extension))
	for _, r := range basic {
		set[r] = struct{}{}
	}
	for _, r := range extension {
		set[r] = struct{}{}
	}
	return set
}()

// gsm7Extension marks characters that occupy two septets when encoded.
var gsm7Extension = map[rune]struct{}{
	'^': {}, '{': {}, '}': {}, '\\': {}, '[': {}, '~': {}, ']': {}, '|': {}, '€': {},
}

// DetectEncoding returns GSM-7 when every rune of the body fits the GSM
// 03.38 alphabet, UCS-2 otherwise.
func DetectEncoding(body string) Encoding {
	for _, r := range body {
		if _, ok := gsm7[r]; !ok {
			return EncodingUCS2
		}
	}
	return EncodingGSM7
}

// Length returns the billable character count of a body under the given
// encoding. GSM-7 extension characters count twice; UCS-2 counts UTF-16
// code units, so astral characters count twice as well.
func Length(body string, enc Encoding) int {
	if enc == EncodingUCS2 {
		return len(utf16.Encode([]rune(body)))
	}
	n := 0
	for _, r := range body {
		n++
		if _, ok := gsm7Extension[r]; ok {
			n++
		}
	}
	return n
}

// SingleSegmentLimit is the character budget before a body spills into a
// second billed segment.
func SingleSegmentLimit(enc Encoding) int {
	if enc == EncodingUCS2 {
		return UCS2SingleSegment
	}
	return GSM7SingleSegment
}

// Segments estimates how many SMS segments the body will be billed as,
// along with the encoding used for the estimate.
func Segments(body string) (int, Encoding) {
	enc := DetectEncoding(body)
	length := Length(body, enc)
	if length == 0 {
		return 0, enc
	}

	single, multi := GSM7SingleSegment, GSM7MultiSegment
	if enc == EncodingUCS2 {
		single, multi = UCS2SingleSegment, UCS2MultiSegment
	}
	if length <= single {
		return 1, enc
	}
	return (length + multi - 1) / multi, enc
}
