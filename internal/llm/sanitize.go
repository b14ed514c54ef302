package llm

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText scrubs lone surrogates and C0/C1 control characters
// (except \n and \t) from model-supplied text, substituting U+FFFD,
// per spec.md §4.8's character sanitisation rule.
func SanitizeText(value string) string {
	if value == "" {
		return ""
	}

	var b strings.Builder
	changed := false
	for _, r := range value {
		if r == utf8.RuneError || isSurrogate(r) || isDisallowedControl(r) {
			b.WriteRune('�')
			changed = true
			continue
		}
		b.WriteRune(r)
	}
	if !changed {
		return value
	}
	return b.String()
}

func isSurrogate(r rune) bool {
	return r >= 0xD800 && r <= 0xDFFF
}

func isDisallowedControl(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	if r < 0x20 {
		return true
	}
	if r >= 0x7F && r <= 0x9F {
		return true
	}
	return false
}
