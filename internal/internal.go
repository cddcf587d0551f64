// Package internal contains helpers shared by the mechanism implementations.
package internal

import (
	"strings"
	"unicode"
)

// maxQuotedLen is the size above which strings are sent as literals.
const maxQuotedLen = 4096

// Quote encodes s as an IMAP quoted string. s must satisfy ValidQuoted.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' || ch == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(ch)
	}
	sb.WriteByte('"')
	return sb.String()
}

// ValidQuoted reports whether s can be sent as a quoted string. Other
// strings need a literal.
func ValidQuoted(s string) bool {
	if len(s) > maxQuotedLen {
		return false
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]

		// NUL, CR and LF are never valid
		switch ch {
		case 0, '\r', '\n':
			return false
		}

		if ch > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ValidLiteral reports whether s can be sent as a non-binary literal.
func ValidLiteral(s string) bool {
	return strings.IndexByte(s, 0) < 0
}
