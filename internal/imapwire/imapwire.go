// Package imapwire parses IMAP server response lines.
//
// Only the subset needed to drive tagged commands is handled: continuation
// requests, tagged status responses, untagged responses with optional
// response codes, and literal markers at the end of a line. The IMAP wire
// protocol is defined in RFC 9051 section 4.
package imapwire

import (
	"fmt"
	"strconv"
	"strings"
)

// LineKind describes the kind of a server line.
type LineKind int

const (
	LineUntagged LineKind = 1 + iota
	LineContinuation
	LineTagged
)

func (k LineKind) String() string {
	switch k {
	case LineUntagged:
		return "untagged"
	case LineContinuation:
		return "continuation"
	case LineTagged:
		return "tagged"
	default:
		return fmt.Sprintf("LineKind(%d)", int(k))
	}
}

// Line is a parsed server line, without its trailing CRLF.
type Line struct {
	Kind LineKind
	// Tag is set for tagged lines.
	Tag string
	// Type is the upper-cased first atom after the tag: a status condition
	// (OK, NO, BAD, PREAUTH, BYE) or a data type such as CAPABILITY. It is
	// empty for continuation requests.
	Type string
	// Code and CodeArgs hold an optional response code, e.g.
	// "[CAPABILITY IMAP4rev1 SASL-IR]".
	Code     string
	CodeArgs string
	// Text is the remainder of the line. For continuation requests, it
	// holds the data after "+ ".
	Text string
	// Literal is the size of a literal announced at the end of an untagged
	// data response, or -1 if there is none.
	Literal int64
}

// IsStatus reports whether the line carries a status condition.
func (l *Line) IsStatus() bool {
	switch l.Type {
	case "OK", "NO", "BAD", "PREAUTH", "BYE":
		return true
	}
	return false
}

// ParseLine parses a single server line. The trailing CRLF, if any, is
// ignored.
func ParseLine(s string) (*Line, error) {
	s = strings.TrimRight(s, "\r\n")
	line := &Line{Literal: -1}

	if s == "" {
		return nil, fmt.Errorf("imapwire: empty line")
	}

	if s[0] == '+' {
		line.Kind = LineContinuation
		line.Text = strings.TrimPrefix(s[1:], " ")
		return line, nil
	}

	var rest string
	if strings.HasPrefix(s, "* ") {
		line.Kind = LineUntagged
		rest = s[2:]
	} else {
		tag, after, ok := strings.Cut(s, " ")
		if !ok || !isAtom(tag) {
			return nil, fmt.Errorf("imapwire: invalid tag in line %q", s)
		}
		line.Kind = LineTagged
		line.Tag = tag
		rest = after
	}

	typ, rest, _ := strings.Cut(rest, " ")
	if typ == "" {
		return nil, fmt.Errorf("imapwire: missing response type in line %q", s)
	}
	// "* 23 EXISTS" carries a number before the type
	if isNumber(typ) && line.Kind == LineUntagged {
		var next string
		next, rest, _ = strings.Cut(rest, " ")
		typ = typ + " " + next
	}
	line.Type = strings.ToUpper(typ)

	if line.IsStatus() && strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("imapwire: unterminated response code in line %q", s)
		}
		code := rest[1:end]
		name, args, _ := strings.Cut(code, " ")
		line.Code = strings.ToUpper(name)
		line.CodeArgs = args
		rest = strings.TrimPrefix(rest[end+1:], " ")
	}

	line.Text = rest
	// Status responses and continuation requests end with free-form text,
	// only data responses can carry a literal
	if line.Kind == LineUntagged && !line.IsStatus() {
		line.Literal = LiteralSize(s)
	}
	return line, nil
}

// LiteralSize returns the size of a literal announced with "{N}" or "{N+}"
// at the end of s, or -1.
func LiteralSize(s string) int64 {
	s = strings.TrimRight(s, "\r\n")
	if !strings.HasSuffix(s, "}") {
		return -1
	}
	start := strings.LastIndexByte(s, '{')
	if start < 0 {
		return -1
	}
	num := strings.TrimSuffix(s[start+1:len(s)-1], "+")
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAtom(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '(', ')', '{', ' ', '%', '*', '"', '\\', ']', '+':
			return false
		default:
			if ch < 0x20 || ch == 0x7f {
				return false
			}
		}
	}
	return true
}
