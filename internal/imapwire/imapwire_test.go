package imapwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		in   string
		want Line
	}{
		{
			in:   "+ YGgGCSqGSIb3EgECAgIAb1kwV6ADAgEFoQMCAQ+iSzBJoAMCAQGiQgRA\r\n",
			want: Line{Kind: LineContinuation, Text: "YGgGCSqGSIb3EgECAgIAb1kwV6ADAgEFoQMCAQ+iSzBJoAMCAQGiQgRA", Literal: -1},
		},
		{
			in:   "+\r\n",
			want: Line{Kind: LineContinuation, Literal: -1},
		},
		{
			in:   "a0001 OK AUTHENTICATE completed\r\n",
			want: Line{Kind: LineTagged, Tag: "a0001", Type: "OK", Text: "AUTHENTICATE completed", Literal: -1},
		},
		{
			in:   "a0002 no [AUTHENTICATIONFAILED] Invalid credentials",
			want: Line{Kind: LineTagged, Tag: "a0002", Type: "NO", Code: "AUTHENTICATIONFAILED", Text: "Invalid credentials", Literal: -1},
		},
		{
			in: "* OK [CAPABILITY IMAP4rev1 SASL-IR AUTH=PLAIN] Server ready\r\n",
			want: Line{
				Kind:     LineUntagged,
				Type:     "OK",
				Code:     "CAPABILITY",
				CodeArgs: "IMAP4rev1 SASL-IR AUTH=PLAIN",
				Text:     "Server ready",
				Literal:  -1,
			},
		},
		{
			in:   "* CAPABILITY IMAP4rev1 AUTH=GSSAPI\r\n",
			want: Line{Kind: LineUntagged, Type: "CAPABILITY", Text: "IMAP4rev1 AUTH=GSSAPI", Literal: -1},
		},
		{
			in:   "* 12 FETCH (BODY[] {342}\r\n",
			want: Line{Kind: LineUntagged, Type: "12 FETCH", Text: "(BODY[] {342}", Literal: 342},
		},
		{
			in:   "* OK [ALERT] quota {3}\r\n",
			want: Line{Kind: LineUntagged, Type: "OK", Code: "ALERT", Text: "quota {3}", Literal: -1},
		},
		{
			in:   "a0003 NO over quota {3}\r\n",
			want: Line{Kind: LineTagged, Tag: "a0003", Type: "NO", Text: "over quota {3}", Literal: -1},
		},
		{
			in:   "+ send {3}\r\n",
			want: Line{Kind: LineContinuation, Text: "send {3}", Literal: -1},
		},
		{
			in:   "* 3 EXISTS",
			want: Line{Kind: LineUntagged, Type: "3 EXISTS", Literal: -1},
		},
	}

	for _, tc := range tests {
		got, err := ParseLine(tc.in)
		require.NoErrorf(t, err, "ParseLine(%q)", tc.in)
		assert.Equalf(t, &tc.want, got, "ParseLine(%q)", tc.in)
	}
}

func TestParseLine_invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"\r\n",
		"garbage",
		"* ",
		"a1 OK [CAPABILITY IMAP4rev1",
		"(x) OK done",
	} {
		if _, err := ParseLine(s); err == nil {
			t.Errorf("ParseLine(%q) = nil error, want an error", s)
		}
	}
}

func TestLiteralSize(t *testing.T) {
	assert.Equal(t, int64(5), LiteralSize("a {5}"))
	assert.Equal(t, int64(12), LiteralSize("a {12+}\r\n"))
	assert.Equal(t, int64(-1), LiteralSize("a {x}"))
	assert.Equal(t, int64(-1), LiteralSize("no literal"))
}
