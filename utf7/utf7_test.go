package utf7_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/go-imapauth/utf7"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"", ""},
		{"INBOX", "INBOX"},
		{"a&b", "a&-b"},
		{"Entwürfe", "Entw&APw-rfe"},
		{"Éléments envoyés", "&AMk-l&AOk-ments envoy&AOk-s"},
		{"~peter/mail/台北/日本語", "~peter/mail/&U,BTFw-/&ZeVnLIqe-"},
		{"\U0001f60a", "&2D3eCg-"},
		{"\x19", "&ABk-"},
	}
	enc := utf7.Encoding.NewEncoder()
	dec := utf7.Encoding.NewDecoder()

	for _, tc := range tests {
		out, err := enc.String(tc.in)
		require.NoErrorf(t, err, "encode %+q", tc.in)
		assert.Equalf(t, tc.out, out, "encode %+q", tc.in)

		back, err := dec.String(out)
		require.NoErrorf(t, err, "decode %+q", out)
		assert.Equalf(t, tc.in, back, "decode %+q", out)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"&-abc", "&abc"},
		{"a&-b&-c", "a&b&c"},
		{"ABk-", "ABk-"},
		{"&-,&-&AP8-&-", "&,&ÿ&"},
		{"abc &- &AP8A,wD,- &- xyz", "abc & ÿÿÿ & xyz"},
		{"Sent &2D3eCg- &2D3eCw-", "Sent \U0001f60a \U0001f60b"},
	}
	dec := utf7.Encoding.NewDecoder()

	for _, tc := range tests {
		out, err := dec.String(tc.in)
		require.NoErrorf(t, err, "decode %+q", tc.in)
		assert.Equalf(t, tc.out, out, "decode %+q", tc.in)
	}
}

func TestDecoder_invalid(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"control character", "abc\n"},
		{"DEL", "abc\x7Fxyz"},
		{"raw non-ASCII", "М"},
		{"bad alphabet", "&/+8-"},
		{"CRLF in base64", "&ZeVnLIqe\r\n-"},
		{"padding", "&AAAAHw=-"},
		{"one byte short", "&2ADc-"},
		{"implicit shift", "abc&Jjo"},
		{"null shift", "&AGE-&Jjo-"},
		{"ASCII in base64", "&AGgAZQBsAGwAbw-"},
		{"lone high surrogate", "&2AA-"},
		{"reversed surrogates", "&3ADYAA-"},
	}
	dec := utf7.Encoding.NewDecoder()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := dec.String(tc.in)
			assert.Error(t, err)
			assert.Empty(t, out)
		})
	}
}
