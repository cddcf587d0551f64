package utf7

import (
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

type encoder struct{}

func (e *encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for i := 0; i < len(src); {
		ch := src[i]

		var b []byte
		if min <= ch && ch <= max {
			b = []byte{ch}
			if ch == '&' {
				b = append(b, '-')
			}
			i++
		} else {
			start := i

			// Find the next printable ASCII code point
			i++
			for i < len(src) && (src[i] < min || src[i] > max) {
				i++
			}

			if !atEOF && i == len(src) {
				return nDst, nSrc, transform.ErrShortSrc
			}

			b = encode(src[start:i])
		}

		if nDst+len(b) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}

		nDst += copy(dst[nDst:], b)
		nSrc = i
	}

	return nDst, nSrc, nil
}

func (e *encoder) Reset() {}

// encode converts a run of non-printable or non-ASCII UTF-8 to a shifted
// Base64 block, "&...-".
func encode(s []byte) []byte {
	var u []byte
	for len(s) > 0 {
		r, size := utf8.DecodeRune(s)
		s = s[size:]
		if r1, r2 := utf16.EncodeRune(r); r1 != repl {
			u = append(u, byte(r1>>8), byte(r1), byte(r2>>8), byte(r2))
		} else {
			u = append(u, byte(r>>8), byte(r))
		}
	}

	b := make([]byte, 0, 2+b64Enc.EncodedLen(len(u)))
	b = append(b, '&')
	b = b64Enc.AppendEncode(b, u)
	return append(b, '-')
}
