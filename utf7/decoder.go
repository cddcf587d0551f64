package utf7

import (
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

type decoder struct {
	ascii bool
}

func (d *decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for i := 0; i < len(src); i++ {
		ch := src[i]

		if ch < min || ch > max { // Illegal code point in ASCII mode
			return nDst, nSrc, ErrInvalidUTF7
		}

		if ch != '&' {
			if nDst+1 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = ch
			nDst++
			nSrc = i + 1
			d.ascii = true
			continue
		}

		// Find the end of the Base64 or "&-" segment
		start := i + 1
		for i++; i < len(src) && src[i] != '-'; i++ {
			if src[i] == '\r' || src[i] == '\n' { // base64 package ignores CR and LF
				return nDst, nSrc, ErrInvalidUTF7
			}
		}

		if i == len(src) { // Implicit shift ("&...")
			if atEOF {
				return nDst, nSrc, ErrInvalidUTF7
			}
			return nDst, nSrc, transform.ErrShortSrc
		}

		var b []byte
		ascii := true
		if i == start { // Escape sequence "&-"
			b = []byte{'&'}
		} else { // Control or non-ASCII code points in base64
			if !d.ascii { // Null shift ("&...-&...-")
				return nDst, nSrc, ErrInvalidUTF7
			}
			b = decode(src[start:i])
			ascii = false
		}

		if len(b) == 0 { // Bad encoding
			return nDst, nSrc, ErrInvalidUTF7
		}
		if nDst+len(b) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}

		nDst += copy(dst[nDst:], b)
		nSrc = i + 1
		d.ascii = ascii
	}

	if atEOF {
		d.ascii = true
	}
	return nDst, nSrc, nil
}

func (d *decoder) Reset() {
	d.ascii = true
}

// decode converts a modified Base64 block to UTF-8. It returns nil if the
// block is malformed.
func decode(b64 []byte) []byte {
	s := make([]byte, b64Enc.DecodedLen(len(b64)))
	n, err := b64Enc.Decode(s, b64)
	if err != nil || n%2 == 1 {
		return nil
	}
	s = s[:n]

	var b []byte
	for i := 0; i < len(s); i += 2 {
		r := rune(s[i])<<8 | rune(s[i+1])
		if utf16.IsSurrogate(r) {
			if i += 2; i == len(s) {
				return nil
			}
			r2 := rune(s[i])<<8 | rune(s[i+1])
			if r = utf16.DecodeRune(r, r2); r == repl {
				return nil
			}
		} else if min <= r && r <= max {
			return nil
		}
		b = utf8.AppendRune(b, r)
	}
	return b
}
