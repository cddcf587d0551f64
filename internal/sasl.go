package internal

import (
	"encoding/base64"
	"strings"
)

// EncodeSASL encodes a SASL response for the wire. An empty response is
// sent as "=" (RFC 4959).
func EncodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	} else {
		return base64.StdEncoding.EncodeToString(b)
	}
}

// DecodeSASL decodes a SASL challenge received in a continuation request.
func DecodeSASL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "=" || s == "" {
		// go-sasl treats nil as no challenge/response, so return a non-nil
		// empty byte slice
		return []byte{}, nil
	} else {
		return base64.StdEncoding.DecodeString(s)
	}
}

// SASLAbort is the line a client sends to cancel an AUTHENTICATE exchange.
const SASLAbort = "*"
