package imapauth

import (
	"sort"
	"strings"
)

// Cap represents an IMAP capability.
type Cap string

// Capabilities relevant to authentication.
//
// See: https://www.iana.org/assignments/imap-capabilities/
const (
	CapIMAP4rev1 Cap = "IMAP4rev1" // RFC 3501
	CapIMAP4rev2 Cap = "IMAP4rev2" // RFC 9051

	CapStartTLS      Cap = "STARTTLS"
	CapLoginDisabled Cap = "LOGINDISABLED"
	CapSASLIR        Cap = "SASL-IR" // RFC 4959

	CapAuthPlain       Cap = "AUTH=PLAIN"
	CapAuthLogin       Cap = "AUTH=LOGIN"
	CapAuthAnonymous   Cap = "AUTH=ANONYMOUS"
	CapAuthExternal    Cap = "AUTH=EXTERNAL"
	CapAuthGSSAPI      Cap = "AUTH=GSSAPI"      // RFC 4752
	CapAuthOAuthBearer Cap = "AUTH=OAUTHBEARER" // RFC 7628
	CapAuthXOAuth2     Cap = "AUTH=XOAUTH2"
)

// AuthCap returns the capability name for an SASL authentication mechanism.
func AuthCap(mechanism string) Cap {
	return Cap("AUTH=" + strings.ToUpper(mechanism))
}

// CapSet is a set of capabilities.
type CapSet map[Cap]struct{}

// NewCapSet builds a capability set from a list of capability names.
//
// Names are stored upper-cased, except for the IMAP4revN version tokens
// which keep their canonical spelling.
func NewCapSet(names ...string) CapSet {
	set := make(CapSet, len(names))
	for _, name := range names {
		set[normalizeCap(name)] = struct{}{}
	}
	return set
}

func normalizeCap(name string) Cap {
	upper := strings.ToUpper(name)
	switch upper {
	case strings.ToUpper(string(CapIMAP4rev1)):
		return CapIMAP4rev1
	case strings.ToUpper(string(CapIMAP4rev2)):
		return CapIMAP4rev2
	}
	return Cap(upper)
}

func (set CapSet) has(c Cap) bool {
	_, ok := set[c]
	return ok
}

// Has checks whether a capability is supported.
//
// SASL-IR is folded into IMAP4rev2, so Has(CapSASLIR) is true for IMAP4rev2
// servers even if SASL-IR isn't listed.
func (set CapSet) Has(c Cap) bool {
	if set.has(c) || set.has(normalizeCap(string(c))) {
		return true
	}
	return c == CapSASLIR && set.has(CapIMAP4rev2)
}

// HasAll checks whether all of the capabilities are supported.
func (set CapSet) HasAll(caps ...Cap) bool {
	for _, c := range caps {
		if !set.Has(c) {
			return false
		}
	}
	return true
}

// AuthMechanisms returns the sorted list of supported SASL mechanisms for
// authentication.
func (set CapSet) AuthMechanisms() []string {
	var l []string
	for c := range set {
		if !strings.HasPrefix(string(c), "AUTH=") {
			continue
		}
		mech := strings.TrimPrefix(string(c), "AUTH=")
		l = append(l, mech)
	}
	sort.Strings(l)
	return l
}
