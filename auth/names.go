package auth

import (
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/mailkit/go-imapauth"
)

// Options configures the mechanisms built by FromNames.
type Options struct {
	// GSSProvider enables GSSAPI. If nil, GSSAPI is always unavailable.
	GSSProvider GSSProvider
	// GSSService is the Kerberos service name, "imap" by default.
	GSSService string
	// SASLMechanisms is the preference order of the SASL mechanism.
	SASLMechanisms []string
}

// DefaultAuthenticators is the mechanism order used when none is configured.
var DefaultAuthenticators = []string{"gssapi", "oauthbearer", "xoauth2", "sasl", "login"}

// IsKnownName reports whether FromNames accepts name.
func IsKnownName(name string) bool {
	switch strings.ToLower(name) {
	case "gssapi", "oauthbearer", "xoauth2", "sasl", "login":
		return true
	}
	switch strings.ToUpper(name) {
	case sasl.Plain, sasl.Anonymous, sasl.External:
		return true
	}
	return false
}

// FromNames builds mechanisms from a list of names such as
// ["gssapi", "oauthbearer", "login"], preserving order.
//
// "login" designates the IMAP LOGIN command. The SASL mechanism names
// "plain", "anonymous" and "external" select the SASL mechanism restricted
// to that name. An empty list means DefaultAuthenticators.
func FromNames(names []string, options *Options) ([]Mechanism, error) {
	if options == nil {
		options = &Options{}
	}
	if len(names) == 0 {
		names = DefaultAuthenticators
	}

	mechs := make([]Mechanism, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "gssapi":
			mechs = append(mechs, &GSSAPI{Provider: options.GSSProvider, Service: options.GSSService})
		case "oauthbearer":
			mechs = append(mechs, NewOAuthBearer())
		case "xoauth2":
			mechs = append(mechs, NewXOAuth2())
		case "sasl":
			mechs = append(mechs, &SASL{Mechanisms: options.SASLMechanisms})
		case "login":
			mechs = append(mechs, Login{})
		default:
			if !IsKnownName(name) {
				return nil, imapauth.ConfigError("unknown authenticator %q", name)
			}
			mechs = append(mechs, &SASL{Mechanisms: []string{strings.ToUpper(name)}})
		}
	}
	return mechs, nil
}
