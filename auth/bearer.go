package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/internal"
)

// dummyResponse is the client reply to an error challenge: a single %x01,
// base64-encoded (RFC 7628 section 3.2.3).
const dummyResponse = "AQ=="

// bearer sends an OAuth bearer token as an initial response.
type bearer struct {
	name  string
	cap   imapauth.Cap
	token func(ctx context.Context, creds *credential.Store) (string, error)
}

// NewOAuthBearer returns the OAUTHBEARER mechanism (RFC 7628). The token is
// obtained from the OAuth refresh command configured for the account type.
func NewOAuthBearer() Mechanism {
	return &bearer{
		name: "OAUTHBEARER",
		cap:  imapauth.CapAuthOAuthBearer,
		token: func(ctx context.Context, creds *credential.Store) (string, error) {
			return creds.ResolveBearerPass(ctx)
		},
	}
}

// NewXOAuth2 returns the XOAUTH2 mechanism used by Gmail and Outlook.
func NewXOAuth2() Mechanism {
	return &bearer{
		name: "XOAUTH2",
		cap:  imapauth.CapAuthXOAuth2,
		token: func(ctx context.Context, creds *credential.Store) (string, error) {
			return creds.XOAuth2Token(ctx)
		},
	}
}

func (m *bearer) Name() string { return m.name }

func (m *bearer) Caps() []imapauth.Cap {
	return []imapauth.Cap{imapauth.CapSASLIR, m.cap}
}

func (m *bearer) Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) (Result, error) {
	// Bearer tokens are only sent over a protected transport
	if ch.SecurityStrength() == 0 {
		return unavailable(m.name, "transport is not encrypted")
	}
	if caps := ch.Caps(); !caps.HasAll(m.Caps()...) {
		return unavailable(m.name, "server doesn't advertise %v", m.Caps())
	}

	if _, err := creds.ResolveLogin(ctx); err != nil {
		return fail(m.name, "cannot resolve login", err)
	}
	token, err := m.token(ctx, creds)
	if errors.Is(err, imapauth.ErrConfig) {
		return unavailable(m.name, "%v", err)
	} else if err != nil {
		return fail(m.name, "cannot obtain token", err)
	}

	if err := ch.SendSecret("AUTHENTICATE " + m.name + " " + token); err != nil {
		return fail(m.name, "", err)
	}
	st, err := ch.Wait()
	if err != nil {
		return fail(m.name, "", err)
	}

	switch st {
	case imapclient.StatusOK:
		return Success, nil
	case imapclient.StatusRespond:
		// The error is sent in a challenge, reply with a dummy response to
		// get the final tagged reply
		reason := "server rejected token"
		if b, err := internal.DecodeSASL(ch.Text()); err == nil && len(b) > 0 {
			reason += ": " + string(b)
		}
		creds.UnsetPass()
		if err := ch.SendLine(dummyResponse); err != nil {
			return fail(m.name, reason, err)
		}
		st, err := ch.Wait()
		if err == nil && st == imapclient.StatusRespond {
			_, err = ch.Abort()
		}
		return fail(m.name, reason, err)
	default:
		creds.UnsetPass()
		return fail(m.name, "", errors.New(serverReason(ch, st)))
	}
}
