package auth

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/internal"
)

// Security layers offered in the final GSSAPI negotiation (RFC 4752 section
// 3.1).
const (
	gssAuthNone      = 0x01
	gssAuthIntegrity = 0x02
	gssAuthPrivacy   = 0x04
)

// GSSContext is a client-side GSS-API security context.
type GSSContext interface {
	// Step processes the acceptor token (nil on the first call) and returns
	// the next initiator token. continueNeeded reports whether another
	// acceptor token is expected.
	Step(input []byte) (output []byte, continueNeeded bool, err error)
	// Unwrap verifies a wrap token from the acceptor and returns its payload.
	Unwrap(token []byte) ([]byte, error)
	// Wrap protects payload for integrity only.
	Wrap(payload []byte) ([]byte, error)
}

// GSSProvider creates GSS-API security contexts.
type GSSProvider interface {
	// NewContext creates a context for the service principal
	// "<service>/<host>". It fails if no usable local credentials exist.
	NewContext(service, host string) (GSSContext, error)
}

// GSSAPI is the GSSAPI mechanism (RFC 4752).
type GSSAPI struct {
	Provider GSSProvider
	// Service defaults to "imap".
	Service string
}

var _ Mechanism = (*GSSAPI)(nil)

func (*GSSAPI) Name() string { return "GSSAPI" }

func (*GSSAPI) Caps() []imapauth.Cap {
	return []imapauth.Cap{imapauth.CapAuthGSSAPI}
}

func (m *GSSAPI) Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) (Result, error) {
	const name = "GSSAPI"

	if m.Provider == nil {
		return unavailable(name, "no security context provider")
	}

	user, err := creds.ResolveUser(ctx)
	if err != nil {
		return fail(name, "cannot resolve user", err)
	}

	service := m.Service
	if service == "" {
		service = "imap"
	}
	host := creds.Account().Host
	gctx, err := m.Provider.NewContext(service, host)
	if err != nil {
		return unavailable(name, "cannot create security context for %v/%v: %v", service, host, err)
	}

	// The first token is built before anything is sent, so that missing
	// credentials make the mechanism unavailable rather than failed
	out, cont, err := gctx.Step(nil)
	if err != nil {
		return unavailable(name, "cannot initialize security context: %v", err)
	}

	st, err := ch.Exec("AUTHENTICATE GSSAPI")
	if err != nil {
		return fail(name, "", err)
	}
	if st != imapclient.StatusRespond {
		return fail(name, "invalid response from server", errors.New(serverReason(ch, st)))
	}
	if err := respond(ch, out); err != nil {
		return fail(name, "", err)
	}

	for cont {
		token, err := m.readToken(ch)
		if err != nil {
			return Failure, err
		}

		out, cont, err = gctx.Step(token)
		if err != nil {
			return abort(ch, name, "security context initialization failed", err)
		}
		if err := respond(ch, out); err != nil {
			return fail(name, "", err)
		}
	}

	// Security layer negotiation
	token, err := m.readToken(ch)
	if err != nil {
		return Failure, err
	}
	offer, err := gctx.Unwrap(token)
	if err != nil {
		return abort(ch, name, "cannot unwrap security layer offer", err)
	}
	if len(offer) != 4 {
		return abort(ch, name, "invalid security layer offer", errors.Errorf("got %d bytes", len(offer)))
	}
	if offer[0]&gssAuthNone == 0 {
		return abort(ch, name, "server requires integrity or privacy", nil)
	}

	// Accept no security layer. The buffer size only matters with a layer,
	// the offered one is echoed back.
	maxSize := binary.BigEndian.Uint32(offer) & 0xffffff
	reply := make([]byte, 4, 4+len(user))
	binary.BigEndian.PutUint32(reply, maxSize)
	reply[0] = gssAuthNone
	reply = append(reply, user...)

	wrapped, err := gctx.Wrap(reply)
	if err != nil {
		return abort(ch, name, "cannot wrap security layer reply", err)
	}
	if err := respond(ch, wrapped); err != nil {
		return fail(name, "", err)
	}

	st, err = ch.Wait()
	switch {
	case err != nil:
		return fail(name, "", err)
	case st == imapclient.StatusOK:
		return Success, nil
	case st == imapclient.StatusRespond:
		return abort(ch, name, "unexpected continuation request", nil)
	default:
		return fail(name, "error exchanging tokens", errors.New(serverReason(ch, st)))
	}
}

// readToken waits for a continuation request and decodes its payload. Any
// error is a failure, the exchange being aborted if still in progress.
func (m *GSSAPI) readToken(ch *imapclient.Channel) ([]byte, error) {
	st, err := ch.Wait()
	if err != nil {
		_, err = fail(m.Name(), "", err)
		return nil, err
	}
	if st != imapclient.StatusRespond {
		_, err = fail(m.Name(), "error receiving tokens from server", errors.New(serverReason(ch, st)))
		return nil, err
	}
	token, err := internal.DecodeSASL(ch.Text())
	if err != nil {
		_, err = abort(ch, m.Name(), "invalid token from server", err)
		return nil, err
	}
	return token, nil
}
